// Package logging wires up the zap.SugaredLogger every other package
// takes as a dependency. The teacher's go.mod already carries
// go.uber.org/zap (and its go.uber.org/multierr transitive), left
// unwired in lol-draft-backend; here it is the one logging stack used
// end to end, in place of the original's tracing/info!/warn! calls.
package logging

import "go.uber.org/zap"

// New builds a production JSON logger for normal operation, or a
// development console logger when dev is true (readable timestamps,
// stack traces on Warn+, matching zap's own NewDevelopment defaults).
func New(dev bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
