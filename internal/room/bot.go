package room

import (
	"context"
	"math"
	"time"
)

const botTickPeriod = 100 * time.Millisecond

// runBot simulates one bot participant at 10Hz using the fractional
// accumulator from spec.md §4.4.4. It owns its Player's position
// exclusively for the duration of the race (design note 9's second,
// cheaper option) -- the controller simply applies whatever absolute
// position this task reports, rather than arbitrating deltas. It
// never touches Room state directly; its only output is messages
// placed on inbox. It exits on its own once it reaches passageLen,
// or immediately if ctx is cancelled (transition out of Racing).
func runBot(ctx context.Context, name string, speedWPM float64, passageLen int, inbox chan<- msg) {
	defer func() {
		// A bug in the accumulator must not crash the Room; it only
		// ends this bot's simulation early.
		recover()
	}()

	cps := speedWPM * 5 / 60
	acc := 0.0
	pos := 0
	ticker := time.NewTicker(botTickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acc += cps * botTickPeriod.Seconds()
			advance := int(math.Floor(acc))
			if advance <= 0 {
				continue
			}
			acc -= float64(advance)
			pos += advance
			if pos > passageLen {
				pos = passageLen
			}
			finished := pos >= passageLen
			select {
			case inbox <- cmdBotProgress{name: name, pos: pos, finished: finished}:
			case <-ctx.Done():
				return
			}
			if finished {
				return
			}
		}
	}
}
