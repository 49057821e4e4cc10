// Package wpm holds the pure scoring functions shared by the room
// controller and (conceptually) the browser client -- grounded on
// shared/src/wpm.rs in the original implementation.
package wpm

// Gross returns words-per-minute with no error penalty. Undefined
// (reported as 0) when seconds <= 0.
func Gross(chars int, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return (float64(chars) / 5) / (seconds / 60)
}

// Net returns gross WPM minus an error penalty, clamped at 0.
func Net(chars int, seconds float64, errors int) float64 {
	if seconds <= 0 {
		return 0
	}
	net := Gross(chars, seconds) - float64(errors)*60/seconds
	if net < 0 {
		return 0
	}
	return net
}

// Accuracy returns the percentage of correct characters out of total.
// Supplements the distilled spec's WPM-only formulas with the metric
// the original implementation also reports on every Finish.
func Accuracy(correct, total int) float64 {
	if total <= 0 {
		return 100
	}
	return (float64(correct) / float64(total)) * 100
}
