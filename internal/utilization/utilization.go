// Package utilization holds the credit utilization math shared by the
// dashboard service and its tests. Everything here is pure: no state,
// no I/O, safe for concurrent use.
package utilization

import "math"

// Band is a categorical risk label for a utilization percentage.
type Band string

const (
	Excellent Band = "excellent" // 0-9%
	Good      Band = "good"      // 10-29%
	Warning   Band = "warning"   // 30-49%
	Bad       Band = "bad"       // 50-74%
	Severe    Band = "severe"    // 75%+
)

// Percent returns the utilization of a credit account as a whole
// percentage, rounded half up (500/1000 -> 50, 95/1000 -> 10).
// A zero or negative limit means no utilization is meaningful and
// yields 0 rather than an error.
func Percent(balance, limit float64) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Floor(balance/limit*100 + 0.5))
}

// Classify maps a rounded utilization percentage to its band. Banding
// is applied to the integer percent, never the raw fraction, so a
// 9.6% account rounds to 10% and lands in Good.
func Classify(percent int) Band {
	switch {
	case percent <= 9:
		return Excellent
	case percent <= 29:
		return Good
	case percent <= 49:
		return Warning
	case percent <= 74:
		return Bad
	default:
		return Severe
	}
}

// Paydown returns the minimum payment, in whole currency units, that
// brings balance at or below limit*target. Target is a fraction, e.g.
// 0.09 for 9%. The result is rounded up: any fractional remainder
// still leaves the account over target. Returns 0 when the account is
// already compliant.
func Paydown(balance, limit, target float64) float64 {
	maxAllowed := limit * target
	if balance <= maxAllowed {
		return 0
	}
	return math.Ceil(balance - maxAllowed)
}
