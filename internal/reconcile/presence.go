// Package reconcile compares fund snapshots and derives position lifecycles.
package reconcile

import (
	"github.com/shopspring/decimal"
)

// DefaultPresenceShares is the usual presence threshold: 5 lots.
const DefaultPresenceShares = 5 * 1000

// PresencePolicy decides whether a raw share count is a real position.
// Counts at or below Threshold are dust and count as absent.
type PresencePolicy struct {
	Threshold int64
}

// NewPresencePolicy returns a policy with the given threshold in shares.
func NewPresencePolicy(threshold int64) PresencePolicy {
	return PresencePolicy{Threshold: threshold}
}

// Effective returns count, or 0 when count is dust.
func (p PresencePolicy) Effective(count int64) int64 {
	return Effective(count, p.Threshold)
}

// IsPresent reports whether count is above the threshold.
func (p PresencePolicy) IsPresent(count int64) bool {
	return IsPresent(count, p.Threshold)
}

// Effective returns 0 if count <= threshold, else count.
func Effective(count, threshold int64) int64 {
	if count <= threshold {
		return 0
	}
	return count
}

// IsPresent reports whether count > threshold.
func IsPresent(count, threshold int64) bool {
	return Effective(count, threshold) > 0
}

// weightDelta returns cur-prev rounded to 4 decimal places, so that
// threshold comparisons are not thrown off by binary float noise.
func weightDelta(cur, prev float64) float64 {
	d, _ := decimal.NewFromFloat(cur).Sub(decimal.NewFromFloat(prev)).Round(4).Float64()
	return d
}

// roundWeight rounds a weight threshold the same way deltas are rounded.
func roundWeight(w float64) float64 {
	r, _ := decimal.NewFromFloat(w).Round(4).Float64()
	return r
}
