package feedback

import (
	"math"
	"time"
)

// minTotalWeight is the total weight under which a matched set is treated
// as having no usable history (all events far past their half-life).
const minTotalWeight = 0.01

// RecencyWeight returns the exponential decay weight for an event of the
// given age in days:
//
//	weight = exp(-ln(2) / halfLifeDays * ageDays)
//
// The weight is exactly 0.5 at the half-life and approaches 1.0 as age
// approaches zero. Future-dated events (negative age from clock skew)
// are capped at 1.0. Callers are expected to have validated the
// half-life via Config.Validate.
func RecencyWeight(ageDays, halfLifeDays float64) float64 {
	w := math.Exp(-math.Ln2 / halfLifeDays * ageDays)
	if w > 1.0 {
		return 1.0
	}
	return w
}

// EventWeight returns the recency weight of e as of now, scaled by the
// explicit multiplier when the event carries a deliberate rating.
func EventWeight(e Event, now time.Time, cfg Config) float64 {
	ageDays := now.Sub(e.CreatedAt).Hours() / 24.0
	w := RecencyWeight(ageDays, cfg.HalfLifeDays)
	if e.FeedbackType.Explicit() {
		w *= cfg.ExplicitMultiplier
	}
	return w
}

// WeightedAcceptanceRate computes the recency-weighted acceptance rate of
// events as of now.
//
// Returns (0.5, 0) for empty history and for history whose total weight
// is negligible; the zero sample count signals the adjuster to fall back
// to the default outcome rather than trusting a rate built on nothing.
// Otherwise the returned count is the number of events considered.
func WeightedAcceptanceRate(events []Event, now time.Time, cfg Config) (float64, int) {
	if len(events) == 0 {
		return 0.5, 0
	}

	var total, accepted float64
	for _, e := range events {
		w := EventWeight(e, now, cfg)
		total += w
		if e.FeedbackType.Accepted() {
			accepted += w
		}
	}

	if total < minTotalWeight {
		return 0.5, 0
	}
	return accepted / total, len(events)
}
