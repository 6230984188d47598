package feedback

import (
	"math"
	"time"
)

// Adjustment is the outcome of blending a base confidence with matched
// history.
type Adjustment struct {
	// Confidence is the blended score, rounded to two decimals when an
	// adjustment was applied.
	Confidence float64 `json:"confidence"`

	// Source attributes the confidence level: default, user_preference,
	// or user_preference_tentative.
	Source Source `json:"source"`

	// SampleCount is the number of matched events considered.
	SampleCount int `json:"sample_count"`

	// AcceptanceRate is the recency-weighted acceptance rate of the
	// matched events, 0.5 when there was no usable history.
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// AdjustConfidence blends base with the recency-weighted acceptance rate
// of events as of now.
//
// Below cfg.MinSamples matched events (or when the history's total
// weight is negligible) the base confidence is returned unchanged with
// SourceDefault. This is a hard gate: one or two events are noise, not
// signal.
//
// Otherwise the blend ramps linearly with sample count:
//
//	sampleWeight = min(1, count/FullTrustSamples)
//	adjusted     = base*(1-sampleWeight) + rate*sampleWeight
//
// The result is clamped to cfg.ConfidenceFloor from below and tagged
// SourceUserPreference when it reaches cfg.TentativeBelow, otherwise
// SourceUserPreferenceTentative. Every input combination produces a
// defined result; there is no error path.
func AdjustConfidence(base float64, events []Event, now time.Time, cfg Config) Adjustment {
	rate, count := WeightedAcceptanceRate(events, now, cfg)

	if len(events) < cfg.MinSamples || count == 0 {
		return Adjustment{
			Confidence:     base,
			Source:         SourceDefault,
			SampleCount:    len(events),
			AcceptanceRate: rate,
		}
	}

	sampleWeight := math.Min(1.0, float64(count)/float64(cfg.FullTrustSamples))
	adjusted := base*(1.0-sampleWeight) + rate*sampleWeight

	if adjusted < cfg.ConfidenceFloor {
		adjusted = cfg.ConfidenceFloor
	}

	source := SourceUserPreference
	if adjusted < cfg.TentativeBelow {
		source = SourceUserPreferenceTentative
	}

	return Adjustment{
		Confidence:     round2(adjusted),
		Source:         source,
		SampleCount:    count,
		AcceptanceRate: rate,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100.0) / 100.0
}
