package feedback

import "errors"

// Defaults for the learning engine tuning parameters.
const (
	// DefaultHalfLifeDays is the age at which an event's recency weight
	// decays to 0.5.
	DefaultHalfLifeDays = 30.0

	// DefaultMinSamples is the hard gate below which history is ignored
	// and the base confidence stands unchanged.
	DefaultMinSamples = 3

	// DefaultFullTrustSamples is the sample count at which the observed
	// acceptance rate fully replaces the base confidence.
	DefaultFullTrustSamples = 10

	// DefaultConfidenceFloor is the lowest adjusted confidence the
	// engine will ever produce.
	DefaultConfidenceFloor = 0.20

	// DefaultTentativeBelow is the adjusted confidence under which a
	// learned value is tagged tentative.
	DefaultTentativeBelow = 0.60

	// DefaultExplicitMultiplier is how much more an explicit rating
	// weighs than an inferred accept or reject.
	DefaultExplicitMultiplier = 2.0

	// DefaultConflictGap is the relative gap to the leading choice
	// group's weighted mass under which a runner-up counts as a
	// comparable, conflicting alternative.
	DefaultConflictGap = 0.15

	// DefaultQueryLimit caps how many matched events feed one
	// adjustment.
	DefaultQueryLimit = 50
)

// Config tunes the learning engine. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// HalfLifeDays controls recency decay. Must be positive.
	HalfLifeDays float64

	// MinSamples is the minimum matched history before any adjustment.
	MinSamples int

	// FullTrustSamples is where the blend ramp reaches the observed
	// acceptance rate. Must be at least MinSamples.
	FullTrustSamples int

	// ConfidenceFloor clamps adjusted confidence from below.
	ConfidenceFloor float64

	// TentativeBelow separates user_preference_tentative from
	// user_preference.
	TentativeBelow float64

	// ExplicitMultiplier scales the weight of explicit ratings.
	ExplicitMultiplier float64

	// ConflictGap is the relative weighted-mass gap for conflict
	// detection.
	ConflictGap float64

	// QueryLimit caps matcher queries.
	QueryLimit int
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		HalfLifeDays:       DefaultHalfLifeDays,
		MinSamples:         DefaultMinSamples,
		FullTrustSamples:   DefaultFullTrustSamples,
		ConfidenceFloor:    DefaultConfidenceFloor,
		TentativeBelow:     DefaultTentativeBelow,
		ExplicitMultiplier: DefaultExplicitMultiplier,
		ConflictGap:        DefaultConflictGap,
		QueryLimit:         DefaultQueryLimit,
	}
}

// Validate rejects unusable tuning before the engine is constructed.
// Recency weighting itself has no call-time failure modes, so a bad
// half-life must be caught here.
func (c Config) Validate() error {
	if c.HalfLifeDays <= 0 {
		return ErrInvalidHalfLife
	}
	if c.MinSamples < 1 {
		return errors.New("min samples must be at least 1")
	}
	if c.FullTrustSamples < c.MinSamples {
		return errors.New("full trust samples cannot be below min samples")
	}
	if c.ConfidenceFloor < 0.0 || c.ConfidenceFloor > 1.0 {
		return errors.New("confidence floor must be between 0.0 and 1.0")
	}
	if c.TentativeBelow < 0.0 || c.TentativeBelow > 1.0 {
		return errors.New("tentative threshold must be between 0.0 and 1.0")
	}
	if c.ExplicitMultiplier < 1.0 {
		return errors.New("explicit multiplier must be at least 1.0")
	}
	if c.ConflictGap <= 0.0 || c.ConflictGap >= 1.0 {
		return errors.New("conflict gap must be between 0.0 and 1.0 exclusive")
	}
	if c.QueryLimit < 1 {
		return errors.New("query limit must be at least 1")
	}
	return nil
}
