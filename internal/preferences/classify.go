package preferences

import "strings"

// Geometry classifications used as preference and learning keys. A part
// is bucketed by its dominant machining feature so that history for
// "aluminum pocket work" stays separate from "aluminum drilling work".
const (
	GeometrySimple      = "simple"
	GeometryHoleHeavy   = "hole-heavy"
	GeometryPocketHeavy = "pocket-heavy"
	GeometryMixed       = "mixed"
)

const (
	// minClassifiableFeatures is the feature count below which a part
	// is always "simple".
	minClassifiableFeatures = 3

	// dominanceThreshold is the fraction of features one category must
	// exceed to name the geometry after it.
	dominanceThreshold = 0.70
)

// Feature is one detected machining feature of a part. Only the type is
// needed for classification; detectors attach more detail that this
// package ignores.
type Feature struct {
	Type string `json:"type"`
}

// Classify buckets a part by its dominant feature type.
//
// Parts with fewer than three features are "simple". Features whose type
// mentions "error" are detector failures and do not count. Holes above
// the dominance threshold give "hole-heavy", pockets and slots together
// give "pocket-heavy", anything else is "mixed".
func Classify(features []Feature) string {
	if len(features) < minClassifiableFeatures {
		return GeometrySimple
	}

	var holes, pocketsSlots, total int
	for _, f := range features {
		t := strings.ToLower(f.Type)
		if strings.Contains(t, "error") {
			continue
		}
		total++
		switch t {
		case "hole":
			holes++
		case "pocket", "slot":
			pocketsSlots++
		}
	}

	if total == 0 {
		return GeometrySimple
	}
	if float64(holes)/float64(total) > dominanceThreshold {
		return GeometryHoleHeavy
	}
	if float64(pocketsSlots)/float64(total) > dominanceThreshold {
		return GeometryPocketHeavy
	}
	return GeometryMixed
}
