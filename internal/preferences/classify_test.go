package preferences

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func features(types ...string) []Feature {
	out := make([]Feature, len(types))
	for i, t := range types {
		out[i] = Feature{Type: t}
	}
	return out
}

func TestClassify(t *testing.T) {
	t.Run("few features are simple", func(t *testing.T) {
		assert.Equal(t, GeometrySimple, Classify(nil))
		assert.Equal(t, GeometrySimple, Classify(features()))
		assert.Equal(t, GeometrySimple, Classify(features("hole", "hole")))
	})

	t.Run("dominant holes", func(t *testing.T) {
		assert.Equal(t, GeometryHoleHeavy, Classify(features("hole", "hole", "hole", "hole")))
		// 3 of 4 is 75%, above the threshold.
		assert.Equal(t, GeometryHoleHeavy, Classify(features("hole", "hole", "hole", "pocket")))
	})

	t.Run("pockets and slots count together", func(t *testing.T) {
		assert.Equal(t, GeometryPocketHeavy, Classify(features("pocket", "slot", "pocket")))
		assert.Equal(t, GeometryPocketHeavy, Classify(features("pocket", "pocket", "slot", "hole")))
	})

	t.Run("no dominant category is mixed", func(t *testing.T) {
		// 2 of 3 is about 67%, below the threshold.
		assert.Equal(t, GeometryMixed, Classify(features("hole", "hole", "pocket")))
		assert.Equal(t, GeometryMixed, Classify(features("hole", "hole", "chamfer", "fillet")))
	})

	t.Run("detector failures do not count", func(t *testing.T) {
		got := Classify(features("hole", "hole", "hole", "hole_detection_error"))
		assert.Equal(t, GeometryHoleHeavy, got)
	})

	t.Run("only failures is simple", func(t *testing.T) {
		got := Classify(features("hole_detection_error", "error", "pocket_error"))
		assert.Equal(t, GeometrySimple, got)
	})

	t.Run("type matching ignores case", func(t *testing.T) {
		assert.Equal(t, GeometryHoleHeavy, Classify(features("Hole", "HOLE", "hole")))
	})
}
