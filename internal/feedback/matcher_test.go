package feedback

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictingChoices(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UTC()

	choiceEvent := func(choice string, ageDays float64) Event {
		e := Event{
			FeedbackType: FeedbackImplicitReject,
			CreatedAt:    now.Add(-time.Duration(ageDays * 24 * float64(time.Hour))),
		}
		if choice != "" {
			e.UserChoice = json.RawMessage(choice)
			return e
		}
		e.FeedbackType = FeedbackImplicitAccept
		return e
	}

	t.Run("no events no conflict", func(t *testing.T) {
		groups, conflicting := ConflictingChoices(nil, now, cfg)
		assert.False(t, conflicting)
		assert.Empty(t, groups)
	})

	t.Run("single choice group no conflict", func(t *testing.T) {
		events := []Event{
			choiceEvent(`{"offsets_xy_mm":8.0}`, 0),
			choiceEvent(`{"offsets_xy_mm":8.0}`, 1),
		}
		groups, conflicting := ConflictingChoices(events, now, cfg)
		assert.False(t, conflicting)
		assert.Empty(t, groups)
	})

	t.Run("accepted as-is forms its own group", func(t *testing.T) {
		events := []Event{
			choiceEvent("", 0),
			choiceEvent("", 0),
			choiceEvent(`{"offsets_xy_mm":8.0}`, 0),
			choiceEvent(`{"offsets_xy_mm":8.0}`, 0),
		}
		groups, conflicting := ConflictingChoices(events, now, cfg)
		require.True(t, conflicting)
		require.Len(t, groups, 2)
		assert.Equal(t, 2, groups[0].Count)
		assert.Equal(t, 2, groups[1].Count)
	})

	t.Run("comparable mass conflicts", func(t *testing.T) {
		// Both groups fresh with equal headcount: zero relative gap.
		events := []Event{
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"pocket"}`, 0),
			choiceEvent(`{"strategy":"pocket"}`, 0),
		}
		groups, conflicting := ConflictingChoices(events, now, cfg)
		assert.True(t, conflicting)
		assert.Len(t, groups, 2)
	})

	t.Run("dominant group wins cleanly", func(t *testing.T) {
		// Four fresh picks of one choice vs a single fresh pick of
		// another: the 75% relative gap is far outside the margin.
		events := []Event{
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"pocket"}`, 0),
		}
		groups, conflicting := ConflictingChoices(events, now, cfg)
		assert.False(t, conflicting)
		assert.Empty(t, groups)
	})

	t.Run("recency can tip a headcount tie", func(t *testing.T) {
		// Two old picks of one choice vs one fresh pick of another:
		// 2 * weight(60d) = 0.5 mass loses to 1.0, and the gap is wide
		// enough to avoid a conflict flag.
		events := []Event{
			choiceEvent(`{"strategy":"adaptive"}`, 60),
			choiceEvent(`{"strategy":"adaptive"}`, 60),
			choiceEvent(`{"strategy":"pocket"}`, 0),
		}
		groups, conflicting := ConflictingChoices(events, now, cfg)
		assert.False(t, conflicting)
		assert.Empty(t, groups)
	})

	t.Run("groups sorted heaviest first on conflict", func(t *testing.T) {
		// Masses 2.0 vs 1.9 (one fresh + one slightly aged pick):
		// within the margin, so both surface, heaviest first.
		aged := now.Add(-66 * time.Hour) // weight ~0.938
		events := []Event{
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"adaptive"}`, 0),
			choiceEvent(`{"strategy":"pocket"}`, 0),
			{FeedbackType: FeedbackImplicitReject, UserChoice: json.RawMessage(`{"strategy":"pocket"}`), CreatedAt: aged},
		}
		groups, conflicting := ConflictingChoices(events, now, cfg)
		require.True(t, conflicting)
		require.Len(t, groups, 2)
		assert.JSONEq(t, `{"strategy":"adaptive"}`, string(groups[0].Choice))
		assert.Greater(t, groups[0].Weight, groups[1].Weight)
	})

	t.Run("key order does not split a choice", func(t *testing.T) {
		events := []Event{
			choiceEvent(`{"offsets_xy_mm":8.0,"stock_shape":"round"}`, 0),
			choiceEvent(`{"stock_shape":"round","offsets_xy_mm":8.0}`, 0),
		}
		groups, conflicting := ConflictingChoices(events, now, cfg)
		assert.False(t, conflicting, "reordered keys are the same choice")
		assert.Empty(t, groups)
	})
}

func TestMatcherMatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	matcher := NewMatcher(store, DefaultConfig())

	record := func(material string, choice string) {
		e := validEvent()
		e.Material = material
		if choice != "" {
			e.UserChoice = json.RawMessage(choice)
			e.FeedbackType = FeedbackImplicitReject
		}
		_, err := store.Append(ctx, e)
		require.NoError(t, err)
	}

	record("aluminum", "")
	record("6061 aluminum", "")
	record("aluminum", `{"offsets_xy_mm":8.0}`)
	record("aluminum", `{"offsets_xy_mm":8.0}`)

	t.Run("returns family-matched events with conflict analysis", func(t *testing.T) {
		res, err := matcher.Match(ctx, "stock_setup", "aluminum", "pocket-heavy")
		require.NoError(t, err)
		assert.Len(t, res.Events, 4)
		assert.True(t, res.Conflicting, "accepted-as-is vs override with equal fresh mass")
		require.Len(t, res.Alternatives, 2)
	})

	t.Run("empty history is not conflicting", func(t *testing.T) {
		res, err := matcher.Match(ctx, "stock_setup", "brass", "pocket-heavy")
		require.NoError(t, err)
		assert.Empty(t, res.Events)
		assert.False(t, res.Conflicting)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		failing := NewMatcher(&failingStore{}, DefaultConfig())
		_, err := failing.Match(ctx, "stock_setup", "aluminum", "pocket-heavy")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "matching feedback")
	})
}
