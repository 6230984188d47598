package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
	"github.com/fyrsmithlabs/camlearnd/internal/preferences"
)

var errStoreDown = errors.New("database is locked")

// errStore fails every operation, standing in for an unreachable
// database.
type errStore struct{}

func (errStore) Append(ctx context.Context, e *feedback.Event) (int64, error) {
	return 0, errStoreDown
}

func (errStore) Match(ctx context.Context, q feedback.Query) ([]feedback.Event, error) {
	return nil, errStoreDown
}

func (errStore) List(ctx context.Context, operationType string) ([]feedback.Event, error) {
	return nil, errStoreDown
}

func (errStore) Statistics(ctx context.Context, operationType string) (*feedback.Statistics, error) {
	return nil, errStoreDown
}

func (errStore) Clear(ctx context.Context, operationType string) (int64, error) {
	return 0, errStoreDown
}

// seedHistory appends n identical decisions for the stock_setup context
// used throughout these tests. A non-nil choice records rejections.
func seedHistory(t *testing.T, store feedback.Store, n int, choice json.RawMessage) {
	t.Helper()
	ft := feedback.FeedbackImplicitAccept
	if len(choice) > 0 {
		ft = feedback.FeedbackImplicitReject
	}
	for i := 0; i < n; i++ {
		_, err := store.Append(context.Background(), &feedback.Event{
			OperationType:     "stock_setup",
			Material:          "6061 aluminum",
			GeometryType:      "pocket-heavy",
			SuggestionPayload: json.RawMessage(`{"offsets_xy_mm":5}`),
			UserChoice:        choice,
			FeedbackType:      ft,
			ConfidenceBefore:  0.8,
		})
		require.NoError(t, err)
	}
}

func TestGetAdjustedConfidence(t *testing.T) {
	ctx := context.Background()

	t.Run("no history returns the base confidence", func(t *testing.T) {
		s, tel := newTestServer(t, feedback.NewMemStore())

		_, out, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			GeometryType:  "pocket-heavy",
		})
		require.NoError(t, err)

		assert.InDelta(t, 0.8, out.Confidence, 1e-9)
		assert.Equal(t, "default", out.Source)
		assert.Equal(t, "no_history", out.Outcome)
		assert.Zero(t, out.SampleCount)
		assert.Empty(t, out.Notice)

		tel.AssertSpanExists(t, "mcp.get_adjusted_confidence")
		tel.AssertSpanAttribute(t, "mcp.get_adjusted_confidence", "material", "6061 aluminum")
		assert.Equal(t, int64(1), tel.CounterValue(t, "camlearnd.mcp.tool.invocations_total"))
	})

	t.Run("accepted history raises the confidence", func(t *testing.T) {
		store := feedback.NewMemStore()
		seedHistory(t, store, 5, nil)
		s, _ := newTestServer(t, store)

		_, out, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			GeometryType:  "pocket-heavy",
		})
		require.NoError(t, err)

		// Five fresh accepts: rate 1.0, blend weight 5/10.
		assert.InDelta(t, 0.9, out.Confidence, 1e-9)
		assert.Equal(t, "user_preference", out.Source)
		assert.Equal(t, "learned", out.Outcome)
		assert.Equal(t, 5, out.SampleCount)
		assert.False(t, out.Conflicting)
	})

	t.Run("rejected history lowers the confidence to tentative", func(t *testing.T) {
		store := feedback.NewMemStore()
		seedHistory(t, store, 5, json.RawMessage(`{"offsets_xy_mm":8}`))
		s, _ := newTestServer(t, store)

		_, out, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			GeometryType:  "pocket-heavy",
		})
		require.NoError(t, err)

		assert.InDelta(t, 0.4, out.Confidence, 1e-9)
		assert.Equal(t, "user_preference_tentative", out.Source)
		assert.Equal(t, "learned", out.Outcome)
	})

	t.Run("learning notice appears exactly once", func(t *testing.T) {
		store := feedback.NewMemStore()
		seedHistory(t, store, 5, nil)
		s, _ := newTestServer(t, store)

		args := adjustedConfidenceInput{
			OperationType: "stock_setup",
			Material:      "6061 Aluminum",
			GeometryType:  "pocket-heavy",
		}

		_, first, err := s.handleAdjustedConfidence(ctx, nil, args)
		require.NoError(t, err)
		assert.Contains(t, first.Notice, "I noticed patterns in your preferences for 6061 aluminum")

		_, second, err := s.handleAdjustedConfidence(ctx, nil, args)
		require.NoError(t, err)
		assert.Empty(t, second.Notice)
	})

	t.Run("conflicting history reports the alternatives", func(t *testing.T) {
		store := feedback.NewMemStore()
		seedHistory(t, store, 3, json.RawMessage(`{"stock_shape":"round"}`))
		seedHistory(t, store, 3, json.RawMessage(`{"stock_shape":"rectangular"}`))
		s, _ := newTestServer(t, store)

		_, out, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			GeometryType:  "pocket-heavy",
		})
		require.NoError(t, err)

		assert.True(t, out.Conflicting)
		require.Len(t, out.Alternatives, 2)
		for _, alt := range out.Alternatives {
			assert.Equal(t, 3, alt.Count)
			assert.Contains(t, []any{"round", "rectangular"}, alt.Choice["stock_shape"])
		}
	})

	t.Run("alternatives surface the recorded choice shape", func(t *testing.T) {
		store := feedback.NewMemStore()
		s, _ := newTestServer(t, store)

		// Choices recorded through the tool are stored under the version
		// envelope; the surfaced alternatives strip it again.
		for _, shape := range []string{"round", "round", "round", "rectangular", "rectangular", "rectangular"} {
			_, _, err := s.handleRecordUserChoice(ctx, nil, recordUserChoiceInput{
				OperationType: "stock_setup",
				Material:      "6061 aluminum",
				GeometryType:  "pocket-heavy",
				Suggestion:    map[string]any{"stock_shape": "square"},
				UserChoice:    map[string]any{"stock_shape": shape},
			})
			require.NoError(t, err)
		}

		_, out, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			GeometryType:  "pocket-heavy",
		})
		require.NoError(t, err)

		assert.True(t, out.Conflicting)
		require.Len(t, out.Alternatives, 2)
		for _, alt := range out.Alternatives {
			assert.NotContains(t, alt.Choice, "schema_version")
			assert.Contains(t, []any{"round", "rectangular"}, alt.Choice["stock_shape"])
		}
	})

	t.Run("features classify geometry when geometry_type is omitted", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, out, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			Features:      []string{"hole", "hole", "hole", "hole"},
		})
		require.NoError(t, err)
		assert.Equal(t, preferences.GeometryHoleHeavy, out.GeometryType)
	})

	t.Run("store failure falls back to the base confidence", func(t *testing.T) {
		s, tel := newTestServer(t, errStore{})

		_, out, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType:  "stock_setup",
			Material:       "6061 aluminum",
			GeometryType:   "pocket-heavy",
			BaseConfidence: 0.7,
		})
		require.NoError(t, err)

		assert.InDelta(t, 0.7, out.Confidence, 1e-9)
		assert.Equal(t, "default", out.Source)
		assert.Equal(t, "store_error", out.Outcome)
		assert.Equal(t, int64(1), tel.CounterValue(t, "camlearnd.mcp.suggest.fallbacks_total"))
		assert.Zero(t, tel.CounterValue(t, "camlearnd.mcp.tool.errors_total"))
	})

	t.Run("out of range base confidence is rejected", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, _, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{
			OperationType:  "stock_setup",
			Material:       "6061 aluminum",
			BaseConfidence: 1.5,
		})
		require.ErrorIs(t, err, feedback.ErrInvalidConfidence)
	})

	t.Run("missing identifiers are rejected", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, _, err := s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{Material: "steel"})
		require.ErrorIs(t, err, feedback.ErrEmptyOperationType)

		_, _, err = s.handleAdjustedConfidence(ctx, nil, adjustedConfidenceInput{OperationType: "stock_setup"})
		require.ErrorIs(t, err, feedback.ErrEmptyMaterial)
	})
}

func TestRecordUserChoice(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted suggestion becomes implicit accept", func(t *testing.T) {
		store := feedback.NewMemStore()
		s, _ := newTestServer(t, store)

		_, out, err := s.handleRecordUserChoice(ctx, nil, recordUserChoiceInput{
			OperationType: "stock_setup",
			Material:      "6061 Aluminum",
			GeometryType:  "pocket-heavy",
			Suggestion:    map[string]any{"offsets_xy_mm": 5.0},
			Confidence:    0.8,
		})
		require.NoError(t, err)

		assert.Equal(t, "recorded", out.Status)
		assert.Equal(t, "implicit_accept", out.FeedbackType)
		assert.Equal(t, "Feedback recorded successfully", out.Message)
		assert.NotZero(t, out.ID)
		assert.Equal(t, "6061 aluminum", out.Material)

		events, err := store.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.JSONEq(t, `{"schema_version":1,"data":{"offsets_xy_mm":5}}`, string(events[0].SuggestionPayload))
		assert.Nil(t, events[0].UserChoice)
	})

	t.Run("override becomes implicit reject", func(t *testing.T) {
		store := feedback.NewMemStore()
		s, _ := newTestServer(t, store)

		_, out, err := s.handleRecordUserChoice(ctx, nil, recordUserChoiceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			GeometryType:  "pocket-heavy",
			Suggestion:    map[string]any{"offsets_xy_mm": 5.0},
			UserChoice:    map[string]any{"offsets_xy_mm": 8.0},
		})
		require.NoError(t, err)
		assert.Equal(t, "implicit_reject", out.FeedbackType)

		events, err := store.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.JSONEq(t, `{"schema_version":1,"data":{"offsets_xy_mm":8}}`, string(events[0].UserChoice))
	})

	t.Run("explicit rating passes through", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, out, err := s.handleRecordUserChoice(ctx, nil, recordUserChoiceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			Suggestion:    map[string]any{"offsets_xy_mm": 5.0},
			UserChoice:    map[string]any{"offsets_xy_mm": 8.0},
			FeedbackType:  "explicit_good",
			Note:          "good call despite the tweak",
		})
		require.NoError(t, err)
		assert.Equal(t, "explicit_good", out.FeedbackType)
	})

	t.Run("geometry derived from features is stored", func(t *testing.T) {
		store := feedback.NewMemStore()
		s, _ := newTestServer(t, store)

		_, out, err := s.handleRecordUserChoice(ctx, nil, recordUserChoiceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			Features:      []string{"pocket", "pocket", "slot", "hole"},
			Suggestion:    map[string]any{"offsets_xy_mm": 5.0},
		})
		require.NoError(t, err)
		assert.Equal(t, preferences.GeometryPocketHeavy, out.GeometryType)

		events, err := store.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, preferences.GeometryPocketHeavy, events[0].GeometryType)
	})

	t.Run("invalid feedback type is rejected", func(t *testing.T) {
		s, tel := newTestServer(t, feedback.NewMemStore())

		_, _, err := s.handleRecordUserChoice(ctx, nil, recordUserChoiceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
			Suggestion:    map[string]any{"offsets_xy_mm": 5.0},
			FeedbackType:  "thumbs_up",
		})
		require.ErrorIs(t, err, feedback.ErrInvalidFeedbackType)
		assert.Equal(t, int64(1), tel.CounterValue(t, "camlearnd.mcp.tool.errors_total"))
	})

	t.Run("missing suggestion is rejected", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, _, err := s.handleRecordUserChoice(ctx, nil, recordUserChoiceInput{
			OperationType: "stock_setup",
			Material:      "6061 aluminum",
		})
		require.ErrorIs(t, err, feedback.ErrEmptySuggestion)
	})
}

func TestGetFeedbackStats(t *testing.T) {
	ctx := context.Background()
	store := feedback.NewMemStore()
	seedHistory(t, store, 3, nil)
	seedHistory(t, store, 1, json.RawMessage(`{"offsets_xy_mm":8}`))
	s, _ := newTestServer(t, store)

	t.Run("unscoped stats cover everything", func(t *testing.T) {
		_, out, err := s.handleFeedbackStats(ctx, nil, feedbackStatsInput{})
		require.NoError(t, err)

		assert.Equal(t, 4, out.Overall.Count)
		assert.Equal(t, 3, out.Overall.Accepted)
		assert.InDelta(t, 0.75, out.Overall.AcceptanceRate, 1e-9)
		require.Len(t, out.ByMaterial, 1)
		assert.Equal(t, "6061 aluminum", out.ByMaterial[0].Key)
		require.Len(t, out.ByOperationType, 1)
	})

	t.Run("scoped stats omit the operation breakdown", func(t *testing.T) {
		_, out, err := s.handleFeedbackStats(ctx, nil, feedbackStatsInput{OperationType: "stock_setup"})
		require.NoError(t, err)

		assert.Equal(t, 4, out.Overall.Count)
		assert.Empty(t, out.ByOperationType)
	})

	t.Run("storage failure surfaces as a tool error", func(t *testing.T) {
		s, _ := newTestServer(t, errStore{})

		_, _, err := s.handleFeedbackStats(ctx, nil, feedbackStatsInput{})
		require.ErrorIs(t, err, errStoreDown)
	})
}

func TestExportFeedbackHistory(t *testing.T) {
	ctx := context.Background()
	store := feedback.NewMemStore()
	seedHistory(t, store, 2, nil)
	s, _ := newTestServer(t, store)

	t.Run("defaults to the structured json document", func(t *testing.T) {
		_, out, err := s.handleExportHistory(ctx, nil, exportHistoryInput{})
		require.NoError(t, err)

		assert.Equal(t, "success", out.Status)
		assert.Equal(t, "json", out.Format)

		var doc feedback.ExportDocument
		require.NoError(t, json.Unmarshal([]byte(out.Data), &doc))
		assert.Equal(t, 2, doc.EventCount)
		assert.NotEmpty(t, doc.ExportID)
	})

	t.Run("csv carries the full column set", func(t *testing.T) {
		_, out, err := s.handleExportHistory(ctx, nil, exportHistoryInput{Format: "csv"})
		require.NoError(t, err)

		assert.Equal(t, "csv", out.Format)
		assert.Contains(t, out.Data, "id,operation_type,material,geometry_type")
		assert.Contains(t, out.Data, "implicit_accept")
	})

	t.Run("unknown format is rejected", func(t *testing.T) {
		_, _, err := s.handleExportHistory(ctx, nil, exportHistoryInput{Format: "xml"})
		require.ErrorIs(t, err, feedback.ErrUnknownFormat)
	})
}

func TestClearFeedbackHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses without confirmation", func(t *testing.T) {
		store := feedback.NewMemStore()
		seedHistory(t, store, 3, nil)
		s, _ := newTestServer(t, store)

		_, _, err := s.handleClearHistory(ctx, nil, clearHistoryInput{})
		require.ErrorIs(t, err, feedback.ErrConfirmationRequired)

		events, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("confirmed clear reports the scope and count", func(t *testing.T) {
		store := feedback.NewMemStore()
		seedHistory(t, store, 3, nil)
		s, _ := newTestServer(t, store)

		_, out, err := s.handleClearHistory(ctx, nil, clearHistoryInput{
			OperationType: "stock_setup",
			Confirm:       true,
		})
		require.NoError(t, err)

		assert.Equal(t, "success", out.Status)
		assert.Equal(t, int64(3), out.DeletedCount)
		assert.Equal(t, "stock_setup", out.OperationType)
	})

	t.Run("empty scope clears everything", func(t *testing.T) {
		store := feedback.NewMemStore()
		seedHistory(t, store, 2, nil)
		s, _ := newTestServer(t, store)

		_, out, err := s.handleClearHistory(ctx, nil, clearHistoryInput{Confirm: true})
		require.NoError(t, err)
		assert.Equal(t, "all", out.OperationType)
		assert.Equal(t, int64(2), out.DeletedCount)

		events, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestStockPreferenceTools(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults when nothing is stored", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, out, err := s.handleGetStockPreference(ctx, nil, stockPreferenceInput{
			Material:     "6061 aluminum",
			GeometryType: "pocket-heavy",
		})
		require.NoError(t, err)

		assert.Equal(t, "default", out.Source)
		assert.InDelta(t, preferences.DefaultOffsetXYMM, out.OffsetsXYMM, 1e-9)
		assert.InDelta(t, preferences.DefaultOffsetZMM, out.OffsetsZMM, 1e-9)
		assert.Equal(t, preferences.DefaultStockShape, out.StockShape)
	})

	t.Run("save then get round-trips with normalization", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, saved, err := s.handleSaveStockPreference(ctx, nil, saveStockPreferenceInput{
			Material:     "6061 Aluminum",
			GeometryType: "Pocket-Heavy",
			OffsetsXYMM:  8,
			OffsetsZMM:   3,
			StockShape:   "round",
		})
		require.NoError(t, err)
		assert.Equal(t, "saved", saved.Status)
		assert.Equal(t, "6061 aluminum", saved.Material)
		assert.Equal(t, "pocket-heavy", saved.GeometryType)

		_, out, err := s.handleGetStockPreference(ctx, nil, stockPreferenceInput{
			Material:     "6061 aluminum",
			GeometryType: "pocket-heavy",
		})
		require.NoError(t, err)
		assert.Equal(t, "user_preference", out.Source)
		assert.InDelta(t, 8, out.OffsetsXYMM, 1e-9)
		assert.InDelta(t, 3, out.OffsetsZMM, 1e-9)
		assert.Equal(t, "round", out.StockShape)
	})

	t.Run("partial save falls back to built-in sizing", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, _, err := s.handleSaveStockPreference(ctx, nil, saveStockPreferenceInput{
			Material:     "steel",
			GeometryType: "simple",
			OffsetsXYMM:  7,
		})
		require.NoError(t, err)

		_, out, err := s.handleGetStockPreference(ctx, nil, stockPreferenceInput{
			Material:     "steel",
			GeometryType: "simple",
		})
		require.NoError(t, err)
		assert.InDelta(t, 7, out.OffsetsXYMM, 1e-9)
		assert.InDelta(t, preferences.DefaultOffsetZMM, out.OffsetsZMM, 1e-9)
		assert.Equal(t, preferences.DefaultStockShape, out.StockShape)
	})

	t.Run("features classify the preference key", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, out, err := s.handleGetStockPreference(ctx, nil, stockPreferenceInput{
			Material: "6061 aluminum",
			Features: []string{"hole", "hole", "hole", "hole"},
		})
		require.NoError(t, err)
		assert.Equal(t, preferences.GeometryHoleHeavy, out.GeometryType)
	})

	t.Run("missing geometry is rejected", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, _, err := s.handleGetStockPreference(ctx, nil, stockPreferenceInput{Material: "6061 aluminum"})
		require.ErrorIs(t, err, preferences.ErrEmptyGeometryType)
	})

	t.Run("negative offsets are rejected on save", func(t *testing.T) {
		s, _ := newTestServer(t, feedback.NewMemStore())

		_, _, err := s.handleSaveStockPreference(ctx, nil, saveStockPreferenceInput{
			Material:     "steel",
			GeometryType: "simple",
			OffsetsXYMM:  -1,
		})
		require.ErrorIs(t, err, preferences.ErrNegativeOffset)
	})
}
