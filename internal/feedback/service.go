package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome distinguishes how a confidence adjustment was produced, so
// callers can tell "learned value available" from "no learning available"
// from "learning store error (non-fatal)".
type Outcome string

const (
	// OutcomeLearned means matched history adjusted the confidence.
	OutcomeLearned Outcome = "learned"

	// OutcomeNoHistory means history was absent or below the minimum
	// sample gate; the base confidence stands.
	OutcomeNoHistory Outcome = "no_history"

	// OutcomeStoreError means the store could not be consulted; the
	// base confidence stands and the error was absorbed.
	OutcomeStoreError Outcome = "store_error"
)

// SuggestRequest asks how much to trust a generated suggestion.
type SuggestRequest struct {
	// OperationType is the suggestion category (e.g. "stock_setup").
	OperationType string

	// Material is the part material as supplied by the caller.
	Material string

	// GeometryType is the caller-supplied geometry classification.
	GeometryType string

	// BaseConfidence is the rule-based confidence of the suggestion.
	BaseConfidence float64
}

// SuggestResult is the adjusted confidence together with everything the
// caller may want to surface about it.
type SuggestResult struct {
	Adjustment

	// Outcome says whether learning was applied, skipped, or failed.
	Outcome Outcome `json:"outcome"`

	// Conflicting is true when matched history contains comparable but
	// contradictory user choices.
	Conflicting bool `json:"conflicting,omitempty"`

	// Alternatives lists the competing choice groups when Conflicting
	// is set, heaviest first.
	Alternatives []ChoiceGroup `json:"alternatives,omitempty"`

	// Notice is a one-time, user-facing message set on the first call
	// that finds enough history for this context to start learning.
	Notice string `json:"notice,omitempty"`
}

// RecordRequest captures one observed decision.
type RecordRequest struct {
	OperationType     string
	Material          string
	GeometryType      string
	ContextSnapshot   json.RawMessage
	SuggestionPayload json.RawMessage

	// UserChoice is what the user actually picked; nil means the
	// suggestion was accepted as-is.
	UserChoice json.RawMessage

	// FeedbackType may be left empty or implicit, in which case it is
	// derived from UserChoice. Explicit ratings pass through unchanged.
	FeedbackType FeedbackType

	// Note is an optional free-text rationale.
	Note string

	// ConfidenceBefore is the base confidence shown with the suggestion.
	ConfidenceBefore float64
}

// Service is the learning facade: the single entry point suggestion
// generators and decision recorders go through. Suggest-time failures
// never propagate; recording and administrative failures do.
type Service struct {
	store   Store
	matcher *Matcher
	cfg     Config
	logger  *zap.Logger

	mu       sync.Mutex
	notified map[string]bool
}

// NewService wires the matcher and adjuster behind the facade. The store
// is an injected dependency so tests can substitute MemStore.
func NewService(store Store, cfg Config, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("feedback store cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating learning config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:    store,
		matcher:  NewMatcher(store, cfg),
		cfg:      cfg,
		logger:   logger,
		notified: make(map[string]bool),
	}, nil
}

// AdjustedConfidence blends the request's base confidence with matched
// history. It never returns an error: any internal failure falls back to
// the base confidence with SourceDefault and OutcomeStoreError, because
// learning is an enhancement the suggestion flow must not depend on.
func (s *Service) AdjustedConfidence(ctx context.Context, req SuggestRequest) *SuggestResult {
	match, err := s.matcher.Match(ctx, req.OperationType, req.Material, req.GeometryType)
	if err != nil {
		s.logger.Warn("feedback lookup failed, using default confidence",
			zap.String("operation_type", req.OperationType),
			zap.String("material", req.Material),
			zap.Error(err))
		return &SuggestResult{
			Adjustment: Adjustment{
				Confidence:     req.BaseConfidence,
				Source:         SourceDefault,
				AcceptanceRate: 0.5,
			},
			Outcome: OutcomeStoreError,
		}
	}

	adj := AdjustConfidence(req.BaseConfidence, match.Events, time.Now().UTC(), s.cfg)

	result := &SuggestResult{
		Adjustment:   adj,
		Outcome:      OutcomeLearned,
		Conflicting:  match.Conflicting,
		Alternatives: match.Alternatives,
	}
	if adj.Source == SourceDefault {
		result.Outcome = OutcomeNoHistory
	}

	if adj.SampleCount >= s.cfg.MinSamples && s.firstCrossing(req) {
		result.Notice = fmt.Sprintf(
			"I noticed patterns in your preferences for %s. Future suggestions will reflect what you've chosen before.",
			NormalizeKey(req.Material))
	}

	s.logger.Debug("confidence adjusted",
		zap.String("operation_type", req.OperationType),
		zap.String("material", req.Material),
		zap.String("geometry_type", req.GeometryType),
		zap.Float64("base", req.BaseConfidence),
		zap.Float64("adjusted", adj.Confidence),
		zap.String("source", string(adj.Source)),
		zap.Int("samples", adj.SampleCount))

	return result
}

// Record classifies and persists one observed decision. Storage errors
// surface truthfully here; only the suggest path is fail-soft.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*Event, error) {
	if req.FeedbackType != "" && !req.FeedbackType.Valid() {
		return nil, ErrInvalidFeedbackType
	}

	e := &Event{
		OperationType:     req.OperationType,
		Material:          req.Material,
		GeometryType:      req.GeometryType,
		ContextSnapshot:   req.ContextSnapshot,
		SuggestionPayload: req.SuggestionPayload,
		UserChoice:        req.UserChoice,
		FeedbackType:      ClassifyFeedback(req.FeedbackType, req.UserChoice),
		FeedbackNote:      req.Note,
		ConfidenceBefore:  req.ConfidenceBefore,
	}

	if _, err := s.store.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("recording decision: %w", err)
	}

	s.logger.Info("decision recorded",
		zap.Int64("id", e.ID),
		zap.String("operation_type", e.OperationType),
		zap.String("material", e.Material),
		zap.String("feedback_type", string(e.FeedbackType)))

	return e, nil
}

// Statistics returns the unweighted audit view of recorded history,
// optionally scoped to one operation type.
func (s *Service) Statistics(ctx context.Context, operationType string) (*Statistics, error) {
	stats, err := s.store.Statistics(ctx, operationType)
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	return stats, nil
}

// Export serializes the recorded history, optionally scoped to one
// operation type.
func (s *Service) Export(ctx context.Context, format Format, operationType string) (string, error) {
	events, err := s.store.List(ctx, operationType)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	return ExportEvents(events, format)
}

// Clear deletes recorded history in the given scope. Without confirm it
// deletes nothing and returns ErrConfirmationRequired.
func (s *Service) Clear(ctx context.Context, operationType string, confirm bool) (int64, error) {
	if !confirm {
		return 0, ErrConfirmationRequired
	}

	deleted, err := s.store.Clear(ctx, operationType)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}

	scope := operationType
	if scope == "" {
		scope = "all"
	}
	s.logger.Info("feedback history cleared",
		zap.String("operation_type", scope),
		zap.Int64("deleted", deleted))

	return deleted, nil
}

// ClassifyFeedback resolves the feedback type for a recorded decision.
// Explicit ratings pass through unchanged. Implicit types are always
// derived from the user choice: an override means the suggestion was
// rejected, its absence means it was accepted as-is. The rule lives here,
// at the facade boundary, so it stays auditable independent of storage.
func ClassifyFeedback(declared FeedbackType, userChoice json.RawMessage) FeedbackType {
	if declared.Explicit() {
		return declared
	}
	if len(userChoice) > 0 {
		return FeedbackImplicitReject
	}
	return FeedbackImplicitAccept
}

// firstCrossing reports whether this context has just reached enough
// history to learn from, flipping the one-time notification flag.
func (s *Service) firstCrossing(req SuggestRequest) bool {
	key := req.OperationType + "|" + NormalizeKey(req.Material) + "|" + NormalizeKey(req.GeometryType)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified[key] {
		return false
	}
	s.notified[key] = true
	return true
}
