package feedback

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Common errors for feedback operations.
var (
	ErrEmptyOperationType   = errors.New("operation type cannot be empty")
	ErrEmptyMaterial        = errors.New("material cannot be empty")
	ErrEmptySuggestion      = errors.New("suggestion payload cannot be empty")
	ErrInvalidFeedbackType  = errors.New("feedback type must be implicit_accept, implicit_reject, explicit_good, or explicit_bad")
	ErrInvalidConfidence    = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidHalfLife      = errors.New("half-life must be positive")
	ErrUnknownFormat        = errors.New("export format must be csv or json")
	ErrConfirmationRequired = errors.New("confirmation required: set confirm=true to clear feedback history")
)

// FeedbackType classifies how a decision outcome was captured.
type FeedbackType string

const (
	// FeedbackImplicitAccept means the user kept the suggestion as proposed.
	FeedbackImplicitAccept FeedbackType = "implicit_accept"

	// FeedbackImplicitReject means the user overrode the suggestion with
	// their own choice.
	FeedbackImplicitReject FeedbackType = "implicit_reject"

	// FeedbackExplicitGood is a deliberate positive rating from the user.
	FeedbackExplicitGood FeedbackType = "explicit_good"

	// FeedbackExplicitBad is a deliberate negative rating from the user.
	FeedbackExplicitBad FeedbackType = "explicit_bad"
)

// Valid reports whether t is one of the four recognized feedback types.
func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackImplicitAccept, FeedbackImplicitReject, FeedbackExplicitGood, FeedbackExplicitBad:
		return true
	}
	return false
}

// Explicit reports whether t is a deliberate rating rather than one
// inferred from the user's action.
func (t FeedbackType) Explicit() bool {
	return strings.HasPrefix(string(t), "explicit_")
}

// Accepted reports whether t counts toward the acceptance side of the
// acceptance rate.
func (t FeedbackType) Accepted() bool {
	return t == FeedbackImplicitAccept || t == FeedbackExplicitGood
}

// Source explains why a confidence value has its current level.
type Source string

const (
	// SourceDefault means history was too thin to adjust the base
	// confidence, so the rule-based default stands.
	SourceDefault Source = "default"

	// SourceUserPreference means the adjusted confidence is well
	// supported by the user's history.
	SourceUserPreference Source = "user_preference"

	// SourceUserPreferenceTentative means a learned value exists but is
	// weakly supported and may still shift.
	SourceUserPreferenceTentative Source = "user_preference_tentative"
)

// Event is one recorded decision about a suggestion. Events are
// append-only and immutable once written; deletion happens only through
// an explicitly confirmed bulk clear.
type Event struct {
	// ID is assigned by the store at write time.
	ID int64 `json:"id"`

	// OperationType identifies the suggestion category this event
	// belongs to (e.g. "stock_setup", "toolpath_strategy"). History
	// from one category never influences another.
	OperationType string `json:"operation_type"`

	// Material is the normalized (lower-cased, trimmed) material key.
	Material string `json:"material"`

	// GeometryType is the normalized geometry classification supplied
	// by the caller (e.g. "pocket-heavy").
	GeometryType string `json:"geometry_type,omitempty"`

	// ContextSnapshot captures situational facts at decision time.
	// Stored verbatim and never interpreted by this package.
	ContextSnapshot json.RawMessage `json:"context_snapshot,omitempty"`

	// SuggestionPayload is the full candidate that was proposed to the
	// user, stored verbatim for audit and export.
	SuggestionPayload json.RawMessage `json:"suggestion_payload"`

	// UserChoice describes what the user actually picked. Nil means the
	// suggestion was accepted as-is.
	UserChoice json.RawMessage `json:"user_choice,omitempty"`

	// FeedbackType records how the outcome was captured.
	FeedbackType FeedbackType `json:"feedback_type"`

	// FeedbackNote is an optional free-text rationale from the user.
	FeedbackNote string `json:"feedback_note,omitempty"`

	// ConfidenceBefore is the base confidence in effect when the
	// suggestion was shown, retained for analysis.
	ConfidenceBefore float64 `json:"confidence_before"`

	// CreatedAt is assigned by the store at write time and never altered.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields a store requires before any write attempt.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.OperationType) == "" {
		return ErrEmptyOperationType
	}
	if strings.TrimSpace(e.Material) == "" {
		return ErrEmptyMaterial
	}
	if len(e.SuggestionPayload) == 0 {
		return ErrEmptySuggestion
	}
	if !e.FeedbackType.Valid() {
		return ErrInvalidFeedbackType
	}
	if e.ConfidenceBefore < 0.0 || e.ConfidenceBefore > 1.0 {
		return ErrInvalidConfidence
	}
	return nil
}

// NormalizeKey lower-cases and trims a material or geometry key so that
// "6061 Aluminum " and "6061 aluminum" share one learning pool.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Query selects events relevant to one suggestion context.
type Query struct {
	// OperationType is matched exactly.
	OperationType string

	// Material is family-matched: substring containment in either
	// direction, case-insensitive.
	Material string

	// GeometryType is matched exactly after normalization.
	GeometryType string

	// Limit caps the number of returned events, most recent first.
	// Zero means the store's default.
	Limit int
}

// ScopeStats aggregates unweighted acceptance counts for one scope.
type ScopeStats struct {
	// Key names the scope value (material, geometry type, or operation
	// type). Empty for the overall scope.
	Key string `json:"key,omitempty"`

	// Count is the number of events in the scope.
	Count int `json:"count"`

	// Accepted counts implicit_accept and explicit_good events.
	Accepted int `json:"accepted"`

	// AcceptanceRate is Accepted / Count, or 0 for an empty scope.
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// Statistics is the audit view over recorded history. Rates here are
// unweighted; the recency-weighted rate used for live adjustment is
// computed separately by WeightedAcceptanceRate.
type Statistics struct {
	// Overall covers every event in the requested scope.
	Overall ScopeStats `json:"overall"`

	// ByMaterial breaks the scope down per material, largest first.
	ByMaterial []ScopeStats `json:"by_material"`

	// ByGeometryType breaks the scope down per geometry type, largest first.
	ByGeometryType []ScopeStats `json:"by_geometry_type"`

	// ByOperationType breaks the scope down per operation type, largest
	// first. Empty when the statistics were already filtered to one
	// operation type.
	ByOperationType []ScopeStats `json:"by_operation_type"`
}
