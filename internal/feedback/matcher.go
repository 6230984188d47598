package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ChoiceGroup summarizes one distinct user choice within matched history.
type ChoiceGroup struct {
	// Choice is the recorded user choice. Nil means the suggestion was
	// accepted as-is, which forms its own group.
	Choice json.RawMessage `json:"choice,omitempty"`

	// Count is how many events recorded this choice.
	Count int `json:"count"`

	// MostRecent is when this choice was last recorded.
	MostRecent time.Time `json:"most_recent"`

	// Weight is the group's recency-weighted mass, explicit ratings
	// counted double.
	Weight float64 `json:"weight"`
}

// MatchResult carries the history relevant to one suggestion context.
type MatchResult struct {
	// Events is the matched history, most recent first.
	Events []Event

	// Alternatives lists the competing choice groups when the history
	// is conflicting, heaviest first. Empty when there is no conflict.
	Alternatives []ChoiceGroup

	// Conflicting is true when two or more choice groups carry
	// comparable recency-weighted mass.
	Conflicting bool
}

// Matcher retrieves history relevant to a suggestion context and flags
// contradictory past choices.
type Matcher struct {
	store Store
	cfg   Config
}

// NewMatcher creates a matcher over the given store.
func NewMatcher(store Store, cfg Config) *Matcher {
	return &Matcher{store: store, cfg: cfg}
}

// Match queries the store for the context and runs conflict detection
// over the returned events.
func (m *Matcher) Match(ctx context.Context, operationType, material, geometryType string) (*MatchResult, error) {
	events, err := m.store.Match(ctx, Query{
		OperationType: operationType,
		Material:      material,
		GeometryType:  geometryType,
		Limit:         m.cfg.QueryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("matching feedback: %w", err)
	}

	alternatives, conflicting := ConflictingChoices(events, time.Now().UTC(), m.cfg)
	return &MatchResult{
		Events:       events,
		Alternatives: alternatives,
		Conflicting:  conflicting,
	}, nil
}

// ConflictingChoices groups events by their recorded user choice and
// reports whether the history is contradictory.
//
// Each group's mass is the sum of its events' recency weights. The
// history conflicts when the runner-up group's mass is within
// cfg.ConflictGap (relative) of the leader's: the user has recently made
// comparable but different choices for the same context. On conflict all
// groups are returned heaviest first so the caller can present the
// alternatives; otherwise the result is (nil, false).
func ConflictingChoices(events []Event, now time.Time, cfg Config) ([]ChoiceGroup, bool) {
	if len(events) == 0 {
		return nil, false
	}

	groups := make(map[string]*ChoiceGroup)
	for _, e := range events {
		key := choiceKey(e.UserChoice)
		g, ok := groups[key]
		if !ok {
			g = &ChoiceGroup{Choice: e.UserChoice}
			groups[key] = g
		}
		g.Count++
		g.Weight += EventWeight(e, now, cfg)
		if e.CreatedAt.After(g.MostRecent) {
			g.MostRecent = e.CreatedAt
		}
	}

	if len(groups) <= 1 {
		return nil, false
	}

	out := make([]ChoiceGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].MostRecent.After(out[j].MostRecent)
	})

	leader := out[0].Weight
	if leader <= 0 {
		return nil, false
	}
	if (leader-out[1].Weight)/leader < cfg.ConflictGap {
		return out, true
	}
	return nil, false
}

// choiceKey canonicalizes a user choice for grouping: key order inside
// the JSON must not split one choice into two groups. Absent choices
// group under "null".
func choiceKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}
