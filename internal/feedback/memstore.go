package feedback

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store implementation. It backs tests and
// serves as the fallback when persistent storage cannot be opened, so
// the engine keeps learning within a session even without a database.
type MemStore struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

// Append validates e, assigns ID and CreatedAt, and stores it.
func (s *MemStore) Append(ctx context.Context, e *Event) (int64, error) {
	e.Material = NormalizeKey(e.Material)
	e.GeometryType = NormalizeKey(e.GeometryType)
	if err := e.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID
	s.nextID++
	e.CreatedAt = time.Now().UTC()
	s.events = append(s.events, *e)
	return e.ID, nil
}

// Match returns events for q, most recent first.
func (s *MemStore) Match(ctx context.Context, q Query) ([]Event, error) {
	material := NormalizeKey(q.Material)
	geometry := NormalizeKey(q.GeometryType)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(matched) < limit; i-- {
		e := s.events[i]
		if e.OperationType != q.OperationType || e.GeometryType != geometry {
			continue
		}
		if !materialFamilyMatch(e.Material, material) {
			continue
		}
		matched = append(matched, e)
	}
	return matched, nil
}

// List returns all events, optionally scoped to one operation type, most
// recent first.
func (s *MemStore) List(ctx context.Context, operationType string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if operationType != "" && e.OperationType != operationType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Statistics aggregates acceptance counts in memory.
func (s *MemStore) Statistics(ctx context.Context, operationType string) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{}
	byMaterial := make(map[string]*ScopeStats)
	byGeometry := make(map[string]*ScopeStats)
	byOperation := make(map[string]*ScopeStats)

	for _, e := range s.events {
		if operationType != "" && e.OperationType != operationType {
			continue
		}
		accepted := e.FeedbackType.Accepted()

		stats.Overall.Count++
		if accepted {
			stats.Overall.Accepted++
		}
		bump(byMaterial, e.Material, accepted)
		bump(byGeometry, e.GeometryType, accepted)
		bump(byOperation, e.OperationType, accepted)
	}

	if stats.Overall.Count > 0 {
		stats.Overall.AcceptanceRate = float64(stats.Overall.Accepted) / float64(stats.Overall.Count)
	}
	stats.ByMaterial = sortedScopes(byMaterial)
	stats.ByGeometryType = sortedScopes(byGeometry)
	if operationType == "" {
		stats.ByOperationType = sortedScopes(byOperation)
	}
	return stats, nil
}

// Clear deletes events in the given scope and returns the count removed.
func (s *MemStore) Clear(ctx context.Context, operationType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if operationType == "" {
		n := int64(len(s.events))
		s.events = nil
		return n, nil
	}

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if e.OperationType == operationType {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

// materialFamilyMatch reports whether two normalized material keys belong
// to the same family: either contains the other, so "6061 aluminum"
// history informs "aluminum" queries and vice versa.
func materialFamilyMatch(stored, query string) bool {
	return strings.Contains(stored, query) || strings.Contains(query, stored)
}

func bump(m map[string]*ScopeStats, key string, accepted bool) {
	st, ok := m[key]
	if !ok {
		st = &ScopeStats{Key: key}
		m[key] = st
	}
	st.Count++
	if accepted {
		st.Accepted++
	}
}

func sortedScopes(m map[string]*ScopeStats) []ScopeStats {
	out := make([]ScopeStats, 0, len(m))
	for _, st := range m {
		if st.Count > 0 {
			st.AcceptanceRate = float64(st.Accepted) / float64(st.Count)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
