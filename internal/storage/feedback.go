package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
)

// FeedbackStore implements feedback.Store on the SQLite database.
type FeedbackStore struct {
	db *sql.DB
}

var _ feedback.Store = (*FeedbackStore)(nil)

const feedbackColumns = `id, operation_type, material, geometry_type, context_snapshot,
	suggestion_payload, user_choice, feedback_type, feedback_note, confidence_before, created_at`

// acceptedWhen counts the feedback types on the acceptance side of the
// unweighted statistics.
const acceptedWhen = `CASE WHEN feedback_type IN ('implicit_accept', 'explicit_good') THEN 1 ELSE 0 END`

// Append validates e, assigns ID and CreatedAt, and inserts it.
func (s *FeedbackStore) Append(ctx context.Context, e *feedback.Event) (int64, error) {
	e.Material = feedback.NormalizeKey(e.Material)
	e.GeometryType = feedback.NormalizeKey(e.GeometryType)
	if err := e.Validate(); err != nil {
		return 0, err
	}
	e.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cam_feedback_history
		  (operation_type, material, geometry_type, context_snapshot,
		   suggestion_payload, user_choice, feedback_type, feedback_note,
		   confidence_before, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OperationType, e.Material, e.GeometryType, nullableJSON(e.ContextSnapshot),
		string(e.SuggestionPayload), nullableJSON(e.UserChoice), string(e.FeedbackType),
		e.FeedbackNote, e.ConfidenceBefore, e.CreatedAt.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("inserting feedback event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	e.ID = id
	return id, nil
}

// Match returns events for q, most recent first. Material matching is a
// two-way family match: the stored material may contain the queried one
// or the other way around, so "6061 aluminum" history informs "aluminum"
// queries and vice versa.
func (s *FeedbackStore) Match(ctx context.Context, q feedback.Query) ([]feedback.Event, error) {
	material := feedback.NormalizeKey(q.Material)
	geometry := feedback.NormalizeKey(q.GeometryType)
	limit := q.Limit
	if limit <= 0 {
		limit = feedback.DefaultQueryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feedbackColumns+`
		FROM cam_feedback_history
		WHERE operation_type = ?
		  AND geometry_type = ?
		  AND (material LIKE '%' || ? || '%' OR ? LIKE '%' || material || '%')
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		q.OperationType, geometry, material, material, limit)
	if err != nil {
		return nil, fmt.Errorf("querying feedback history: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// List returns all events, optionally scoped to one operation type, most
// recent first.
func (s *FeedbackStore) List(ctx context.Context, operationType string) ([]feedback.Event, error) {
	query := `SELECT ` + feedbackColumns + ` FROM cam_feedback_history`
	var args []any
	if operationType != "" {
		query += ` WHERE operation_type = ?`
		args = append(args, operationType)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feedback history: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Statistics aggregates acceptance counts with GROUP BY queries.
func (s *FeedbackStore) Statistics(ctx context.Context, operationType string) (*feedback.Statistics, error) {
	var (
		where string
		args  []any
	)
	if operationType != "" {
		where = ` WHERE operation_type = ?`
		args = []any{operationType}
	}

	stats := &feedback.Statistics{}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(`+acceptedWhen+`), 0) FROM cam_feedback_history`+where, args...)
	if err := row.Scan(&stats.Overall.Count, &stats.Overall.Accepted); err != nil {
		return nil, fmt.Errorf("aggregating feedback history: %w", err)
	}
	if stats.Overall.Count > 0 {
		stats.Overall.AcceptanceRate = float64(stats.Overall.Accepted) / float64(stats.Overall.Count)
	}

	var err error
	if stats.ByMaterial, err = s.scopeStats(ctx, "material", where, args); err != nil {
		return nil, err
	}
	if stats.ByGeometryType, err = s.scopeStats(ctx, "geometry_type", where, args); err != nil {
		return nil, err
	}
	if operationType == "" {
		if stats.ByOperationType, err = s.scopeStats(ctx, "operation_type", where, args); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// Clear deletes events in the given scope and returns the count removed.
func (s *FeedbackStore) Clear(ctx context.Context, operationType string) (int64, error) {
	query := `DELETE FROM cam_feedback_history`
	var args []any
	if operationType != "" {
		query += ` WHERE operation_type = ?`
		args = append(args, operationType)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting feedback history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return n, nil
}

func (s *FeedbackStore) scopeStats(ctx context.Context, column, where string, args []any) ([]feedback.ScopeStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) AS n, COALESCE(SUM(`+acceptedWhen+`), 0)
		 FROM cam_feedback_history`+where+`
		 GROUP BY `+column+`
		 ORDER BY n DESC, `+column+` ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating by %s: %w", column, err)
	}
	defer rows.Close()

	var out []feedback.ScopeStats
	for rows.Next() {
		var st feedback.ScopeStats
		if err := rows.Scan(&st.Key, &st.Count, &st.Accepted); err != nil {
			return nil, fmt.Errorf("scanning %s aggregate: %w", column, err)
		}
		if st.Count > 0 {
			st.AcceptanceRate = float64(st.Accepted) / float64(st.Count)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]feedback.Event, error) {
	var out []feedback.Event
	for rows.Next() {
		var (
			e         feedback.Event
			snapshot  sql.NullString
			payload   string
			choice    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.OperationType, &e.Material, &e.GeometryType,
			&snapshot, &payload, &choice, &e.FeedbackType,
			&e.FeedbackNote, &e.ConfidenceBefore, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning feedback event: %w", err)
		}

		e.SuggestionPayload = json.RawMessage(payload)
		if snapshot.Valid {
			e.ContextSnapshot = json.RawMessage(snapshot.String)
		}
		if choice.Valid {
			e.UserChoice = json.RawMessage(choice.String)
		}

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		e.CreatedAt = ts

		out = append(out, e)
	}
	return out, rows.Err()
}

// nullableJSON maps an absent JSON document to NULL so the schema keeps
// "accepted as-is" distinct from an empty object.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
