package feedback

import "context"

// Store defines the persistence contract for feedback events.
//
// Implementations must support concurrent readers and appenders without
// a reader ever observing a partially written event, and must report
// storage failures truthfully: converting an outage into "no history"
// is the Service facade's decision, never the store's.
type Store interface {
	// Append validates e, assigns its ID and CreatedAt, and writes it
	// durably before returning. Material and geometry keys are
	// normalized on the way in. A validation failure rejects the whole
	// event; there are no partial writes.
	Append(ctx context.Context, e *Event) (int64, error)

	// Match returns events matching q ordered most-recent-first, capped
	// at q.Limit. An empty result is a normal outcome meaning "no
	// history yet", not an error.
	Match(ctx context.Context, q Query) ([]Event, error)

	// List returns the full history, optionally scoped to one operation
	// type, ordered most-recent-first.
	List(ctx context.Context, operationType string) ([]Event, error)

	// Statistics aggregates unweighted acceptance counts overall and
	// per material, geometry type, and operation type. When
	// operationType is non-empty the per-operation breakdown is
	// omitted, since the whole view is already scoped to it.
	Statistics(ctx context.Context, operationType string) (*Statistics, error)

	// Clear deletes every event in the given operation type scope (all
	// events when empty) and returns the number deleted. Confirmation
	// is enforced by the Service facade, not here.
	Clear(ctx context.Context, operationType string) (int64, error)
}
