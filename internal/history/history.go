package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roomhub/roomhub/internal/events"
)

// Query limits.
const (
	defaultListLimit = 50
	maxListLimit     = 200

	// pruneEvery is how many inserts pass between retention sweeps.
	pruneEvery = 100
)

// schema is the event history table. Roomhub's runtime state lives in
// memory and the JSON snapshot; this table is an append-only audit log
// of the event stream, pruned by row count.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    seq       INTEGER NOT NULL,
    timestamp TEXT    NOT NULL,
    source    TEXT    NOT NULL,
    kind      TEXT    NOT NULL,
    payload   TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, id DESC);
`

// Repository persists the event stream to SQLite for audit queries
// beyond the broadcaster's in-memory replay horizon.
//
// Thread Safety:
//   - Safe for concurrent use; SQLite serialises writers internally.
type Repository struct {
	db      *sql.DB
	maxRows int
	writes  int
}

// NewRepository creates an event history repository.
//
// Parameters:
//   - db: Open SQLite connection
//   - maxRows: Retention bound; older rows beyond it are pruned
//
// Returns:
//   - *Repository: Repository ready after Init
func NewRepository(db *sql.DB, maxRows int) *Repository {
	return &Repository{db: db, maxRows: maxRows}
}

// Init creates the events table if it does not exist.
func (r *Repository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating events table: %w", err)
	}
	return nil
}

// Record appends one event to the history log. Every pruneEvery-th
// insert also sweeps rows beyond the retention bound.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - ev: Event to persist
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Record(ctx context.Context, ev events.Event) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO events (seq, timestamp, source, kind, payload) VALUES (?, ?, ?, ?, ?)",
		ev.Seq,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Source,
		string(ev.Kind),
		string(ev.Payload),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	r.writes++
	if r.maxRows > 0 && r.writes%pruneEvery == 0 {
		if err := r.Prune(ctx); err != nil {
			return fmt.Errorf("pruning events: %w", err)
		}
	}
	return nil
}

// List returns recent events, newest first, optionally filtered by
// kind.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - kind: Event kind filter, empty for all kinds
//   - limit: Maximum entries (default 50, max 200)
//
// Returns:
//   - []events.Event: Matching events ordered newest first
//   - error: nil on success, otherwise the underlying query error
func (r *Repository) List(ctx context.Context, kind string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := "SELECT seq, timestamp, source, kind, payload FROM events"
	args := []any{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	out := make([]events.Event, 0, limit)
	for rows.Next() {
		var ev events.Event
		var ts, k, payload string
		if err := rows.Scan(&ev.Seq, &ts, &ev.Source, &k, &payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		ev.Kind = events.Kind(k)
		if payload != "" {
			ev.Payload = []byte(payload)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// Prune deletes the oldest rows beyond the retention bound.
func (r *Repository) Prune(ctx context.Context) error {
	if r.maxRows <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE id NOT IN (
		     SELECT id FROM events ORDER BY id DESC LIMIT ?
		 )`,
		r.maxRows,
	)
	if err != nil {
		return fmt.Errorf("deleting old events: %w", err)
	}
	return nil
}

// Follow consumes a broadcaster subscription and records every event
// until the context is cancelled or the subscription closes. Recording
// is best-effort: a failed insert is reported through errFn and the
// loop continues.
func (r *Repository) Follow(ctx context.Context, sub events.Subscription, errFn func(error)) {
	for _, ev := range sub.Replay {
		if err := r.Record(ctx, ev); err != nil && errFn != nil {
			errFn(err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := r.Record(ctx, ev); err != nil && errFn != nil {
				errFn(err)
			}
		}
	}
}
