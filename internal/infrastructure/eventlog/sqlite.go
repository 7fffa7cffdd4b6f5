package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

// SQLiteStore is the durable single-file Store backend.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore opens (or creates) the event log database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ".data/claims-events.db"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrStoreInitFailed, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStoreInitFailed, err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS claim_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			source TEXT,
			correlation_id TEXT,
			causation_id TEXT,
			payload BLOB NOT NULL,
			meta_version INTEGER NOT NULL,
			schema_version TEXT NOT NULL,
			environment TEXT,
			UNIQUE(aggregate_id, sequence)
		);

		CREATE INDEX IF NOT EXISTS idx_claim_events_aggregate ON claim_events(aggregate_id, sequence);
		CREATE INDEX IF NOT EXISTS idx_claim_events_type ON claim_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_claim_events_timestamp ON claim_events(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrStoreInitFailed, err)
	}
	return nil
}

// Append appends a single event.
func (s *SQLiteStore) Append(ctx context.Context, event *claims.ClaimEvent) error {
	return s.AppendBatch(ctx, []*claims.ClaimEvent{event})
}

// AppendBatch appends events in one transaction: all or nothing.
func (s *SQLiteStore) AppendBatch(ctx context.Context, events []*claims.ClaimEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("event log: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO claim_events
			(id, event_type, aggregate_id, aggregate_type, sequence, timestamp,
			 source, correlation_id, causation_id, payload, meta_version, schema_version, environment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("event log: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		var current int64
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sequence), 0) FROM claim_events WHERE aggregate_id = ?
		`, event.AggregateID()).Scan(&current)
		if err != nil {
			return fmt.Errorf("event log: read sequence: %w", err)
		}
		if event.Sequence() != current+1 {
			return fmt.Errorf("%w: aggregate %s expected sequence %d, got %d",
				ErrSequenceConflict, event.AggregateID(), current+1, event.Sequence())
		}

		payload, err := claims.EncodePayload(event.Payload)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx,
			event.ID,
			string(event.Type),
			event.Metadata.AggregateID,
			event.Metadata.AggregateType,
			event.Metadata.SequenceNumber,
			event.Timestamp.UnixMilli(),
			event.Source,
			event.CorrelationID,
			event.CausationID,
			payload,
			event.Metadata.Version,
			event.Metadata.SchemaVersion,
			event.Metadata.Environment,
		); err != nil {
			return fmt.Errorf("event log: insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("event log: commit: %w", err)
	}
	return nil
}

// GetEvents returns events for an aggregate in sequence order.
func (s *SQLiteStore) GetEvents(ctx context.Context, aggregateID string, opts QueryOptions) ([]*claims.ClaimEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM claim_events WHERE aggregate_id = ?`
	args := []any{aggregateID}
	query, args = applyOptions(query, args, opts, "?")
	query += " ORDER BY sequence ASC"
	return s.query(ctx, query, args, opts.Limit)
}

// GetEventsByType returns events of one type in timestamp order.
func (s *SQLiteStore) GetEventsByType(ctx context.Context, eventType claims.ClaimEventType, opts QueryOptions) ([]*claims.ClaimEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM claim_events WHERE event_type = ?`
	args := []any{string(eventType)}
	query, args = applyOptions(query, args, opts, "?")
	query += " ORDER BY timestamp ASC, sequence ASC"
	return s.query(ctx, query, args, opts.Limit)
}

// GetLatestEvent returns the newest event for an aggregate, nil if none.
func (s *SQLiteStore) GetLatestEvent(ctx context.Context, aggregateID string) (*claims.ClaimEvent, error) {
	events, err := s.query(ctx, `SELECT `+eventColumns+`
		FROM claim_events WHERE aggregate_id = ?
		ORDER BY sequence DESC LIMIT 1`, []any{aggregateID}, 1)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// LatestSequence returns the highest sequence for an aggregate.
func (s *SQLiteStore) LatestSequence(ctx context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM claim_events WHERE aggregate_id = ?
	`, aggregateID).Scan(&seq)
	return seq, err
}

// AggregateIDs lists aggregates ordered by their first event.
func (s *SQLiteStore) AggregateIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT aggregate_id FROM claim_events
		GROUP BY aggregate_id ORDER BY MIN(timestamp), aggregate_id
	`)
	if err != nil {
		return nil, fmt.Errorf("event log: list aggregates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("event log: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

const eventColumns = `id, event_type, aggregate_id, aggregate_type, sequence, timestamp,
	source, correlation_id, causation_id, payload, meta_version, schema_version, environment`

// applyOptions appends QueryOptions predicates; placeholder is "?" for
// SQLite and "$n" positions are handled by the Postgres store itself.
func applyOptions(query string, args []any, opts QueryOptions, placeholder string) (string, []any) {
	if opts.FromSeq > 0 {
		query += " AND sequence >= " + placeholder
		args = append(args, opts.FromSeq)
	}
	if opts.ToSeq > 0 {
		query += " AND sequence <= " + placeholder
		args = append(args, opts.ToSeq)
	}
	if opts.FromDate != nil {
		query += " AND timestamp >= " + placeholder
		args = append(args, opts.FromDate.UnixMilli())
	}
	if opts.ToDate != nil {
		query += " AND timestamp <= " + placeholder
		args = append(args, opts.ToDate.UnixMilli())
	}
	return query, args
}

func (s *SQLiteStore) query(ctx context.Context, query string, args []any, limit int) ([]*claims.ClaimEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("event log: query: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents is shared by the SQLite and Postgres stores.
func scanEvents(rows *sql.Rows) ([]*claims.ClaimEvent, error) {
	events := make([]*claims.ClaimEvent, 0)
	for rows.Next() {
		var (
			id, eventType, aggregateID, aggregateType string
			sequence, timestampMs                     int64
			source, correlationID, causationID        sql.NullString
			payload                                   []byte
			metaVersion                               int
			schemaVersion                             string
			environment                               sql.NullString
		)
		if err := rows.Scan(&id, &eventType, &aggregateID, &aggregateType, &sequence,
			&timestampMs, &source, &correlationID, &causationID, &payload,
			&metaVersion, &schemaVersion, &environment); err != nil {
			return nil, fmt.Errorf("event log: scan: %w", err)
		}

		decoded, err := claims.DecodePayload(claims.ClaimEventType(eventType), payload)
		if err != nil {
			return nil, err
		}

		events = append(events, &claims.ClaimEvent{
			ID:            id,
			Type:          claims.ClaimEventType(eventType),
			Timestamp:     time.UnixMilli(timestampMs),
			Source:        source.String,
			CorrelationID: correlationID.String,
			CausationID:   causationID.String,
			Payload:       decoded,
			Metadata: claims.EventMetadata{
				Version:        metaVersion,
				SchemaVersion:  schemaVersion,
				Environment:    environment.String,
				AggregateID:    aggregateID,
				AggregateType:  aggregateType,
				SequenceNumber: sequence,
			},
		})
	}
	return events, rows.Err()
}
