// Package persistence stores indexed entities and the applied-event log in
// Postgres or SQLite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"PoolIndexer/internal/state"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is a database/sql driver name.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Open connects and pings a database.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, nil
}

// SQLStore implements state.EntityStore on a generic entities table.
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	indexerID string
}

func NewSQLStore(db *sql.DB, dialect Dialect, indexerID string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, indexerID: indexerID}
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// q rewrites $N placeholders to ?N for SQLite.
func (s *SQLStore) q(query string) string {
	if s.dialect == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func (s *SQLStore) Get(ctx context.Context, kind state.Kind, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT data FROM entities WHERE entity_type = $1 AND id = $2`),
		string(kind), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	return data, nil
}

// List returns up to limit entities of a kind ordered by id.
func (s *SQLStore) List(ctx context.Context, kind state.Kind, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT data FROM entities WHERE entity_type = $1 ORDER BY id LIMIT $2`),
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// Apply upserts every write and inserts the event-log row in one
// transaction. A second commit of the same event key fails on the
// unique index and nothing is written.
func (s *SQLStore) Apply(ctx context.Context, batch *state.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if batch.Event != nil {
		seq = batch.Event.Sequence
	}

	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO entities (entity_type, id, data, updated_seq)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, id) DO UPDATE
		SET data = excluded.data, updated_seq = excluded.updated_seq
	`))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, w := range batch.Writes {
		if _, err := stmt.ExecContext(ctx, string(w.Kind), w.ID, string(w.Data), seq); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", w.Kind, w.ID, err)
		}
	}

	if rec := batch.Event; rec != nil {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO event_log (
				sequence, idempotency_key, event_type, tx_hash,
				block_number, log_index, state_hash, prev_hash, indexer_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`),
			rec.Sequence, rec.Key, rec.EventType, rec.TxHash,
			int64(rec.Block), int64(rec.LogIndex), rec.StateHash, rec.PrevHash, s.indexerID,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) HasEvent(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT 1 FROM event_log WHERE idempotency_key = $1 LIMIT 1`), key,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) LastEvent(ctx context.Context) (*state.EventRecord, error) {
	var (
		rec             state.EventRecord
		block, logIndex int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, idempotency_key, event_type, tx_hash,
		       block_number, log_index, state_hash, prev_hash
		FROM event_log
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&rec.Sequence, &rec.Key, &rec.EventType, &rec.TxHash,
		&block, &logIndex, &rec.StateHash, &rec.PrevHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last event: %w", err)
	}
	rec.Block = uint64(block)
	rec.LogIndex = uint64(logIndex)
	return &rec, nil
}

// Events returns up to limit event-log rows with sequence > after.
func (s *SQLStore) Events(ctx context.Context, after int64, limit int) ([]state.EventRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT sequence, idempotency_key, event_type, tx_hash,
		       block_number, log_index, state_hash, prev_hash
		FROM event_log
		WHERE sequence > $1
		ORDER BY sequence
		LIMIT $2
	`), after, limit)
	if err != nil {
		return nil, fmt.Errorf("events after %d: %w", after, err)
	}
	defer rows.Close()

	var out []state.EventRecord
	for rows.Next() {
		var (
			rec             state.EventRecord
			block, logIndex int64
		)
		if err := rows.Scan(&rec.Sequence, &rec.Key, &rec.EventType, &rec.TxHash,
			&block, &logIndex, &rec.StateHash, &rec.PrevHash); err != nil {
			return nil, err
		}
		rec.Block = uint64(block)
		rec.LogIndex = uint64(logIndex)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentEventKeys returns up to n of the most recently applied keys,
// newest first.
func (s *SQLStore) RecentEventKeys(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT idempotency_key FROM event_log ORDER BY sequence DESC LIMIT $1`), n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ping reports whether the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
