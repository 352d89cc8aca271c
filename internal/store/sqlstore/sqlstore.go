// Package sqlstore implements store.Store on database/sql for Postgres
// (lib/pq) and SQLite (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"NeuroVault/internal/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// advisoryLockKey serializes vault writers across processes sharing one
// Postgres database. Arbitrary constant; only the vault uses it.
const advisoryLockKey int64 = 0x4e56_4c54 // "NVLT"

// Options tunes the connection pool. Zero values keep database/sql defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a SQL-backed store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	ownsDB  bool
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and returns a store. Schema migrations are not run;
// call NewMigrator(...).Up first.
func Open(ctx context.Context, dialect Dialect, dsn string, opts Options) (*Store, error) {
	if dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", dialect, err)
	}

	switch dialect {
	case SQLite:
		// One connection: SQLite allows a single writer, and in-memory
		// databases are per connection.
		db.SetMaxOpenConns(1)
	default:
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", dialect, err)
	}

	s := New(db, dialect)
	s.ownsDB = true
	return s, nil
}

// New wraps an existing handle. The caller keeps ownership of db.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the handle for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if s.dialect == Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
	}

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{tx: tx, dialect: s.dialect, now: s.now})
}

func (s *Store) Events(ctx context.Context, after int64, limit int) ([]store.EventRecord, error) {
	query := `SELECT sequence, id, topic, payload, state_hash, prev_hash, created_at
		FROM vault_events WHERE sequence > ? ORDER BY sequence ASC`
	args := []any{after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			rec       store.EventRecord
			createdAt int64
		)
		if err := rows.Scan(&rec.Sequence, &rec.ID, &rec.Topic, &rec.Payload, &rec.StateHash, &rec.PrevHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Timestamp = time.Unix(0, createdAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Cursor(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT sequence FROM vault_cursors WHERE name = ?`), name,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query cursor %s: %w", name, err)
	}
	return seq, nil
}

func (s *Store) SetCursor(ctx context.Context, name string, sequence int64) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO vault_cursors (name, sequence, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET sequence = excluded.sequence, updated_at = excluded.updated_at`),
		name, sequence, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert cursor %s: %w", name, err)
	}
	return nil
}

// Close closes the handle when the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Ping reports database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
	now     func() time.Time
}

func (t *sqlTx) Get(ctx context.Context, tier store.Tier, key string) ([]byte, bool, error) {
	table, err := tableFor(tier)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = t.tx.QueryRowContext(ctx,
		t.dialect.rebind(`SELECT value FROM `+table+` WHERE key = ?`), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", tier, key, err)
	}
	return value, true, nil
}

func (t *sqlTx) Put(ctx context.Context, tier store.Tier, key string, value []byte) error {
	table, err := tableFor(tier)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.dialect.rebind(`
		INSERT INTO `+table+` (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, nonNil(value), t.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", tier, key, err)
	}
	return nil
}

func (t *sqlTx) AppendEvent(ctx context.Context, rec store.EventRecord) error {
	var last int64
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM vault_events`,
	).Scan(&last); err != nil {
		return fmt.Errorf("query last sequence: %w", err)
	}
	if rec.Sequence != last+1 {
		return fmt.Errorf("%w: got %d, want %d", store.ErrEventSequence, rec.Sequence, last+1)
	}

	_, err := t.tx.ExecContext(ctx, t.dialect.rebind(`
		INSERT INTO vault_events (sequence, id, topic, payload, state_hash, prev_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.Sequence, rec.ID, rec.Topic, nonNil(rec.Payload), nonNil(rec.StateHash), nonNil(rec.PrevHash), rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", rec.Sequence, err)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
