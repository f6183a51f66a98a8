package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and column types.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// ParseDialect maps a configured driver name to a dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// SQLStore keeps every record in one table; expiry is a column checked on
// read and swept by Prune.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore creates the state table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate vault_state: %w", err)
	}
	return s, nil
}

// WithClock overrides the clock used for expiry (for testing).
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == DialectPostgres {
		blob = "BYTEA"
	}
	query := `
	CREATE TABLE IF NOT EXISTS vault_state (
		k TEXT PRIMARY KEY,
		tier INTEGER NOT NULL,
		v ` + blob + ` NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT v, expires_at FROM vault_state WHERE k = ?"), key.String())
	var (
		value     []byte
		expiresAt int64
	)
	err := row.Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if expiresAt != 0 && expiresAt <= s.now().Unix() {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key Key, value []byte) error {
	return s.set(ctx, s.db, key, value)
}

func (s *SQLStore) Remove(ctx context.Context, key Key) error {
	return s.remove(ctx, s.db, key)
}

func (s *SQLStore) Touch(ctx context.Context, key Key) error {
	return s.touch(ctx, s.db, key)
}

func (s *SQLStore) Apply(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range b.Ops() {
		switch op.Kind {
		case OpSet:
			err = s.set(ctx, tx, op.Key, op.Value)
		case OpRemove:
			err = s.remove(ctx, tx, op.Key)
		case OpTouch:
			err = s.touch(ctx, tx, op.Key)
		}
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

// Prune deletes lapsed rows and returns how many were removed.
func (s *SQLStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM vault_state WHERE expires_at <> 0 AND expires_at <= ?"), s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune vault_state: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) set(ctx context.Context, ex execer, key Key, value []byte) error {
	query := `
		INSERT INTO vault_state (k, tier, v, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (k) DO UPDATE SET
			v = EXCLUDED.v,
			expires_at = EXCLUDED.expires_at
	`
	_, err := ex.ExecContext(ctx, s.rebind(query), key.String(), int(key.Tier()), value, s.expiry(key))
	if err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) remove(ctx context.Context, ex execer, key Key) error {
	_, err := ex.ExecContext(ctx, s.rebind("DELETE FROM vault_state WHERE k = ?"), key.String())
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) touch(ctx context.Context, ex execer, key Key) error {
	if key.TTL() == 0 {
		return nil
	}
	_, err := ex.ExecContext(ctx, s.rebind("UPDATE vault_state SET expires_at = ? WHERE k = ? AND expires_at > ?"),
		s.expiry(key), key.String(), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to touch %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) expiry(key Key) int64 {
	if ttl := key.TTL(); ttl > 0 {
		return s.now().Add(ttl).Unix()
	}
	return 0
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
