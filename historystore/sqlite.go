package historystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
)

const defaultTable = "history_events"

// table names are interpolated into statements, so only plain identifiers pass
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore persists event logs in a SQLite table, one row per event.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens dsn with the modernc driver and prepares the schema.
func OpenSQLite(ctx context.Context, dsn, table string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, durable.NewError(durable.ErrInvalidConfig, "sqlite dsn is required", nil, nil)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s, err := NewSQLiteStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database. The table is created on first use
// and its name must be a plain SQL identifier.
func NewSQLiteStore(db *sql.DB, table string) (*SQLiteStore, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, durable.NewError(durable.ErrInvalidConfig,
			fmt.Sprintf("sqlite table name %q is not a plain identifier", table), nil,
			map[string]any{"table": table})
	}
	return &SQLiteStore{db: db, table: table}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, instanceID string, events ...*history.Event) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	id, err := normalizeInstanceID(instanceID)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("append", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	q := fmt.Sprintf(`SELECT COALESCE(MAX(seq) + 1, 0) FROM %s WHERE instance_id = ?`, s.table)
	if err := tx.QueryRowContext(ctx, q, id).Scan(&next); err != nil {
		return storeError("append", id, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (instance_id, seq, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`, s.table)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, ev := range events {
		if ev == nil {
			continue
		}
		stamped := stamp(ev, next)
		payload, err := json.Marshal(stamped)
		if err != nil {
			return storeError("append", id, err)
		}
		if _, err := tx.ExecContext(ctx, insert, id, next, string(stamped.Kind()), string(payload), now); err != nil {
			if isConstraintError(err) {
				return durable.NewError(durable.ErrStore,
					fmt.Sprintf("concurrent append to history of %q at seq %d", id, next), err,
					map[string]any{"instance_id": id, "seq": next, "conflict": true})
			}
			return storeError("append", id, err)
		}
		next++
	}
	if err := tx.Commit(); err != nil {
		return storeError("append", id, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, instanceID string) ([]*history.Event, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite store not configured")
	}
	id, err := normalizeInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT payload FROM %s WHERE instance_id = ? ORDER BY seq`, s.table)
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, storeError("load", id, err)
	}
	defer rows.Close()

	var out []*history.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, storeError("load", id, err)
		}
		var ev history.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, storeError("load", id, err)
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("load", id, err)
	}
	return out, nil
}

func (s *SQLiteStore) Reset(ctx context.Context, instanceID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	id, err := normalizeInstanceID(instanceID)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE instance_id = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return storeError("reset", id, err)
	}
	return nil
}

func (s *SQLiteStore) Instances(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT DISTINCT instance_id FROM %s ORDER BY instance_id`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, storeError("list", "", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("list", "", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list", "", err)
	}
	return out, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		instance_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (instance_id, seq)
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return durable.NewError(durable.ErrStore, fmt.Sprintf("create table %s: %v", s.table, err), err,
			map[string]any{"table": s.table})
	}
	return nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
