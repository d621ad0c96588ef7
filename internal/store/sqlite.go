package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

// SQLiteStore implements Store on an in-memory SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and creates the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if !isMemoryDSN(dsn) {
		return nil, fmt.Errorf("sqlite dsn %q is not in-memory; contexts must not outlive the process", dsn)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to an in-memory database sees its own copy.
	// Keep a single connection so all goroutines share the same table.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS contexts (
			connection_id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			body TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Put(ctx context.Context, id string, mc *protocol.ModelContext) error {
	body, err := encodeContext(mc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (connection_id, model_id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
			model_id = excluded.model_id,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, id, mc.ModelID, string(body), time.Now())
	if err != nil {
		return fmt.Errorf("put context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*protocol.ModelContext, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM contexts WHERE connection_id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get context: %w", err)
	}
	mc, err := decodeContext([]byte(body))
	if err != nil {
		return nil, false, err
	}
	return mc, true, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE connection_id = ?`, id); err != nil {
		return fmt.Errorf("remove context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contexts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contexts: %w", err)
	}
	return n, nil
}

// Close closes the database, discarding every context.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
