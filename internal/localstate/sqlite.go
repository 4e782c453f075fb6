package localstate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ashureev/chatdesk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a single key/value table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the client state database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// One writer is plenty for a single client process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load reads every known key.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM client_state`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query client state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap Snapshot
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Snapshot{}, fmt.Errorf("scan client state: %w", err)
		}
		switch key {
		case KeyToken:
			snap.Token = value
		case KeyGuestID:
			snap.GuestID = value
		case KeyGuestCount:
			snap.GuestCount = atoiOrZero(value)
		case KeyGuestCap:
			snap.GuestCap = atoiOrZero(value)
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate client state: %w", err)
	}
	return snap, nil
}

// SaveToken persists token, or deletes it when empty.
func (s *SQLiteStore) SaveToken(ctx context.Context, token string) error {
	return s.write(ctx, "save token", func(tx *sql.Tx, now int64) error {
		if token == "" {
			return deleteKey(ctx, tx, KeyToken)
		}
		return putKey(ctx, tx, KeyToken, token, now)
	})
}

// SaveGuest persists the counter and the learned cap in one transaction.
func (s *SQLiteStore) SaveGuest(ctx context.Context, count, limit int) error {
	return s.write(ctx, "save guest counter", func(tx *sql.Tx, now int64) error {
		if err := putKey(ctx, tx, KeyGuestCount, strconv.Itoa(count), now); err != nil {
			return err
		}
		return putKey(ctx, tx, KeyGuestCap, strconv.Itoa(limit), now)
	})
}

// SaveGuestID persists the guest identity.
func (s *SQLiteStore) SaveGuestID(ctx context.Context, id string) error {
	return s.write(ctx, "save guest id", func(tx *sql.Tx, now int64) error {
		return putKey(ctx, tx, KeyGuestID, id, now)
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close state database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, op string, fn func(tx *sql.Tx, now int64) error) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%s: begin: %w", op, err)
		}
		if err := fn(tx, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil
	})
}

func putKey(ctx context.Context, tx *sql.Tx, key, value string, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

func deleteKey(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key)
	return err
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
