package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// GetBotConfig returns the instructions for userID, or the global ones for "".
func (s *SQLiteStore) GetBotConfig(ctx context.Context, userID string) (*domain.BotConfig, error) {
	var cfg domain.BotConfig
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT instructions, updated_at FROM bot_configs WHERE user_id = ?`, userID,
	).Scan(&cfg.Instructions, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan bot config: %w", err)
	}
	ts := fromMillis(updatedAt)
	cfg.UpdatedAt = &ts
	return &cfg, nil
}

// SetBotConfig replaces the instructions for userID, or the global ones for "".
func (s *SQLiteStore) SetBotConfig(ctx context.Context, userID, instructions string) (*domain.BotConfig, error) {
	now := millis(time.Now())
	_, err := s.exec(ctx, "set_bot_config", `
		INSERT INTO bot_configs (user_id, instructions, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			instructions = excluded.instructions,
			updated_at = excluded.updated_at`,
		userID, instructions, now,
	)
	if err != nil {
		return nil, fmt.Errorf("set bot config: %w", err)
	}
	ts := fromMillis(now)
	return &domain.BotConfig{Instructions: instructions, UpdatedAt: &ts}, nil
}

// GuestMessageCount returns how many messages a guest has sent.
func (s *SQLiteStore) GuestMessageCount(ctx context.Context, guestID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT message_count FROM guest_usage WHERE guest_id = ?`, guestID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan guest usage: %w", err)
	}
	return n, nil
}

// IncrementGuestMessages counts one guest message and returns the new total.
func (s *SQLiteStore) IncrementGuestMessages(ctx context.Context, guestID string) (int, error) {
	var n int
	err := s.inTx(ctx, "increment_guest_messages", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO guest_usage (guest_id, message_count, updated_at) VALUES (?, 1, ?)
			ON CONFLICT(guest_id) DO UPDATE SET
				message_count = guest_usage.message_count + 1,
				updated_at = excluded.updated_at`,
			guestID, millis(time.Now()),
		); err != nil {
			return fmt.Errorf("increment guest usage: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT message_count FROM guest_usage WHERE guest_id = ?`, guestID,
		).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AddAuditLog records a gateway action.
func (s *SQLiteStore) AddAuditLog(ctx context.Context, action, userID, detail string) error {
	_, err := s.exec(ctx, "add_audit_log",
		`INSERT INTO audit_logs (action, user_id, detail, created_at) VALUES (?, ?, ?, ?)`,
		action, nullable(userID), nullable(detail), millis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns the most recent audit entries, newest first.
func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, user_id, detail, created_at
		FROM audit_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close audit log rows", "error", closeErr)
		}
	}()

	logs := []domain.AuditLog{}
	for rows.Next() {
		var l domain.AuditLog
		var userID, detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.Action, &userID, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		l.UserID = userID.String
		l.Detail = detail.String
		l.CreatedAt = fromMillis(createdAt)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return logs, nil
}

// Analytics returns usage counters.
func (s *SQLiteStore) Analytics(ctx context.Context) (*domain.Analytics, error) {
	var a domain.Analytics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_active = 1),
			(SELECT COUNT(*) FROM chats),
			(SELECT COUNT(*) FROM messages),
			(SELECT COALESCE(SUM(message_count), 0) FROM guest_usage)`,
	).Scan(&a.Users, &a.ActiveUsers, &a.Chats, &a.Messages, &a.GuestMessages)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	return &a, nil
}
