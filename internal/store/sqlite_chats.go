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

// CreateChat inserts an empty chat owned by owner.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *domain.ChatDetail, owner Owner) error {
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}

	_, err := s.exec(ctx, "create_chat", `
		INSERT INTO chats (chat_id, user_id, guest_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, nullable(owner.UserID), nullable(owner.GuestID), chat.Title,
		millis(chat.CreatedAt), millis(chat.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat with its messages in insertion order.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*ChatRecord, error) {
	var rec ChatRecord
	var userID, guestID sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, user_id, guest_id, title, created_at, updated_at
		FROM chats WHERE chat_id = ?`, chatID,
	).Scan(&rec.ID, &userID, &guestID, &rec.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}
	rec.Owner = Owner{UserID: userID.String, GuestID: guestID.String}
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	rec.Messages = []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		rec.Messages = append(rec.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return &rec, nil
}

// ListChats returns the owner's chats, most recently updated first.
func (s *SQLiteStore) ListChats(ctx context.Context, owner Owner) ([]domain.ChatSummary, error) {
	column, value := "user_id", owner.UserID
	if owner.UserID == "" {
		column, value = "guest_id", owner.GuestID
	}
	if value == "" {
		return []domain.ChatSummary{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, title, created_at, updated_at
		FROM chats WHERE `+column+` = ?
		ORDER BY updated_at DESC, rowid DESC`, value)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat rows", "error", closeErr)
		}
	}()

	chats := []domain.ChatSummary{}
	for rows.Next() {
		var c domain.ChatSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

// AppendMessages adds messages to a chat in one transaction and bumps updated_at.
func (s *SQLiteStore) AppendMessages(ctx context.Context, chatID string, msgs ...domain.Message) error {
	now := millis(time.Now())
	return s.inTx(ctx, "append_messages", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE chat_id = ?`, now, chatID)
		if err != nil {
			return fmt.Errorf("touch chat: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		for _, m := range msgs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
				chatID, m.Role, m.Content, now,
			); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		return nil
	})
}

// RenameChat sets a chat's title.
func (s *SQLiteStore) RenameChat(ctx context.Context, chatID, title string) (*domain.TitleUpdate, error) {
	now := time.Now().UTC()
	res, err := s.exec(ctx, "rename_chat",
		`UPDATE chats SET title = ?, updated_at = ? WHERE chat_id = ?`,
		title, millis(now), chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("rename chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return &domain.TitleUpdate{ID: chatID, Title: title, UpdatedAt: fromMillis(millis(now))}, nil
}

// DeleteChat removes a chat and its messages.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	return s.inTx(ctx, "delete_chat", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
		if err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SearchChats lists chats of every owner whose title contains query.
// An empty query lists everything.
func (s *SQLiteStore) SearchChats(ctx context.Context, query string) ([]domain.AdminChat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chat_id, c.user_id, c.guest_id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.chat_id)
		FROM chats c
		WHERE ? = '' OR c.title LIKE '%' || ? || '%'
		ORDER BY c.updated_at DESC, c.rowid DESC`, query, query)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat rows", "error", closeErr)
		}
	}()

	chats := []domain.AdminChat{}
	for rows.Next() {
		var c domain.AdminChat
		var userID, guestID sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &userID, &guestID, &c.Title, &createdAt, &updatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		c.UserID = userID.String
		c.GuestID = guestID.String
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}
