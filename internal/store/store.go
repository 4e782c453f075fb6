// Package store provides data persistence interfaces and implementations for
// the reference gateway.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/chatdesk/internal/domain"
)

var (
	// ErrNotFound is returned by updates that target a missing row.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned when a username or email is already registered.
	ErrUsernameTaken = errors.New("username or email already registered")
)

// Owner identifies who a chat belongs to: a user or a guest, never both.
type Owner struct {
	UserID  string
	GuestID string
}

// IsGuest reports whether the owner is an unauthenticated visitor.
func (o Owner) IsGuest() bool {
	return o.UserID == "" && o.GuestID != ""
}

// Key returns a stable string for the owner, used for event fan-out and throttling.
func (o Owner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "guest:" + o.GuestID
}

// UserRecord is a user together with its password hash.
type UserRecord struct {
	domain.User
	PasswordHash string
}

// ChatRecord is a chat together with its owner.
type ChatRecord struct {
	domain.ChatDetail
	Owner Owner
}

// Repository defines the interface for persisting gateway data.
// Lookups return (nil, nil) when the row does not exist.
type Repository interface {
	// CreateUser inserts a new account. Returns ErrUsernameTaken on duplicates.
	CreateUser(ctx context.Context, rec *UserRecord) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID string) (*UserRecord, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*UserRecord, error)

	// UpdateUsername renames a user.
	UpdateUsername(ctx context.Context, userID, username string) error

	// UpdatePassword replaces a user's password hash.
	UpdatePassword(ctx context.Context, userID, hash string) error

	// UpdateUser applies an admin patch and returns the updated user.
	UpdateUser(ctx context.Context, userID string, patch domain.UserPatch) (*domain.User, error)

	// ListUsers returns all users, newest first.
	ListUsers(ctx context.Context) ([]domain.User, error)

	// CreateToken stores an opaque bearer token for a user.
	CreateToken(ctx context.Context, token, userID string) error

	// UserByToken resolves a bearer token.
	UserByToken(ctx context.Context, token string) (*UserRecord, error)

	// CreateChat inserts an empty chat.
	CreateChat(ctx context.Context, chat *domain.ChatDetail, owner Owner) error

	// GetChat retrieves a chat with its messages in order.
	GetChat(ctx context.Context, chatID string) (*ChatRecord, error)

	// ListChats returns the owner's chats, most recently updated first.
	ListChats(ctx context.Context, owner Owner) ([]domain.ChatSummary, error)

	// AppendMessages adds messages to a chat and bumps its updated_at.
	AppendMessages(ctx context.Context, chatID string, msgs ...domain.Message) error

	// RenameChat sets a chat's title.
	RenameChat(ctx context.Context, chatID, title string) (*domain.TitleUpdate, error)

	// DeleteChat removes a chat and its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// SearchChats lists chats of every owner whose title contains query.
	SearchChats(ctx context.Context, query string) ([]domain.AdminChat, error)

	// GetBotConfig returns the instructions for userID, or the global ones for "".
	GetBotConfig(ctx context.Context, userID string) (*domain.BotConfig, error)

	// SetBotConfig replaces the instructions for userID, or the global ones for "".
	SetBotConfig(ctx context.Context, userID, instructions string) (*domain.BotConfig, error)

	// GuestMessageCount returns how many messages a guest has sent.
	GuestMessageCount(ctx context.Context, guestID string) (int, error)

	// IncrementGuestMessages counts one guest message and returns the new total.
	IncrementGuestMessages(ctx context.Context, guestID string) (int, error)

	// AddAuditLog records a gateway action.
	AddAuditLog(ctx context.Context, action, userID, detail string) error

	// ListAuditLogs returns the most recent audit entries.
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	// Analytics returns usage counters.
	Analytics(ctx context.Context) (*domain.Analytics, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
