package domain

import (
	"time"
)

// BotConfig holds assistant instructions, either global or per user.
type BotConfig struct {
	Instructions string     `json:"instructions"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// UserPatch carries the admin-editable fields of a user.
type UserPatch struct {
	IsActive *bool   `json:"isActive,omitempty"`
	Role     *string `json:"role,omitempty"`
}

// Analytics summarizes gateway usage.
type Analytics struct {
	Users         int `json:"users"`
	ActiveUsers   int `json:"activeUsers"`
	Chats         int `json:"chats"`
	Messages      int `json:"messages"`
	GuestMessages int `json:"guestMessages"`
}

// AuditLog is one recorded gateway action.
type AuditLog struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	UserID    string    `json:"userId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
