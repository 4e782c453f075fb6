package domain

import (
	"time"
)

// ChatSummary is one entry of the chat list.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatDetail is a chat with its full message sequence.
// An empty ID marks a conversation that has not been persisted yet.
type ChatDetail struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the chat.
func (c *ChatDetail) Clone() *ChatDetail {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// Summary converts the detail into a list entry.
func (c *ChatDetail) Summary() ChatSummary {
	return ChatSummary{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

// TitleUpdate is the gateway reply to rename and title suggestion.
type TitleUpdate struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AdminChat is a chat listing entry as seen by administrators.
type AdminChat struct {
	ChatSummary
	UserID       string `json:"userId,omitempty"`
	GuestID      string `json:"guestId,omitempty"`
	MessageCount int    `json:"messageCount"`
}
