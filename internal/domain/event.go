package domain

// EventChatsChanged is broadcast to a user after any change to their chat list.
const EventChatsChanged = "chats.changed"

// Event is a push notification delivered over the events websocket.
type Event struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId,omitempty"`
}
