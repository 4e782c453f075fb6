package domain

// Message roles.
const (
	RoleUserMessage      = "user"
	RoleAssistantMessage = "assistant"
)

// MessageStatus tags the reconciliation state of a message entry.
type MessageStatus string

const (
	// StatusPending marks an optimistic entry that the gateway has not confirmed.
	StatusPending MessageStatus = "pending"
	// StatusConfirmed marks an entry known to the gateway.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusFailed marks a sent message whose reply failed, or the locally synthesized error entry.
	StatusFailed MessageStatus = "failed"
)

// Message is a single chat message entry.
type Message struct {
	LocalID string        `json:"-"`
	Role    string        `json:"role"`
	Content string        `json:"content"`
	Status  MessageStatus `json:"-"`
}

// IsError returns true for the locally synthesized error entry.
func (m Message) IsError() bool {
	return m.Role == RoleAssistantMessage && m.Status == StatusFailed
}

// WithStatus returns a copy of m carrying status s.
func (m Message) WithStatus(s MessageStatus) Message {
	m.Status = s
	return m
}
