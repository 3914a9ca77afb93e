package chat

import (
	"strings"
	"time"
)

// Status is a message delivery-status label.
//
// The three values form an unordered label set, not a strict progression:
// UpdateMessageStatus overwrites the current label without enforcing
// sent -> delivered -> read ordering ("read" may be set before "delivered").
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// ParseStatus parses a status label, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusSent:
		return StatusSent, nil
	case StatusDelivered:
		return StatusDelivered, nil
	case StatusRead:
		return StatusRead, nil
	default:
		return "", OpError{Op: "chat.ParseStatus", Kind: ErrInvalidInput, Msg: "unknown status"}
	}
}

// Message is the canonical persisted message representation.
//
// Content is immutable after creation; Status and the soft-delete fields are
// the only post-creation mutations. Rows are never physically purged: a
// deleted message is excluded from list views but remains loadable by id.
type Message struct {
	ID             string
	ConversationID string
	SenderID       int64
	Content        string
	Status         Status
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
