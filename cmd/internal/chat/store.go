package chat

import (
	"context"
	"time"
)

// AppendMessageInput describes a message append request.
//
// ConversationID is always set by the time a store sees it (the Service
// resolves receiver-only sends first). ReceiverID may be zero when the caller
// addressed an existing conversation; wide-row stores then recover the
// partner from the sender's partition.
type AppendMessageInput struct {
	ConversationID string
	SenderID       int64
	ReceiverID     int64
	Content        string
	Now            time.Time
}

// ListMessagesInput describes a message listing request.
type ListMessagesInput struct {
	ConversationID string
	Window         Window

	// Before filters to messages created strictly before the given instant.
	// Wide-row stores translate it into a synthetic message-id upper bound.
	Before *time.Time
}

// Store is the storage-strategy boundary for the conversation/message core.
//
// Implementations do not authorize; the Service checks participant
// membership before every call that touches a conversation. Contract
// differences between implementations (resolution idempotency, cursor kind,
// total exactness, write atomicity) are documented on each implementation.
type Store interface {
	// ResolveOrCreateConversation finds or creates the direct conversation
	// for the unordered pair {a, b} and returns its record.
	ResolveOrCreateConversation(ctx context.Context, a, b int64, now time.Time) (ConversationRecord, error)

	// AppendMessage inserts a message with status "sent" and advances the
	// conversation's recency key.
	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)

	// GetMessage loads a message by id, deleted or not.
	GetMessage(ctx context.Context, messageID string) (Message, error)

	// MarkMessageDeleted soft-deletes a message and returns the updated row.
	MarkMessageDeleted(ctx context.Context, messageID string, now time.Time) (Message, error)

	// SetMessageStatus overwrites the delivery-status label unconditionally.
	SetMessageStatus(ctx context.Context, messageID string, status Status, now time.Time) (Message, error)

	// IsParticipant reports whether userID belongs to the conversation's
	// participant set. False for unknown conversations.
	IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error)

	// GetConversation loads one conversation as seen by viewerID.
	GetConversation(ctx context.Context, conversationID string, viewerID int64) (ConversationRecord, error)

	// ListConversations returns one window over userID's conversations,
	// most recent first.
	ListConversations(ctx context.Context, userID int64, w Window) (ConversationPage, error)

	// ListMessages returns one window over a conversation's messages, most
	// recent first, excluding soft-deleted rows.
	ListMessages(ctx context.Context, in ListMessagesInput) (MessagePage, error)

	// MarkConversationRead transitions every message not sent by viewerID,
	// not already read and not deleted to status "read", returning the
	// number of messages affected.
	MarkConversationRead(ctx context.Context, conversationID string, viewerID int64, now time.Time) (int64, error)

	Close() error
}
