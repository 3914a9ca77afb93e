package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore implements the relational storage contract in process memory.
// It is the dev/CI fallback when no database is configured and the reference
// implementation for the relational semantics in unit tests: idempotent
// direct-conversation resolution, offset windowing, exact totals.
type InMemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConversation
	msgs  map[string]*Message // message id -> row
}

type memConversation struct {
	id           string
	participants []int64
	createdAt    time.Time
	updatedAt    time.Time
	messageIDs   []string // insertion order
}

// NewInMemoryStore constructs an empty in-memory relational store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs: make(map[string]*memConversation),
		msgs:  make(map[string]*Message),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// ResolveOrCreateConversation searches the participant sets before inserting,
// so sequential calls for the same pair return the same conversation.
func (s *InMemoryStore) ResolveOrCreateConversation(ctx context.Context, a, b int64, now time.Time) (ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}
	if a <= 0 || b <= 0 || a == b {
		return ConversationRecord{}, OpError{Op: "chat.ResolveOrCreateConversation", Kind: ErrInvalidInput, Msg: "bad participant pair"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.convs {
		if c.hasParticipant(a) && c.hasParticipant(b) {
			return s.recordLocked(c), nil
		}
	}

	c := &memConversation{
		id:           NewConversationID(),
		participants: []int64{a, b},
		createdAt:    now,
		updatedAt:    now,
	}
	s.convs[c.id] = c
	return s.recordLocked(c), nil
}

// AppendMessage inserts a message and advances the conversation's updated_at.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "chat.AppendMessage"

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if in.ConversationID == "" || in.SenderID <= 0 || in.Content == "" {
		return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing fields"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return Message{}, NotFoundError{Op: op, Resource: "conversation"}
	}

	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Status:         StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.msgs[id] = &msg
	c.messageIDs = append(c.messageIDs, id)
	c.updatedAt = now

	return msg, nil
}

// GetMessage loads a message by id, deleted or not.
func (s *InMemoryStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.msgs[messageID]
	if m == nil {
		return Message{}, NotFoundError{Op: "chat.GetMessage", Resource: "message"}
	}
	return *m, nil
}

// MarkMessageDeleted soft-deletes a message.
func (s *InMemoryStore) MarkMessageDeleted(ctx context.Context, messageID string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.msgs[messageID]
	if m == nil {
		return Message{}, NotFoundError{Op: "chat.MarkMessageDeleted", Resource: "message"}
	}
	m.IsDeleted = true
	m.DeletedAt = &now
	m.UpdatedAt = now
	return *m, nil
}

// SetMessageStatus overwrites the status label unconditionally.
func (s *InMemoryStore) SetMessageStatus(ctx context.Context, messageID string, status Status, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.msgs[messageID]
	if m == nil {
		return Message{}, NotFoundError{Op: "chat.SetMessageStatus", Resource: "message"}
	}
	m.Status = status
	m.UpdatedAt = now
	return *m, nil
}

// IsParticipant reports membership; false for unknown conversations.
func (s *InMemoryStore) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return false, nil
	}
	return c.hasParticipant(userID), nil
}

// GetConversation loads one conversation record.
func (s *InMemoryStore) GetConversation(ctx context.Context, conversationID string, _ int64) (ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return ConversationRecord{}, NotFoundError{Op: "chat.GetConversation", Resource: "conversation"}
	}
	return s.recordLocked(c), nil
}

// ListConversations windows by offset/limit over conversations sorted by
// descending recency; Total is exact and computed over the same snapshot.
func (s *InMemoryStore) ListConversations(ctx context.Context, userID int64, w Window) (ConversationPage, error) {
	if err := ctx.Err(); err != nil {
		return ConversationPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*memConversation
	for _, c := range s.convs {
		if c.hasParticipant(userID) {
			mine = append(mine, c)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].updatedAt.Equal(mine[j].updatedAt) {
			return mine[i].updatedAt.After(mine[j].updatedAt)
		}
		return mine[i].id > mine[j].id
	})

	page := ConversationPage{Total: int64(len(mine))}

	start := w.Offset()
	if start < 0 {
		start = 0
	}
	if start >= len(mine) {
		return page, nil
	}
	end := start + w.Limit
	if end > len(mine) {
		end = len(mine)
	}
	for _, c := range mine[start:end] {
		page.Items = append(page.Items, s.recordLocked(c))
	}
	return page, nil
}

// ListMessages windows by offset/limit over non-deleted messages sorted by
// descending creation time; Total reflects the same filter predicate.
func (s *InMemoryStore) ListMessages(ctx context.Context, in ListMessagesInput) (MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return MessagePage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return MessagePage{}, nil
	}

	var visible []Message
	for _, id := range c.messageIDs {
		m := s.msgs[id]
		if m == nil || m.IsDeleted {
			continue
		}
		if in.Before != nil && !m.CreatedAt.Before(*in.Before) {
			continue
		}
		visible = append(visible, *m)
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CreatedAt.After(visible[j].CreatedAt)
		}
		return visible[i].ID > visible[j].ID
	})

	page := MessagePage{Total: int64(len(visible))}

	start := in.Window.Offset()
	if start < 0 {
		start = 0
	}
	if start >= len(visible) {
		return page, nil
	}
	end := start + in.Window.Limit
	if end > len(visible) {
		end = len(visible)
	}
	page.Items = visible[start:end]
	return page, nil
}

// MarkConversationRead transitions qualifying messages to "read".
func (s *InMemoryStore) MarkConversationRead(ctx context.Context, conversationID string, viewerID int64, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return 0, nil
	}

	var n int64
	for _, id := range c.messageIDs {
		m := s.msgs[id]
		if m == nil || m.IsDeleted || m.SenderID == viewerID || m.Status == StatusRead {
			continue
		}
		m.Status = StatusRead
		m.UpdatedAt = now
		n++
	}
	return n, nil
}

func (c *memConversation) hasParticipant(userID int64) bool {
	for _, id := range c.participants {
		if id == userID {
			return true
		}
	}
	return false
}

// recordLocked builds a record snapshot; callers must hold s.mu.
func (s *InMemoryStore) recordLocked(c *memConversation) ConversationRecord {
	rec := ConversationRecord{
		ID:             c.id,
		ParticipantIDs: append([]int64(nil), c.participants...),
		CreatedAt:      c.createdAt,
	}
	// Latest non-deleted message supplies the recency fields.
	for i := len(c.messageIDs) - 1; i >= 0; i-- {
		m := s.msgs[c.messageIDs[i]]
		if m == nil || m.IsDeleted {
			continue
		}
		at := m.CreatedAt
		content := m.Content
		rec.LastMessageAt = &at
		rec.LastMessageContent = &content
		break
	}
	return rec
}
