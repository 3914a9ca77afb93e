package chat

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// InMemoryWideStore implements the wide-row storage contract in process
// memory: partition-per-user conversation mirrors, token windowing,
// approximate totals, and non-idempotent conversation resolution. It is the
// dev/CI stand-in for CassandraStore and the reference implementation of the
// wide-row semantics in unit tests, including the divergences that must not
// be "fixed": repeated resolution mints duplicate conversation shells, and
// superseded mirror rows remain visible in conversation listings.
type InMemoryWideStore struct {
	mu sync.Mutex

	// user id -> mirror rows, maintained in clustering order
	// (partner ASC, last_message_timestamp DESC).
	partitions map[int64][]wideMirrorRow

	// conversation id -> messages in descending id order.
	msgs map[string][]Message

	// message id -> conversation id lookup.
	msgConv map[string]string
}

type wideMirrorRow struct {
	partnerID      int64
	conversationID string
	lastMessageTS  time.Time
}

// NewInMemoryWideStore constructs an empty in-memory wide-row store.
func NewInMemoryWideStore() *InMemoryWideStore {
	return &InMemoryWideStore{
		partitions: make(map[int64][]wideMirrorRow),
		msgs:       make(map[string][]Message),
		msgConv:    make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryWideStore) Close() error { return nil }

// ResolveOrCreateConversation always mints a fresh conversation and writes
// one mirror row per participant. No existence check is performed: repeated
// calls for the same pair produce distinct conversation shells, matching the
// wide-row backend.
func (s *InMemoryWideStore) ResolveOrCreateConversation(ctx context.Context, a, b int64, now time.Time) (ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}
	if a <= 0 || b <= 0 || a == b {
		return ConversationRecord{}, OpError{Op: "chat.ResolveOrCreateConversation", Kind: ErrInvalidInput, Msg: "bad participant pair"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewWideConversationID(now)
	if err != nil {
		return ConversationRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertMirrorLocked(a, b, id, now)
	s.upsertMirrorLocked(b, a, id, now)

	return ConversationRecord{
		ID:             id,
		ParticipantIDs: []int64{a, b},
		CreatedAt:      ConversationCreatedAt(id),
	}, nil
}

// AppendMessage inserts the message row, the id lookup row and one new
// mirror row per participant. The writes are sequential and unfenced, as in
// the wide-row backend.
func (s *InMemoryWideStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
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

	receiver := in.ReceiverID
	if receiver == 0 {
		receiver = s.partnerLocked(in.SenderID, in.ConversationID)
		if receiver == 0 {
			return Message{}, NotFoundError{Op: op, Resource: "conversation"}
		}
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

	// Prepend keeps descending id order; ids are monotonic per process.
	s.msgs[in.ConversationID] = append([]Message{msg}, s.msgs[in.ConversationID]...)
	s.msgConv[id] = in.ConversationID

	s.upsertMirrorLocked(in.SenderID, receiver, in.ConversationID, now)
	s.upsertMirrorLocked(receiver, in.SenderID, in.ConversationID, now)

	return msg, nil
}

// GetMessage loads a message through the id lookup.
func (s *InMemoryWideStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, ok := s.findMessageLocked(messageID)
	if !ok {
		return Message{}, NotFoundError{Op: "chat.GetMessage", Resource: "message"}
	}
	return m, nil
}

// MarkMessageDeleted soft-deletes a message row in place.
func (s *InMemoryWideStore) MarkMessageDeleted(ctx context.Context, messageID string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, idx, ok := s.findMessageLocked(messageID)
	if !ok {
		return Message{}, NotFoundError{Op: "chat.MarkMessageDeleted", Resource: "message"}
	}
	convID := s.msgConv[messageID]
	m := &s.msgs[convID][idx]
	m.IsDeleted = true
	m.DeletedAt = &now
	m.UpdatedAt = now
	return *m, nil
}

// SetMessageStatus overwrites the status label unconditionally.
func (s *InMemoryWideStore) SetMessageStatus(ctx context.Context, messageID string, status Status, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, idx, ok := s.findMessageLocked(messageID)
	if !ok {
		return Message{}, NotFoundError{Op: "chat.SetMessageStatus", Resource: "message"}
	}
	convID := s.msgConv[messageID]
	m := &s.msgs[convID][idx]
	m.Status = status
	m.UpdatedAt = now
	return *m, nil
}

// IsParticipant scans the viewer's partition for a matching mirror row.
func (s *InMemoryWideStore) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.partnerLocked(userID, conversationID) != 0, nil
}

// GetConversation reconstructs the conversation from the viewer's partition;
// the wide-row model never materializes a conversation as a single row.
func (s *InMemoryWideStore) GetConversation(ctx context.Context, conversationID string, viewerID int64) (ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	partner := s.partnerLocked(viewerID, conversationID)
	if partner == 0 {
		return ConversationRecord{}, NotFoundError{Op: "chat.GetConversation", Resource: "conversation"}
	}

	rec := ConversationRecord{
		ID:             conversationID,
		ParticipantIDs: []int64{viewerID, partner},
		CreatedAt:      ConversationCreatedAt(conversationID),
	}
	for _, row := range s.partitions[viewerID] {
		if row.conversationID != conversationID {
			continue
		}
		if rec.LastMessageAt == nil || row.lastMessageTS.After(*rec.LastMessageAt) {
			ts := row.lastMessageTS
			rec.LastMessageAt = &ts
		}
	}
	if content, ok := s.latestContentLocked(conversationID); ok {
		rec.LastMessageContent = &content
	}
	return rec, nil
}

// ListConversations returns the viewer's partition in clustering order
// (partner ASC, last_message_timestamp DESC), windowed by continuation
// token. Superseded mirror rows are returned as-is: a partner may appear
// more than once. Total is a separate full-partition count and only
// approximately consistent with the windowed rows.
func (s *InMemoryWideStore) ListConversations(ctx context.Context, userID int64, w Window) (ConversationPage, error) {
	if err := ctx.Err(); err != nil {
		return ConversationPage{}, err
	}

	limit := w.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	start, err := decodeMemToken(w.Token)
	if err != nil {
		return ConversationPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.partitions[userID]
	page := ConversationPage{
		Total:            int64(len(rows)),
		TotalApproximate: true,
	}
	if start >= len(rows) {
		return page, nil
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	for _, row := range rows[start:end] {
		ts := row.lastMessageTS
		rec := ConversationRecord{
			ID:             row.conversationID,
			ParticipantIDs: []int64{userID, row.partnerID},
			CreatedAt:      ConversationCreatedAt(row.conversationID),
			LastMessageAt:  &ts,
		}
		if content, ok := s.latestContentLocked(row.conversationID); ok {
			rec.LastMessageContent = &content
		}
		page.Items = append(page.Items, rec)
	}
	if end < len(rows) {
		page.NextToken = encodeMemToken(end)
	}
	return page, nil
}

// ListMessages returns the partition window in descending id order with a
// continuation token. Soft-deleted rows are skipped client-side, so a page
// may come back short of the limit; Total counts non-deleted rows in a
// separate pass and is only approximately consistent under concurrent writes.
func (s *InMemoryWideStore) ListMessages(ctx context.Context, in ListMessagesInput) (MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return MessagePage{}, err
	}

	limit := in.Window.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	start, err := decodeMemToken(in.Window.Token)
	if err != nil {
		return MessagePage{}, err
	}

	var bound string
	if in.Before != nil {
		bound = MessageIDUpperBound(*in.Before)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.msgs[in.ConversationID]

	var filtered []Message
	for _, m := range rows {
		if bound != "" && m.ID >= bound {
			continue
		}
		filtered = append(filtered, m)
	}

	page := MessagePage{TotalApproximate: true}
	for _, m := range filtered {
		if !m.IsDeleted {
			page.Total++
		}
	}

	if start >= len(filtered) {
		return page, nil
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	for _, m := range filtered[start:end] {
		if m.IsDeleted {
			continue
		}
		page.Items = append(page.Items, m)
	}
	if end < len(filtered) {
		page.NextToken = encodeMemToken(end)
	}
	return page, nil
}

// MarkConversationRead walks the message partition and updates qualifying
// rows one by one; there is no transactional boundary.
func (s *InMemoryWideStore) MarkConversationRead(ctx context.Context, conversationID string, viewerID int64, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.msgs[conversationID]
	var n int64
	for i := range rows {
		m := &rows[i]
		if m.IsDeleted || m.SenderID == viewerID || m.Status == StatusRead {
			continue
		}
		m.Status = StatusRead
		m.UpdatedAt = now
		n++
	}
	return n, nil
}

// upsertMirrorLocked appends a fresh mirror row and re-sorts the partition
// into clustering order. The timestamp is part of the clustering key, so a
// new row is written instead of updating in place; the superseded row stays.
func (s *InMemoryWideStore) upsertMirrorLocked(userID, partnerID int64, conversationID string, ts time.Time) {
	rows := append(s.partitions[userID], wideMirrorRow{
		partnerID:      partnerID,
		conversationID: conversationID,
		lastMessageTS:  ts,
	})
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].partnerID != rows[j].partnerID {
			return rows[i].partnerID < rows[j].partnerID
		}
		return rows[i].lastMessageTS.After(rows[j].lastMessageTS)
	})
	s.partitions[userID] = rows
}

func (s *InMemoryWideStore) partnerLocked(userID int64, conversationID string) int64 {
	for _, row := range s.partitions[userID] {
		if row.conversationID == conversationID {
			return row.partnerID
		}
	}
	return 0
}

func (s *InMemoryWideStore) findMessageLocked(messageID string) (Message, int, bool) {
	convID, ok := s.msgConv[messageID]
	if !ok {
		return Message{}, 0, false
	}
	for i, m := range s.msgs[convID] {
		if m.ID == messageID {
			return m, i, true
		}
	}
	return Message{}, 0, false
}

func (s *InMemoryWideStore) latestContentLocked(conversationID string) (string, bool) {
	for _, m := range s.msgs[conversationID] {
		if !m.IsDeleted {
			return m.Content, true
		}
	}
	return "", false
}

// The in-memory continuation token is a decimal row offset. It is opaque to
// callers, mirroring the driver paging state of the real wide-row backend.
func encodeMemToken(offset int) []byte {
	return []byte(strconv.Itoa(offset))
}

func decodeMemToken(token []byte) (int, error) {
	if len(token) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(string(token))
	if err != nil || n < 0 {
		return 0, OpError{Op: "chat.ListPage", Kind: ErrInvalidInput, Msg: "bad continuation token"}
	}
	return n, nil
}
