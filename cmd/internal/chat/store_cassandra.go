package chat

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"
)

// CassandraStore implements the wide-row storage contract.
//
// Ownership model:
// - CassandraStore does NOT own the gocql session. The caller must close it.
// - Close() is therefore a no-op.
//
// Data model (one table per access pattern):
//
//	messages_by_conversation  ((conversation_id), message_id DESC)
//	conversations_by_user     ((user_id), partner_id ASC, last_message_timestamp DESC)
//	messages_by_id            (message_id) -> conversation_id
//
// Consistency model:
//   - ResolveOrCreateConversation never checks existence; every call mints a
//     fresh conversation id and writes two mirror rows. Repeated calls for
//     the same pair produce duplicate conversation shells.
//   - Multi-row writes (message + id lookup + one mirror per participant)
//     have no transactional boundary. A crash between writes leaves
//     partitions inconsistent; visibility is eventual, not atomic.
//   - last_message_timestamp is part of the mirror clustering key, so every
//     send INSERTs a new mirror row per participant instead of updating in
//     place. Superseded rows remain and surface in listings.
//   - Totals come from separate COUNT queries and are only approximately
//     consistent with the windowed page under concurrent writes.
type CassandraStore struct {
	session *gocql.Session
}

// NewCassandraStore constructs a Cassandra-backed chat Store. The session
// must already be bound to the courier keyspace.
func NewCassandraStore(session *gocql.Session) (*CassandraStore, error) {
	if session == nil {
		return nil, errors.New("chat: nil session")
	}
	return &CassandraStore{session: session}, nil
}

// Close is a no-op because the session is owned by the caller.
func (s *CassandraStore) Close() error { return nil }

// ResolveOrCreateConversation mints a fresh time-ordered conversation id and
// writes one partition row per participant, each keyed by the owner and
// clustered by the partner.
func (s *CassandraStore) ResolveOrCreateConversation(ctx context.Context, a, b int64, now time.Time) (ConversationRecord, error) {
	const op = "chat.ResolveOrCreateConversation"

	if a <= 0 || b <= 0 || a == b {
		return ConversationRecord{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "bad participant pair"}
	}
	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewWideConversationID(now)
	if err != nil {
		return ConversationRecord{}, err
	}

	if err := s.writeMirror(ctx, a, b, id, now); err != nil {
		return ConversationRecord{}, err
	}
	if err := s.writeMirror(ctx, b, a, id, now); err != nil {
		return ConversationRecord{}, err
	}

	return ConversationRecord{
		ID:             id,
		ParticipantIDs: []int64{a, b},
		CreatedAt:      ConversationCreatedAt(id),
	}, nil
}

// AppendMessage inserts the message row and the id lookup row, then writes a
// fresh "last message" mirror row into both participants' partitions.
func (s *CassandraStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "chat.AppendMessage"

	if in.ConversationID == "" || in.SenderID <= 0 || in.Content == "" {
		return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing fields"}
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	receiver := in.ReceiverID
	if receiver == 0 {
		partner, err := s.partner(ctx, in.SenderID, in.ConversationID)
		if err != nil {
			return Message{}, err
		}
		if partner == 0 {
			return Message{}, NotFoundError{Op: op, Resource: "conversation"}
		}
		receiver = partner
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	if err := s.session.Query(
		`INSERT INTO messages_by_conversation (
		     conversation_id, message_id, sender_id, receiver_id, content,
		     status, is_deleted, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, false, ?, ?)`,
		in.ConversationID, id, in.SenderID, receiver, in.Content,
		string(StatusSent), now, now,
	).WithContext(ctx).Exec(); err != nil {
		return Message{}, err
	}

	if err := s.session.Query(
		`INSERT INTO messages_by_id (message_id, conversation_id) VALUES (?, ?)`,
		id, in.ConversationID,
	).WithContext(ctx).Exec(); err != nil {
		return Message{}, err
	}

	if err := s.writeMirror(ctx, in.SenderID, receiver, in.ConversationID, now); err != nil {
		return Message{}, err
	}
	if err := s.writeMirror(ctx, receiver, in.SenderID, in.ConversationID, now); err != nil {
		return Message{}, err
	}

	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Status:         StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// conversationOf looks up the owning conversation through the messages_by_id
// table.
func (s *CassandraStore) conversationOf(ctx context.Context, messageID string) (string, error) {
	var convID string
	err := s.session.Query(
		`SELECT conversation_id FROM messages_by_id WHERE message_id = ?`,
		messageID,
	).WithContext(ctx).Scan(&convID)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", NotFoundError{Op: "chat.GetMessage", Resource: "message"}
	}
	if err != nil {
		return "", err
	}
	return convID, nil
}

// GetMessage resolves the owning conversation through messages_by_id, then
// reads the row from its partition.
func (s *CassandraStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	const op = "chat.GetMessage"

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	convID, err := s.conversationOf(ctx, messageID)
	if err != nil {
		return Message{}, err
	}

	var (
		m         Message
		receiver  int64
		status    string
		deletedAt time.Time
	)
	err = s.session.Query(
		`SELECT conversation_id, message_id, sender_id, receiver_id, content,
		        status, is_deleted, deleted_at, created_at, updated_at
		   FROM messages_by_conversation
		  WHERE conversation_id = ? AND message_id = ?`,
		convID, messageID,
	).WithContext(ctx).Scan(
		&m.ConversationID, &m.ID, &m.SenderID, &receiver, &m.Content,
		&status, &m.IsDeleted, &deletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return Message{}, NotFoundError{Op: op, Resource: "message"}
	}
	if err != nil {
		return Message{}, err
	}
	m.Status = Status(status)
	if !deletedAt.IsZero() {
		t := deletedAt.UTC()
		m.DeletedAt = &t
	}
	return m, nil
}

// MarkMessageDeleted soft-deletes the message row in place. The clustering
// key is untouched, so this is a plain non-key column update.
func (s *CassandraStore) MarkMessageDeleted(ctx context.Context, messageID string, now time.Time) (Message, error) {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}

	if err := s.session.Query(
		`UPDATE messages_by_conversation
		    SET is_deleted = true, deleted_at = ?, updated_at = ?
		  WHERE conversation_id = ? AND message_id = ?`,
		now, now, m.ConversationID, m.ID,
	).WithContext(ctx).Exec(); err != nil {
		return Message{}, err
	}

	m.IsDeleted = true
	m.DeletedAt = &now
	m.UpdatedAt = now
	return m, nil
}

// SetMessageStatus overwrites the status label unconditionally.
func (s *CassandraStore) SetMessageStatus(ctx context.Context, messageID string, status Status, now time.Time) (Message, error) {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}

	if err := s.session.Query(
		`UPDATE messages_by_conversation
		    SET status = ?, updated_at = ?
		  WHERE conversation_id = ? AND message_id = ?`,
		string(status), now, m.ConversationID, m.ID,
	).WithContext(ctx).Exec(); err != nil {
		return Message{}, err
	}

	m.Status = status
	m.UpdatedAt = now
	return m, nil
}

// IsParticipant scans the user's own partition for a mirror row of the
// conversation. Membership data exists only inside partitions, so an unknown
// conversation and a conversation the user does not belong to are
// indistinguishable here.
func (s *CassandraStore) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	if conversationID == "" || userID <= 0 {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	partner, err := s.partner(ctx, userID, conversationID)
	if err != nil {
		return false, err
	}
	return partner != 0, nil
}

// GetConversation reconstructs the conversation from the viewer's partition;
// no single conversation row exists in the wide-row model.
func (s *CassandraStore) GetConversation(ctx context.Context, conversationID string, viewerID int64) (ConversationRecord, error) {
	const op = "chat.GetConversation"

	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}

	scanner := s.session.Query(
		`SELECT partner_id, conversation_id, last_message_timestamp
		   FROM conversations_by_user
		  WHERE user_id = ?`,
		viewerID,
	).WithContext(ctx).Iter().Scanner()

	rec := ConversationRecord{
		ID:        conversationID,
		CreatedAt: ConversationCreatedAt(conversationID),
	}
	found := false
	for scanner.Next() {
		var partnerID int64
		var convID string
		var lastTS time.Time
		if err := scanner.Scan(&partnerID, &convID, &lastTS); err != nil {
			return ConversationRecord{}, err
		}
		if convID != conversationID {
			continue
		}
		if !found {
			rec.ParticipantIDs = []int64{viewerID, partnerID}
			found = true
		}
		if rec.LastMessageAt == nil || lastTS.After(*rec.LastMessageAt) {
			ts := lastTS.UTC()
			rec.LastMessageAt = &ts
		}
	}
	if err := scanner.Err(); err != nil {
		return ConversationRecord{}, err
	}
	if !found {
		return ConversationRecord{}, NotFoundError{Op: op, Resource: "conversation"}
	}

	if content, ok, err := s.latestContent(ctx, conversationID); err != nil {
		return ConversationRecord{}, err
	} else if ok {
		rec.LastMessageContent = &content
	}
	return rec, nil
}

// ListConversations returns one driver page of the user's partition in
// clustering order (partner ASC, last_message_timestamp DESC). The window is
// continued with the driver paging state, not a page number; superseded
// mirror rows are returned as-is, so a partner can appear more than once.
// Total is a separate full-partition count, approximate under concurrent
// writes.
func (s *CassandraStore) ListConversations(ctx context.Context, userID int64, w Window) (ConversationPage, error) {
	if err := ctx.Err(); err != nil {
		return ConversationPage{}, err
	}

	limit := w.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	page := ConversationPage{TotalApproximate: true}

	if err := s.session.Query(
		`SELECT count(*) FROM conversations_by_user WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Scan(&page.Total); err != nil {
		return ConversationPage{}, err
	}

	iter := s.session.Query(
		`SELECT partner_id, conversation_id, last_message_timestamp
		   FROM conversations_by_user
		  WHERE user_id = ?`,
		userID,
	).WithContext(ctx).PageSize(limit).PageState(w.Token).Iter()

	next := iter.PageState()
	scanner := iter.Scanner()
	for scanner.Next() {
		var partnerID int64
		var convID string
		var lastTS time.Time
		if err := scanner.Scan(&partnerID, &convID, &lastTS); err != nil {
			return ConversationPage{}, err
		}
		ts := lastTS.UTC()
		rec := ConversationRecord{
			ID:             convID,
			ParticipantIDs: []int64{userID, partnerID},
			CreatedAt:      ConversationCreatedAt(convID),
			LastMessageAt:  &ts,
		}
		if content, ok, err := s.latestContent(ctx, convID); err != nil {
			return ConversationPage{}, err
		} else if ok {
			rec.LastMessageContent = &content
		}
		page.Items = append(page.Items, rec)
		if len(page.Items) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return ConversationPage{}, err
	}
	page.NextToken = next
	return page, nil
}

// ListMessages returns one driver page of the conversation partition in
// descending message-id order. A before bound is translated into a synthetic
// message-id upper bound. Soft-deleted rows are filtered after the fetch, so
// a page may come back short of the limit; the separate count excludes them
// server-side but remains approximate under concurrent writes.
func (s *CassandraStore) ListMessages(ctx context.Context, in ListMessagesInput) (MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return MessagePage{}, err
	}

	limit := in.Window.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	page := MessagePage{TotalApproximate: true}

	var (
		countQ *gocql.Query
		pageQ  *gocql.Query
	)
	if in.Before == nil {
		countQ = s.session.Query(
			`SELECT count(*) FROM messages_by_conversation
			  WHERE conversation_id = ? AND is_deleted = false ALLOW FILTERING`,
			in.ConversationID,
		)
		pageQ = s.session.Query(
			`SELECT conversation_id, message_id, sender_id, receiver_id, content,
			        status, is_deleted, deleted_at, created_at, updated_at
			   FROM messages_by_conversation
			  WHERE conversation_id = ?`,
			in.ConversationID,
		)
	} else {
		bound := MessageIDUpperBound(*in.Before)
		countQ = s.session.Query(
			`SELECT count(*) FROM messages_by_conversation
			  WHERE conversation_id = ? AND message_id < ? AND is_deleted = false ALLOW FILTERING`,
			in.ConversationID, bound,
		)
		pageQ = s.session.Query(
			`SELECT conversation_id, message_id, sender_id, receiver_id, content,
			        status, is_deleted, deleted_at, created_at, updated_at
			   FROM messages_by_conversation
			  WHERE conversation_id = ? AND message_id < ?`,
			in.ConversationID, bound,
		)
	}

	if err := countQ.WithContext(ctx).Scan(&page.Total); err != nil {
		return MessagePage{}, err
	}

	iter := pageQ.WithContext(ctx).PageSize(limit).PageState(in.Window.Token).Iter()
	next := iter.PageState()
	scanner := iter.Scanner()

	fetched := 0
	for scanner.Next() {
		var (
			m         Message
			receiver  int64
			status    string
			deletedAt time.Time
		)
		if err := scanner.Scan(
			&m.ConversationID, &m.ID, &m.SenderID, &receiver, &m.Content,
			&status, &m.IsDeleted, &deletedAt, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return MessagePage{}, err
		}
		fetched++
		if !m.IsDeleted {
			m.Status = Status(status)
			page.Items = append(page.Items, m)
		}
		if fetched >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return MessagePage{}, err
	}
	page.NextToken = next
	return page, nil
}

// MarkConversationRead walks the conversation partition and updates
// qualifying rows one by one. The walk and the updates are unfenced; a crash
// mid-way leaves a partially read conversation, which a retry converges.
func (s *CassandraStore) MarkConversationRead(ctx context.Context, conversationID string, viewerID int64, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	scanner := s.session.Query(
		`SELECT message_id, sender_id, status, is_deleted
		   FROM messages_by_conversation
		  WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).Iter().Scanner()

	var pending []string
	for scanner.Next() {
		var (
			id        string
			senderID  int64
			status    string
			isDeleted bool
		)
		if err := scanner.Scan(&id, &senderID, &status, &isDeleted); err != nil {
			return 0, err
		}
		if isDeleted || senderID == viewerID || Status(status) == StatusRead {
			continue
		}
		pending = append(pending, id)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	var n int64
	for _, id := range pending {
		if err := s.session.Query(
			`UPDATE messages_by_conversation
			    SET status = ?, updated_at = ?
			  WHERE conversation_id = ? AND message_id = ?`,
			string(StatusRead), now, conversationID, id,
		).WithContext(ctx).Exec(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *CassandraStore) writeMirror(ctx context.Context, userID, partnerID int64, conversationID string, ts time.Time) error {
	return s.session.Query(
		`INSERT INTO conversations_by_user (user_id, partner_id, conversation_id, last_message_timestamp)
		 VALUES (?, ?, ?, ?)`,
		userID, partnerID, conversationID, ts,
	).WithContext(ctx).Exec()
}

// partner scans the user's partition for the conversation and returns the
// partner id, or 0 when no mirror row exists.
func (s *CassandraStore) partner(ctx context.Context, userID int64, conversationID string) (int64, error) {
	scanner := s.session.Query(
		`SELECT partner_id, conversation_id FROM conversations_by_user WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter().Scanner()

	var found int64
	for scanner.Next() {
		var partnerID int64
		var convID string
		if err := scanner.Scan(&partnerID, &convID); err != nil {
			return 0, err
		}
		if convID == conversationID && found == 0 {
			found = partnerID
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return found, nil
}

func (s *CassandraStore) latestContent(ctx context.Context, conversationID string) (string, bool, error) {
	var content string
	err := s.session.Query(
		`SELECT content FROM messages_by_conversation
		  WHERE conversation_id = ? AND is_deleted = false LIMIT 1 ALLOW FILTERING`,
		conversationID,
	).WithContext(ctx).Scan(&content)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}
