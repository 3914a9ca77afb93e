package chat

import (
	"context"
	"log/slog"
	"time"
)

const (
	// Default window applied by the API layer when the caller omits paging
	// parameters; the core itself does not validate page/limit.
	DefaultPage  = 1
	DefaultLimit = 20

	maxContentBytes = 8 * 1024
)

// UserDirectory resolves user ids to profile projections. It is backed by the
// identity store; the chat core never reads user rows itself because the
// wide-row backend has no user table at all.
type UserDirectory interface {
	// Profiles returns profiles for the given ids. Unknown ids are simply
	// absent from the result.
	Profiles(ctx context.Context, ids []int64) (map[int64]UserProfile, error)
}

// SendInput describes a send request. Exactly one of ConversationID or
// ReceiverID determines the target: a non-empty ConversationID addresses an
// existing conversation, otherwise ReceiverID triggers resolution.
type SendInput struct {
	SenderID       int64
	Content        string
	ConversationID string
	ReceiverID     int64
	Now            time.Time
}

// Service is the conversation/message core: it authorizes against participant
// membership, validates input, delegates persistence to the configured Store
// and hydrates participant profiles through the UserDirectory.
type Service struct {
	log   *slog.Logger
	store Store
	users UserDirectory
}

// NewService constructs the chat core service.
func NewService(log *slog.Logger, store Store, users UserDirectory) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, OpError{Op: "chat.NewService", Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if users == nil {
		return nil, OpError{Op: "chat.NewService", Kind: ErrInvalidInput, Msg: "nil user directory"}
	}
	return &Service{log: log, store: store, users: users}, nil
}

// Send appends a message. When no conversation id is supplied the receiver
// must exist and the direct conversation for {sender, receiver} is resolved
// (or created) first.
func (s *Service) Send(ctx context.Context, in SendInput) (Message, error) {
	const op = "chat.Send"

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if in.SenderID <= 0 {
		return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing sender"}
	}
	if in.Content == "" {
		return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty content"}
	}
	if len(in.Content) > maxContentBytes {
		return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "content too large"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	appendIn := AppendMessageInput{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		Now:        now,
	}

	switch {
	case in.ConversationID != "":
		// Membership is checked before existence: a nonexistent conversation
		// is indistinguishable from one the sender does not belong to.
		ok, err := s.store.IsParticipant(ctx, in.ConversationID, in.SenderID)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			return Message{}, ForbiddenError{Op: op, Resource: "conversation"}
		}
		appendIn.ConversationID = in.ConversationID

	case in.ReceiverID > 0:
		if in.ReceiverID == in.SenderID {
			return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "receiver equals sender"}
		}
		profiles, err := s.users.Profiles(ctx, []int64{in.ReceiverID})
		if err != nil {
			return Message{}, err
		}
		if _, ok := profiles[in.ReceiverID]; !ok {
			return Message{}, NotFoundError{Op: op, Resource: "receiver"}
		}
		conv, err := s.store.ResolveOrCreateConversation(ctx, in.SenderID, in.ReceiverID, now)
		if err != nil {
			return Message{}, err
		}
		appendIn.ConversationID = conv.ID

	default:
		return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "conversation_id or receiver_id required"}
	}

	msg, err := s.store.AppendMessage(ctx, appendIn)
	if err != nil {
		return Message{}, err
	}

	s.log.Info("chat.message.send",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
	)
	return msg, nil
}

// Message loads a message by id. The requester must be a participant of the
// owning conversation. Soft-deleted messages remain loadable here.
func (s *Service) Message(ctx context.Context, messageID string, requesterID int64) (Message, error) {
	const op = "chat.Message"

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	ok, err := s.store.IsParticipant(ctx, msg.ConversationID, requesterID)
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, ForbiddenError{Op: op, Resource: "conversation"}
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete.
func (s *Service) DeleteMessage(ctx context.Context, messageID string, requesterID int64) (Message, error) {
	const op = "chat.DeleteMessage"

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.SenderID != requesterID {
		return Message{}, ForbiddenError{Op: op, Resource: "message"}
	}

	now := time.Now().UTC()
	deleted, err := s.store.MarkMessageDeleted(ctx, messageID, now)
	if err != nil {
		return Message{}, err
	}

	s.log.Info("chat.message.delete",
		"conversation_id", deleted.ConversationID,
		"message_id", deleted.ID,
	)
	return deleted, nil
}

// UpdateMessageStatus overwrites a message's delivery-status label. Any
// participant of the owning conversation may update it, and no transition
// ordering is enforced between the labels.
func (s *Service) UpdateMessageStatus(ctx context.Context, messageID string, requesterID int64, status Status) (Message, error) {
	const op = "chat.UpdateMessageStatus"

	switch status {
	case StatusSent, StatusDelivered, StatusRead:
	default:
		return Message{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown status"}
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	ok, err := s.store.IsParticipant(ctx, msg.ConversationID, requesterID)
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, ForbiddenError{Op: op, Resource: "conversation"}
	}

	return s.store.SetMessageStatus(ctx, messageID, status, time.Now().UTC())
}

// ConversationViewPage pairs a hydrated item list with paging metadata.
type ConversationViewPage struct {
	Total            int64
	TotalApproximate bool
	Items            []ConversationView
	NextToken        []byte
}

// Conversations returns one window over the caller's conversations, most
// recent first. Membership is implicit: only the caller's own partitions or
// participant rows are consulted.
func (s *Service) Conversations(ctx context.Context, userID int64, w Window) (ConversationViewPage, error) {
	page, err := s.store.ListConversations(ctx, userID, w)
	if err != nil {
		return ConversationViewPage{}, err
	}

	views, err := s.hydrate(ctx, page.Items)
	if err != nil {
		return ConversationViewPage{}, err
	}
	return ConversationViewPage{
		Total:            page.Total,
		TotalApproximate: page.TotalApproximate,
		Items:            views,
		NextToken:        page.NextToken,
	}, nil
}

// Conversation returns a single conversation view. Membership is verified
// before existence, so an unknown conversation id yields Forbidden.
func (s *Service) Conversation(ctx context.Context, conversationID string, viewerID int64) (ConversationView, error) {
	const op = "chat.Conversation"

	ok, err := s.store.IsParticipant(ctx, conversationID, viewerID)
	if err != nil {
		return ConversationView{}, err
	}
	if !ok {
		return ConversationView{}, ForbiddenError{Op: op, Resource: "conversation"}
	}

	rec, err := s.store.GetConversation(ctx, conversationID, viewerID)
	if err != nil {
		return ConversationView{}, err
	}

	views, err := s.hydrate(ctx, []ConversationRecord{rec})
	if err != nil {
		return ConversationView{}, err
	}
	return views[0], nil
}

// Messages returns one window over a conversation's messages, most recent
// first, excluding soft-deleted rows. A non-nil before restricts the window
// to messages created strictly before that instant.
func (s *Service) Messages(ctx context.Context, conversationID string, requesterID int64, w Window, before *time.Time) (MessagePage, error) {
	const op = "chat.Messages"

	ok, err := s.store.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return MessagePage{}, err
	}
	if !ok {
		return MessagePage{}, ForbiddenError{Op: op, Resource: "conversation"}
	}

	return s.store.ListMessages(ctx, ListMessagesInput{
		ConversationID: conversationID,
		Window:         w,
		Before:         before,
	})
}

// MarkConversationRead bulk-transitions the viewer's unread incoming messages
// to "read" and returns the affected count. Idempotent: a second call finds
// nothing to transition and returns 0.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID string, viewerID int64) (int64, error) {
	const op = "chat.MarkConversationRead"

	ok, err := s.store.IsParticipant(ctx, conversationID, viewerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ForbiddenError{Op: op, Resource: "conversation"}
	}

	n, err := s.store.MarkConversationRead(ctx, conversationID, viewerID, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	s.log.Info("chat.conversation.mark_read",
		"conversation_id", conversationID,
		"viewer_id", viewerID,
		"count", n,
	)
	return n, nil
}

func (s *Service) hydrate(ctx context.Context, records []ConversationRecord) ([]ConversationView, error) {
	idSet := make(map[int64]struct{})
	for _, rec := range records {
		for _, id := range rec.ParticipantIDs {
			idSet[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(records))
	for _, rec := range records {
		v := ConversationView{
			ID:                 rec.ID,
			CreatedAt:          rec.CreatedAt,
			LastMessageAt:      rec.LastMessageAt,
			LastMessageContent: rec.LastMessageContent,
			Participants:       make([]UserProfile, 0, len(rec.ParticipantIDs)),
		}
		for _, id := range rec.ParticipantIDs {
			if p, ok := profiles[id]; ok {
				v.Participants = append(v.Participants, p)
				continue
			}
			// Participant rows can outlive directory entries in the wide-row
			// model; surface the id so the client can still render something.
			v.Participants = append(v.Participants, UserProfile{UserID: id})
		}
		views = append(views, v)
	}
	return views, nil
}
