package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the relational storage contract.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Consistency model:
//   - Conversation resolution is search-before-insert inside one transaction.
//     There is no uniqueness constraint on the participant pair, so two
//     concurrent first-contact sends can each observe "no existing
//     conversation" and both create one. Creation is at-least-once, not
//     exactly-once.
//   - List totals are exact counts over the same filter predicate as the
//     windowed fetch.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed chat Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "courier",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// ResolveOrCreateConversation intersects the participant sets of both users;
// a hit is reused, otherwise the conversation row and both participant rows
// are inserted in one transaction.
func (s *PostgresStore) ResolveOrCreateConversation(ctx context.Context, a, b int64, now time.Time) (ConversationRecord, error) {
	const op = "chat.ResolveOrCreateConversation"

	if s == nil || s.pool == nil {
		return ConversationRecord{}, errors.New("chat: nil store")
	}
	if a <= 0 || b <= 0 || a == b {
		return ConversationRecord{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "bad participant pair"}
	}
	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	participants := pgIdent(s.schema, "conversation_participants")
	conversations := pgIdent(s.schema, "conversations")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return ConversationRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT c.id, c.created_at
		   FROM `+conversations+` c
		   JOIN `+participants+` p1 ON p1.conversation_id = c.id AND p1.user_id = $1
		   JOIN `+participants+` p2 ON p2.conversation_id = c.id AND p2.user_id = $2
		  LIMIT 1`,
		a, b,
	).Scan(&id, &createdAt)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return ConversationRecord{}, err
		}
		return ConversationRecord{ID: id, ParticipantIDs: []int64{a, b}, CreatedAt: createdAt}, nil
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to create
	default:
		return ConversationRecord{}, err
	}

	id = NewConversationID()
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id, created_at, updated_at) VALUES ($1, $2, $2)`,
		id, now,
	); err != nil {
		return ConversationRecord{}, err
	}
	for _, userID := range []int64{a, b} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+participants+` (conversation_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			id, userID, now,
		); err != nil {
			return ConversationRecord{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ConversationRecord{}, err
	}
	return ConversationRecord{ID: id, ParticipantIDs: []int64{a, b}, CreatedAt: now}, nil
}

// AppendMessage inserts the message and advances the conversation's
// updated_at recency key in the same transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "chat.AppendMessage"

	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
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

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	messages := pgIdent(s.schema, "messages")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, sender_id, content, status, is_deleted, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, false, $6, $6)`,
		id, in.ConversationID, in.SenderID, in.Content, StatusSent, now,
	); err != nil {
		return Message{}, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+conversations+` SET updated_at = $2 WHERE id = $1`,
		in.ConversationID, now,
	)
	if err != nil {
		return Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return Message{}, NotFoundError{Op: op, Resource: "conversation"}
	}

	if err := tx.Commit(ctx); err != nil {
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

// GetMessage loads a message by id, deleted or not.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	const op = "chat.GetMessage"

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var m Message
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, content, status, is_deleted, deleted_at, created_at, updated_at
		   FROM `+messages+`
		  WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Status, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, NotFoundError{Op: op, Resource: "message"}
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// MarkMessageDeleted soft-deletes a message and returns the updated row.
func (s *PostgresStore) MarkMessageDeleted(ctx context.Context, messageID string, now time.Time) (Message, error) {
	const op = "chat.MarkMessageDeleted"

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var m Message
	err := s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET is_deleted = true, deleted_at = $2, updated_at = $2
		  WHERE id = $1
		RETURNING id, conversation_id, sender_id, content, status, is_deleted, deleted_at, created_at, updated_at`,
		messageID, now,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Status, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, NotFoundError{Op: op, Resource: "message"}
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// SetMessageStatus overwrites the status label unconditionally.
func (s *PostgresStore) SetMessageStatus(ctx context.Context, messageID string, status Status, now time.Time) (Message, error) {
	const op = "chat.SetMessageStatus"

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var m Message
	err := s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET status = $2, updated_at = $3
		  WHERE id = $1
		RETURNING id, conversation_id, sender_id, content, status, is_deleted, deleted_at, created_at, updated_at`,
		messageID, status, now,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Status, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, NotFoundError{Op: op, Resource: "message"}
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// IsParticipant checks for a participant row; false for unknown conversations.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("chat: nil store")
	}
	if conversationID == "" || userID <= 0 {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	participants := pgIdent(s.schema, "conversation_participants")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+participants+` WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetConversation loads one conversation record with participants and the
// latest visible message.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string, _ int64) (ConversationRecord, error) {
	const op = "chat.GetConversation"

	if err := ctx.Err(); err != nil {
		return ConversationRecord{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var rec ConversationRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at FROM `+conversations+` WHERE id = $1`,
		conversationID,
	).Scan(&rec.ID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConversationRecord{}, NotFoundError{Op: op, Resource: "conversation"}
	}
	if err != nil {
		return ConversationRecord{}, err
	}

	if err := s.fillParticipants(ctx, []*ConversationRecord{&rec}); err != nil {
		return ConversationRecord{}, err
	}
	if err := s.fillLastMessages(ctx, []*ConversationRecord{&rec}); err != nil {
		return ConversationRecord{}, err
	}
	return rec, nil
}

// ListConversations windows by offset/limit over the caller's conversations
// sorted by descending updated_at. Total is an exact count over the same
// membership predicate.
func (s *PostgresStore) ListConversations(ctx context.Context, userID int64, w Window) (ConversationPage, error) {
	if s == nil || s.pool == nil {
		return ConversationPage{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return ConversationPage{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")

	var page ConversationPage
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+participants+` WHERE user_id = $1`,
		userID,
	).Scan(&page.Total); err != nil {
		return ConversationPage{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.created_at
		   FROM `+conversations+` c
		   JOIN `+participants+` p ON p.conversation_id = c.id
		  WHERE p.user_id = $1
		  ORDER BY c.updated_at DESC, c.id DESC
		 OFFSET $2 LIMIT $3`,
		userID, w.Offset(), w.Limit,
	)
	if err != nil {
		return ConversationPage{}, err
	}
	defer rows.Close()

	var recs []*ConversationRecord
	for rows.Next() {
		rec := &ConversationRecord{}
		if err := rows.Scan(&rec.ID, &rec.CreatedAt); err != nil {
			return ConversationPage{}, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return ConversationPage{}, err
	}

	if err := s.fillParticipants(ctx, recs); err != nil {
		return ConversationPage{}, err
	}
	if err := s.fillLastMessages(ctx, recs); err != nil {
		return ConversationPage{}, err
	}

	page.Items = make([]ConversationRecord, 0, len(recs))
	for _, rec := range recs {
		page.Items = append(page.Items, *rec)
	}
	return page, nil
}

// ListMessages windows by offset/limit over non-deleted messages sorted by
// descending creation time; the count reflects the same filter predicate,
// including the optional before bound.
func (s *PostgresStore) ListMessages(ctx context.Context, in ListMessagesInput) (MessagePage, error) {
	if s == nil || s.pool == nil {
		return MessagePage{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return MessagePage{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var page MessagePage
	var (
		rows pgx.Rows
		err  error
	)

	if in.Before == nil {
		if err := s.pool.QueryRow(ctx,
			`SELECT count(*) FROM `+messages+` WHERE conversation_id = $1 AND is_deleted = false`,
			in.ConversationID,
		).Scan(&page.Total); err != nil {
			return MessagePage{}, err
		}
		rows, err = s.pool.Query(ctx,
			`SELECT id, conversation_id, sender_id, content, status, is_deleted, deleted_at, created_at, updated_at
			   FROM `+messages+`
			  WHERE conversation_id = $1 AND is_deleted = false
			  ORDER BY created_at DESC, id DESC
			 OFFSET $2 LIMIT $3`,
			in.ConversationID, in.Window.Offset(), in.Window.Limit,
		)
	} else {
		if err := s.pool.QueryRow(ctx,
			`SELECT count(*) FROM `+messages+`
			  WHERE conversation_id = $1 AND is_deleted = false AND created_at < $2`,
			in.ConversationID, *in.Before,
		).Scan(&page.Total); err != nil {
			return MessagePage{}, err
		}
		rows, err = s.pool.Query(ctx,
			`SELECT id, conversation_id, sender_id, content, status, is_deleted, deleted_at, created_at, updated_at
			   FROM `+messages+`
			  WHERE conversation_id = $1 AND is_deleted = false AND created_at < $2
			  ORDER BY created_at DESC, id DESC
			 OFFSET $3 LIMIT $4`,
			in.ConversationID, *in.Before, in.Window.Offset(), in.Window.Limit,
		)
	}
	if err != nil {
		return MessagePage{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Status, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return MessagePage{}, err
		}
		page.Items = append(page.Items, m)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, err
	}
	return page, nil
}

// MarkConversationRead bulk-updates qualifying rows in one statement.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID string, viewerID int64, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET status = $3, updated_at = $4
		  WHERE conversation_id = $1
		    AND sender_id <> $2
		    AND status <> $3
		    AND is_deleted = false`,
		conversationID, viewerID, StatusRead, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) fillParticipants(ctx context.Context, recs []*ConversationRecord) error {
	if len(recs) == 0 {
		return nil
	}

	participants := pgIdent(s.schema, "conversation_participants")

	ids := make([]string, 0, len(recs))
	byID := make(map[string]*ConversationRecord, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
		byID[rec.ID] = rec
	}

	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, user_id
		   FROM `+participants+`
		  WHERE conversation_id = ANY($1)
		  ORDER BY user_id`,
		ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var convID string
		var userID int64
		if err := rows.Scan(&convID, &userID); err != nil {
			return err
		}
		if rec := byID[convID]; rec != nil {
			rec.ParticipantIDs = append(rec.ParticipantIDs, userID)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) fillLastMessages(ctx context.Context, recs []*ConversationRecord) error {
	if len(recs) == 0 {
		return nil
	}

	messages := pgIdent(s.schema, "messages")

	ids := make([]string, 0, len(recs))
	byID := make(map[string]*ConversationRecord, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
		byID[rec.ID] = rec
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (conversation_id) conversation_id, content, created_at
		   FROM `+messages+`
		  WHERE conversation_id = ANY($1) AND is_deleted = false
		  ORDER BY conversation_id, created_at DESC, id DESC`,
		ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var convID, content string
		var createdAt time.Time
		if err := rows.Scan(&convID, &content, &createdAt); err != nil {
			return err
		}
		if rec := byID[convID]; rec != nil {
			rec.LastMessageAt = &createdAt
			rec.LastMessageContent = &content
		}
	}
	return rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
