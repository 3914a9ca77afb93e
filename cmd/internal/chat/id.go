package chat

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Message ids must be time-monotonic within a conversation partition: under
// the wide-row model the id doubles as the clustering/sort key, so two ids
// minted in the same millisecond must still order by mint sequence. A locked
// monotonic entropy source gives that per process.
var messageIDEntropy = ulid.Monotonic(rand.Reader, 0)

// NewMessageID returns a ULID used as a message id (26-char string,
// lexicographically time-ordered).
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), messageIDEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewWideConversationID returns a ULID used as a wide-row conversation id.
// The embedded timestamp doubles as the conversation creation time, which is
// not materialized anywhere else in the wide-row model.
func NewWideConversationID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewConversationID returns an opaque UUIDv4 used as a relational
// conversation id. Relational conversations carry explicit created_at /
// updated_at columns, so the id itself carries no time component.
func NewConversationID() string {
	return uuid.NewString()
}

// MessageIDUpperBound returns the smallest ULID whose embedded timestamp is
// t, i.e. a synthetic exclusive upper bound for "messages created strictly
// before t" when compared against real message ids with id < bound.
func MessageIDUpperBound(t time.Time) string {
	var id ulid.ULID
	_ = id.SetTime(ulid.Timestamp(t.UTC()))
	return id.String()
}

// ConversationCreatedAt extracts the creation time embedded in a wide-row
// conversation id. Returns the zero time for non-ULID ids.
func ConversationCreatedAt(conversationID string) time.Time {
	id, err := ulid.ParseStrict(conversationID)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time()).UTC()
}
