package chat

import "time"

// ConversationRecord is the store-level view of a conversation: ids only,
// no user profile data. The wide-row model carries nothing but user ids in
// its partitions, so profile hydration is the service's job (UserDirectory).
type ConversationRecord struct {
	ID             string
	ParticipantIDs []int64
	CreatedAt      time.Time

	// Recency data for list views. Nil/empty when no visible message exists.
	LastMessageAt      *time.Time
	LastMessageContent *string
}

// UserProfile is the participant projection embedded in conversation views.
type UserProfile struct {
	UserID      int64
	Username    string
	DisplayName *string
	AvatarURL   *string
	IsOnline    bool
}

// ConversationView is a hydrated conversation as served to API consumers.
type ConversationView struct {
	ID                 string
	Participants       []UserProfile
	CreatedAt          time.Time
	LastMessageAt      *time.Time
	LastMessageContent *string
}
