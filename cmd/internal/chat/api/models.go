package chatapi

import (
	"time"

	"courier/cmd/internal/chat"
)

type sendMessageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
	ReceiverID     int64  `json:"receiver_id,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type messageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Content        string     `json:"content"`
	Status         string     `json:"status"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type participantResponse struct {
	UserID      int64   `json:"user_id"`
	Username    string  `json:"username,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	IsOnline    bool    `json:"is_online"`
}

type conversationResponse struct {
	ID                 string                `json:"id"`
	CreatedAt          time.Time             `json:"created_at"`
	LastMessageAt      *time.Time            `json:"last_message_at,omitempty"`
	LastMessageContent *string               `json:"last_message_content,omitempty"`
	Participants       []participantResponse `json:"participants"`
}

type markReadResponse struct {
	MarkedAsRead int64 `json:"marked_as_read"`
}

// pageEnvelope is the shared list shape. TotalApproximate is emitted only
// when the backing store cannot produce exact counts, so relational
// responses stay byte-identical to their historical form.
type pageEnvelope struct {
	Total            int64  `json:"total"`
	TotalApproximate bool   `json:"total_approximate,omitempty"`
	Page             int    `json:"page"`
	Limit            int    `json:"limit"`
	Data             any    `json:"data"`
	NextToken        string `json:"next_token,omitempty"`
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Status:         string(m.Status),
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toConversationResponse(v chat.ConversationView) conversationResponse {
	out := conversationResponse{
		ID:                 v.ID,
		CreatedAt:          v.CreatedAt,
		LastMessageAt:      v.LastMessageAt,
		LastMessageContent: v.LastMessageContent,
		Participants:       make([]participantResponse, 0, len(v.Participants)),
	}
	for _, p := range v.Participants {
		out.Participants = append(out.Participants, participantResponse{
			UserID:      p.UserID,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			IsOnline:    p.IsOnline,
		})
	}
	return out
}
