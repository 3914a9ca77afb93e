package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	authapi "courier/cmd/internal/auth/api"
	"courier/cmd/internal/chat"
)

// Handler wires HTTP messaging endpoints to the chat core service. Every
// route sits behind the bearer-token middleware; the authenticated user id
// is the only identity the core ever sees.
type Handler struct {
	log    *slog.Logger
	svc    *chat.Service
	tokens authapi.TokenVerifier

	maxBodyBytes int64
}

// NewHandler constructs a chat Handler.
func NewHandler(log *slog.Logger, svc *chat.Service, tokens authapi.TokenVerifier, maxBodyBytes int64) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc == nil {
		return nil, errors.New("chatapi: nil service")
	}
	if tokens == nil {
		return nil, errors.New("chatapi: nil token verifier")
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{log: log, svc: svc, tokens: tokens, maxBodyBytes: maxBodyBytes}, nil
}

// Register wires messaging routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	protected := func(fn http.HandlerFunc) http.Handler {
		return authapi.RequireUser(h.tokens, fn)
	}

	mux.Handle("GET /api/conversations", protected(h.handleListConversations))
	mux.Handle("GET /api/conversations/{id}", protected(h.handleGetConversation))

	mux.Handle("POST /api/messages", protected(h.handleSendMessage))
	mux.Handle("GET /api/messages/conversation/{id}", protected(h.handleListMessages))
	mux.Handle("GET /api/messages/conversation/{id}/before", protected(h.handleListMessagesBefore))
	mux.Handle("PUT /api/messages/conversation/{id}/read", protected(h.handleMarkRead))
	mux.Handle("DELETE /api/messages/{id}", protected(h.handleDeleteMessage))
	mux.Handle("PUT /api/messages/{id}/status", protected(h.handleUpdateStatus))
}

// ---- handlers ----

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authapi.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	msg, err := h.svc.Send(r.Context(), chat.SendInput{
		SenderID:       userID,
		Content:        req.Content,
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := authapi.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed paging token")
		return
	}

	page, err := h.svc.Conversations(r.Context(), userID, window)
	if err != nil {
		writeChatError(w, err)
		return
	}

	data := make([]conversationResponse, 0, len(page.Items))
	for _, v := range page.Items {
		data = append(data, toConversationResponse(v))
	}
	writeJSON(w, http.StatusOK, pageEnvelope{
		Total:            page.Total,
		TotalApproximate: page.TotalApproximate,
		Page:             window.Page,
		Limit:            window.Limit,
		Data:             data,
		NextToken:        encodeToken(page.NextToken),
	})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := authapi.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	view, err := h.svc.Conversation(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(view))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	h.listMessages(w, r, false)
}

func (h *Handler) handleListMessagesBefore(w http.ResponseWriter, r *http.Request) {
	h.listMessages(w, r, true)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request, requireBefore bool) {
	userID, ok := authapi.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed paging token")
		return
	}
	before, err := parseBefore(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "before_timestamp must be RFC 3339")
		return
	}
	if requireBefore && before == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "before_timestamp is required")
		return
	}

	page, err := h.svc.Messages(r.Context(), r.PathValue("id"), userID, window, before)
	if err != nil {
		writeChatError(w, err)
		return
	}

	data := make([]messageResponse, 0, len(page.Items))
	for _, m := range page.Items {
		data = append(data, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, pageEnvelope{
		Total:            page.Total,
		TotalApproximate: page.TotalApproximate,
		Page:             window.Page,
		Limit:            window.Limit,
		Data:             data,
		NextToken:        encodeToken(page.NextToken),
	})
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authapi.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	msg, err := h.svc.DeleteMessage(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := authapi.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	status, err := chat.ParseStatus(req.Status)
	if err != nil {
		writeChatError(w, err)
		return
	}

	msg, err := h.svc.UpdateMessageStatus(r.Context(), r.PathValue("id"), userID, status)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := authapi.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	n, err := h.svc.MarkConversationRead(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{MarkedAsRead: n})
}
