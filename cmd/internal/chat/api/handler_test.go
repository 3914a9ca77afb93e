package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courier/cmd/internal/chat"
	"courier/cmd/security/token"
)

type stubDirectory struct {
	users map[int64]chat.UserProfile
}

func (d stubDirectory) Profiles(_ context.Context, ids []int64) (map[int64]chat.UserProfile, error) {
	out := make(map[int64]chat.UserProfile, len(ids))
	for _, id := range ids {
		if p, ok := d.users[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type testEnv struct {
	mux    *http.ServeMux
	tokens *token.Manager
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	dir := stubDirectory{users: map[int64]chat.UserProfile{
		1: {UserID: 1, Username: "alice"},
		2: {UserID: 2, Username: "bob"},
		3: {UserID: 3, Username: "carol"},
	}}

	svc, err := chat.NewService(nil, chat.NewInMemoryStore(), dir)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	tokens, err := token.NewManager(token.Config{
		Secret: bytes.Repeat([]byte("k"), token.MinSecretBytes),
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	h, err := NewHandler(nil, svc, tokens, 1<<20)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return testEnv{mux: mux, tokens: tokens}
}

func (e testEnv) bearer(t *testing.T, userID int64) string {
	t.Helper()

	signed, _, err := e.tokens.Issue(userID, time.Now().UTC())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return signed
}

func (e testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) send(t *testing.T, bearer string, req sendMessageRequest) messageResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/messages", bearer, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: status %d body %s", rec.Code, rec.Body.String())
	}
	var msg messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode send: %v", err)
	}
	return msg
}

func TestSendMessage_StatusMapping(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	alice := env.bearer(t, 1)

	// No token at all.
	rec := env.do(t, http.MethodPost, "/api/messages", "", sendMessageRequest{Content: "hi", ReceiverID: 2})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}

	// Happy path.
	msg := env.send(t, alice, sendMessageRequest{Content: "hi bob", ReceiverID: 2})
	if msg.SenderID != 1 || msg.Status != "sent" || msg.ConversationID == "" {
		t.Fatalf("message = %+v", msg)
	}

	// Missing target.
	rec = env.do(t, http.MethodPost, "/api/messages", alice, sendMessageRequest{Content: "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing target: status %d", rec.Code)
	}

	// Unknown receiver.
	rec = env.do(t, http.MethodPost, "/api/messages", alice, sendMessageRequest{Content: "hi", ReceiverID: 99})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown receiver: status %d", rec.Code)
	}

	// Conversation the sender does not belong to (or that does not exist).
	rec = env.do(t, http.MethodPost, "/api/messages", alice, sendMessageRequest{Content: "hi", ConversationID: "nope"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign conversation: status %d", rec.Code)
	}
}

func TestListMessages_EnvelopeAndPaging(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	alice := env.bearer(t, 1)

	first := env.send(t, alice, sendMessageRequest{Content: "msg 0", ReceiverID: 2})
	convID := first.ConversationID
	for i := 1; i < 25; i++ {
		env.send(t, alice, sendMessageRequest{Content: fmt.Sprintf("msg %d", i), ConversationID: convID})
	}

	rec := env.do(t, http.MethodGet, "/api/messages/conversation/"+convID+"?page=3&limit=10", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d body %s", rec.Code, rec.Body.String())
	}

	var env3 struct {
		Total int64             `json:"total"`
		Page  int               `json:"page"`
		Limit int               `json:"limit"`
		Data  []messageResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env3); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env3.Total != 25 || env3.Page != 3 || env3.Limit != 10 || len(env3.Data) != 5 {
		t.Fatalf("envelope = %+v", env3)
	}

	// Defaults applied for junk paging parameters.
	rec = env.do(t, http.MethodGet, "/api/messages/conversation/"+convID+"?page=0&limit=-4", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("coerced paging: status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env3); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env3.Page != 1 || env3.Limit != 20 || len(env3.Data) != 20 {
		t.Fatalf("coerced envelope = %+v", env3)
	}

	// Non-participant is rejected.
	carol := env.bearer(t, 3)
	rec = env.do(t, http.MethodGet, "/api/messages/conversation/"+convID, carol, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-participant: status %d", rec.Code)
	}
}

func TestListMessagesBefore_RequiresTimestamp(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	alice := env.bearer(t, 1)

	msg := env.send(t, alice, sendMessageRequest{Content: "old", ReceiverID: 2})
	convID := msg.ConversationID
	env.send(t, alice, sendMessageRequest{Content: "new", ConversationID: convID})

	rec := env.do(t, http.MethodGet, "/api/messages/conversation/"+convID+"/before", alice, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing before_timestamp: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/messages/conversation/"+convID+"/before?before_timestamp=not-a-time", alice, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed before_timestamp: status %d", rec.Code)
	}

	cut := time.Now().UTC().Add(time.Minute).Format(time.RFC3339)
	rec = env.do(t, http.MethodGet, "/api/messages/conversation/"+convID+"/before?before_timestamp="+cut, alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("before listing: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestConversations_ListAndGet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	alice := env.bearer(t, 1)

	msg := env.send(t, alice, sendMessageRequest{Content: "hi bob", ReceiverID: 2})
	env.send(t, alice, sendMessageRequest{Content: "hi carol", ReceiverID: 3})

	rec := env.do(t, http.MethodGet, "/api/conversations", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var listEnv struct {
		Total int64                  `json:"total"`
		Data  []conversationResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listEnv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listEnv.Total != 2 || len(listEnv.Data) != 2 {
		t.Fatalf("envelope = %+v", listEnv)
	}
	if len(listEnv.Data[0].Participants) != 2 {
		t.Fatalf("participants missing: %+v", listEnv.Data[0])
	}

	rec = env.do(t, http.MethodGet, "/api/conversations/"+msg.ConversationID, alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}

	// Membership precedes existence: unknown ids are Forbidden, not NotFound.
	rec = env.do(t, http.MethodGet, "/api/conversations/does-not-exist", alice, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unknown conversation: status %d", rec.Code)
	}

	carol := env.bearer(t, 3)
	rec = env.do(t, http.MethodGet, "/api/conversations/"+msg.ConversationID, carol, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-participant get: status %d", rec.Code)
	}
}

func TestDeleteAndStatusEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	alice := env.bearer(t, 1)
	bob := env.bearer(t, 2)

	msg := env.send(t, alice, sendMessageRequest{Content: "hello", ReceiverID: 2})

	// Receiver may update status, with any label order.
	rec := env.do(t, http.MethodPut, "/api/messages/"+msg.ID+"/status", bob, updateStatusRequest{Status: "read"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status update: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPut, "/api/messages/"+msg.ID+"/status", bob, updateStatusRequest{Status: "delivered"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status downgrade: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/messages/"+msg.ID+"/status", bob, updateStatusRequest{Status: "seen"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown label: status %d", rec.Code)
	}

	// Only the sender may delete.
	rec = env.do(t, http.MethodDelete, "/api/messages/"+msg.ID, bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("receiver delete: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/messages/"+msg.ID, alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sender delete: status %d", rec.Code)
	}
	var deleted messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &deleted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !deleted.IsDeleted || deleted.DeletedAt == nil {
		t.Fatalf("deleted = %+v", deleted)
	}

	rec = env.do(t, http.MethodDelete, "/api/messages/01ZZZZZZZZZZZZZZZZZZZZZZZZ", alice, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown message: status %d", rec.Code)
	}
}

func TestMarkConversationRead(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	alice := env.bearer(t, 1)
	bob := env.bearer(t, 2)

	msg := env.send(t, alice, sendMessageRequest{Content: "one", ReceiverID: 2})
	convID := msg.ConversationID
	env.send(t, bob, sendMessageRequest{Content: "two", ConversationID: convID})
	env.send(t, alice, sendMessageRequest{Content: "three", ConversationID: convID})

	rec := env.do(t, http.MethodPut, "/api/messages/conversation/"+convID+"/read", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: status %d body %s", rec.Code, rec.Body.String())
	}
	// Decode the raw body: the wire key is part of the API contract.
	var raw map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	count, ok := raw["marked_as_read"]
	if !ok {
		t.Fatalf("missing marked_as_read key in %s", rec.Body.String())
	}
	if count != 1 {
		t.Fatalf("marked = %d", count)
	}

	// Idempotent second call.
	rec = env.do(t, http.MethodPut, "/api/messages/conversation/"+convID+"/read", alice, nil)
	var resp markReadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || resp.MarkedAsRead != 0 {
		t.Fatalf("second call: status %d marked %d", rec.Code, resp.MarkedAsRead)
	}

	carol := env.bearer(t, 3)
	rec = env.do(t, http.MethodPut, "/api/messages/conversation/"+convID+"/read", carol, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-participant mark read: status %d", rec.Code)
	}
}
