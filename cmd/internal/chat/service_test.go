package chat

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type stubDirectory struct {
	users map[int64]UserProfile
}

func (d stubDirectory) Profiles(_ context.Context, ids []int64) (map[int64]UserProfile, error) {
	out := make(map[int64]UserProfile, len(ids))
	for _, id := range ids {
		if p, ok := d.users[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func testDirectory() stubDirectory {
	return stubDirectory{users: map[int64]UserProfile{
		1: {UserID: 1, Username: "alice", IsOnline: true},
		2: {UserID: 2, Username: "bob"},
		3: {UserID: 3, Username: "carol"},
	}}
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	svc, err := NewService(nil, store, testDirectory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func fixedTime(offsetMS int) time.Time {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(offsetMS) * time.Millisecond)
}

func TestResolveOrCreate_SequentialCallsReuseConversation(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	first, err := store.ResolveOrCreateConversation(ctx, 1, 2, fixedTime(0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Order of the pair must not matter.
	second, err := store.ResolveOrCreateConversation(ctx, 2, 1, fixedTime(10))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same conversation, got %q and %q", first.ID, second.ID)
	}
}

func TestResolveOrCreate_WideMintsDuplicateShells(t *testing.T) {
	t.Parallel()

	store := NewInMemoryWideStore()
	ctx := context.Background()

	first, err := store.ResolveOrCreateConversation(ctx, 1, 2, fixedTime(0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := store.ResolveOrCreateConversation(ctx, 1, 2, fixedTime(10))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// The wide-row contract performs no existence check; this divergence is
	// part of the contract, not a bug to fix.
	if first.ID == second.ID {
		t.Fatalf("expected distinct conversation shells, both %q", first.ID)
	}
}

func TestSend_TargetValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
		want func(error) bool
	}{
		{name: "no target", in: SendInput{SenderID: 1, Content: "hi"}, want: IsInvalidInput},
		{name: "empty content", in: SendInput{SenderID: 1, ReceiverID: 2}, want: IsInvalidInput},
		{name: "self send", in: SendInput{SenderID: 1, ReceiverID: 1, Content: "hi"}, want: IsInvalidInput},
		{name: "unknown receiver", in: SendInput{SenderID: 1, ReceiverID: 99, Content: "hi"}, want: IsNotFound},
		{name: "unknown conversation", in: SendInput{SenderID: 1, ConversationID: "nope", Content: "hi"}, want: IsForbidden},
	}
	for _, tc := range cases {
		_, err := svc.Send(ctx, tc.in)
		if err == nil || !tc.want(err) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestSend_ResolvesConversationOnFirstContact(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	m1, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "hello", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m1.Status != StatusSent || m1.IsDeleted {
		t.Fatalf("unexpected lifecycle fields: %+v", m1)
	}

	m2, err := svc.Send(ctx, SendInput{SenderID: 2, ReceiverID: 1, Content: "hey", Now: fixedTime(10)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m1.ConversationID != m2.ConversationID {
		t.Fatalf("expected reply to land in the same conversation")
	}
}

func TestSend_ForbiddenForNonParticipant(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "hello", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = svc.Send(ctx, SendInput{SenderID: 3, ConversationID: m.ConversationID, Content: "intrude", Now: fixedTime(10)})
	if !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestListMessages_PaginationTotalInvariant(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	var convID string
	for i := 0; i < 25; i++ {
		m, err := svc.Send(ctx, SendInput{
			SenderID: 1, ReceiverID: 2,
			Content: fmt.Sprintf("msg %d", i),
			Now:     fixedTime(i * 100),
		})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		convID = m.ConversationID
	}

	page1, err := svc.Messages(ctx, convID, 1, Window{Page: 1, Limit: 10}, nil)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if page1.Total != 25 || len(page1.Items) != 10 {
		t.Fatalf("page 1: total=%d items=%d", page1.Total, len(page1.Items))
	}
	if page1.TotalApproximate {
		t.Fatalf("relational totals must be exact")
	}
	// Most recent first.
	if page1.Items[0].Content != "msg 24" {
		t.Fatalf("expected newest first, got %q", page1.Items[0].Content)
	}

	page3, err := svc.Messages(ctx, convID, 1, Window{Page: 3, Limit: 10}, nil)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3.Items) != 5 {
		t.Fatalf("page 3: items=%d", len(page3.Items))
	}

	var sum int
	for page := 1; ; page++ {
		p, err := svc.Messages(ctx, convID, 1, Window{Page: page, Limit: 10}, nil)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if len(p.Items) == 0 {
			break
		}
		sum += len(p.Items)
	}
	if int64(sum) != page1.Total {
		t.Fatalf("sum of pages %d != total %d", sum, page1.Total)
	}
}

func TestListMessages_BeforeTimestamp(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	var convID string
	for i := 0; i < 10; i++ {
		m, err := svc.Send(ctx, SendInput{
			SenderID: 1, ReceiverID: 2,
			Content: fmt.Sprintf("msg %d", i),
			Now:     fixedTime(i * 1000),
		})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		convID = m.ConversationID
	}

	// Strictly before message 5's timestamp: messages 0..4.
	before := fixedTime(5 * 1000)
	p, err := svc.Messages(ctx, convID, 2, Window{Page: 1, Limit: 20}, &before)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if p.Total != 5 || len(p.Items) != 5 {
		t.Fatalf("before filter: total=%d items=%d", p.Total, len(p.Items))
	}
	if p.Items[0].Content != "msg 4" {
		t.Fatalf("expected msg 4 first, got %q", p.Items[0].Content)
	}
}

func TestDeleteMessage_SoftDeleteSemantics(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "oops", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Only the sender may delete.
	if _, err := svc.DeleteMessage(ctx, m.ID, 2); !IsForbidden(err) {
		t.Fatalf("expected forbidden for receiver delete, got %v", err)
	}

	deleted, err := svc.DeleteMessage(ctx, m.ID, 1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.IsDeleted || deleted.DeletedAt == nil {
		t.Fatalf("delete did not mark row: %+v", deleted)
	}

	// Excluded from list views.
	p, err := svc.Messages(ctx, m.ConversationID, 1, Window{Page: 1, Limit: 20}, nil)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if p.Total != 0 || len(p.Items) != 0 {
		t.Fatalf("deleted message leaked into listing: total=%d items=%d", p.Total, len(p.Items))
	}

	// Still loadable by direct id.
	got, err := svc.Message(ctx, m.ID, 1)
	if err != nil {
		t.Fatalf("direct lookup: %v", err)
	}
	if !got.IsDeleted || got.Content != "oops" {
		t.Fatalf("direct lookup mismatch: %+v", got)
	}

	// Unknown id stays NotFound.
	if _, err := svc.DeleteMessage(ctx, "01ZZZZZZZZZZZZZZZZZZZZZZZZ", 1); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateMessageStatus_LaxTransitions(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "hi", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Non-participant may not update.
	if _, err := svc.UpdateMessageStatus(ctx, m.ID, 3, StatusDelivered); !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// Labels are unordered: read before delivered is accepted, and moving
	// backwards is too.
	if _, err := svc.UpdateMessageStatus(ctx, m.ID, 2, StatusRead); err != nil {
		t.Fatalf("set read: %v", err)
	}
	got, err := svc.UpdateMessageStatus(ctx, m.ID, 2, StatusDelivered)
	if err != nil {
		t.Fatalf("set delivered: %v", err)
	}
	if got.Status != StatusDelivered {
		t.Fatalf("status=%q", got.Status)
	}
}

func TestMarkConversationRead_FixtureCountAndIdempotence(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	// A, B, A exchange: only B's message qualifies for A.
	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "one", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	convID := m.ConversationID
	if _, err := svc.Send(ctx, SendInput{SenderID: 2, ConversationID: convID, Content: "two", Now: fixedTime(10)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.Send(ctx, SendInput{SenderID: 1, ConversationID: convID, Content: "three", Now: fixedTime(20)}); err != nil {
		t.Fatalf("send: %v", err)
	}

	n, err := svc.MarkConversationRead(ctx, convID, 1)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 marked, got %d", n)
	}

	// Second call finds nothing; zero is not an error.
	n, err = svc.MarkConversationRead(ctx, convID, 1)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on second call, got %d", n)
	}

	// Non-participant is rejected.
	if _, err := svc.MarkConversationRead(ctx, convID, 3); !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConversations_RecencyOrderAndHydration(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	first, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "to bob", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 3, Content: "to carol", Now: fixedTime(10)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	page, err := svc.Conversations(ctx, 1, Window{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].ID != second.ConversationID || page.Items[1].ID != first.ConversationID {
		t.Fatalf("expected most recent conversation first")
	}
	if got := page.Items[0].LastMessageContent; got == nil || *got != "to carol" {
		t.Fatalf("last message content = %v", got)
	}
	if len(page.Items[0].Participants) != 2 {
		t.Fatalf("participants = %+v", page.Items[0].Participants)
	}

	// A new message bumps the other conversation back to the top.
	if _, err := svc.Send(ctx, SendInput{SenderID: 2, ConversationID: first.ConversationID, Content: "pong", Now: fixedTime(20)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	page, err = svc.Conversations(ctx, 1, Window{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if page.Items[0].ID != first.ConversationID {
		t.Fatalf("expected bumped conversation first")
	}
}

func TestConversation_MembershipPrecedesExistence(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewInMemoryStore())
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "hi", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Non-participant gets Forbidden, and so does a nonexistent id: the two
	// cases are indistinguishable by design.
	if _, err := svc.Conversation(ctx, m.ConversationID, 3); !IsForbidden(err) {
		t.Fatalf("expected forbidden for non-participant, got %v", err)
	}
	if _, err := svc.Conversation(ctx, "no-such-conversation", 1); !IsForbidden(err) {
		t.Fatalf("expected forbidden for unknown id, got %v", err)
	}
	if _, err := svc.Messages(ctx, "no-such-conversation", 1, Window{Page: 1, Limit: 10}, nil); !IsForbidden(err) {
		t.Fatalf("expected forbidden from listing, got %v", err)
	}

	view, err := svc.Conversation(ctx, m.ConversationID, 1)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if view.ID != m.ConversationID || len(view.Participants) != 2 {
		t.Fatalf("view = %+v", view)
	}
}

func TestWideStore_TokenPagingCoversPartition(t *testing.T) {
	t.Parallel()

	store := NewInMemoryWideStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "msg 0", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	convID := m.ConversationID
	for i := 1; i < 12; i++ {
		if _, err := svc.Send(ctx, SendInput{
			SenderID: 1, ConversationID: convID,
			Content: fmt.Sprintf("msg %d", i),
			Now:     fixedTime(i * 100),
		}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	var token []byte
	for {
		p, err := svc.Messages(ctx, convID, 1, Window{Limit: 5, Token: token}, nil)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if !p.TotalApproximate {
			t.Fatalf("wide totals must be flagged approximate")
		}
		for _, item := range p.Items {
			if seen[item.ID] {
				t.Fatalf("message %s returned twice", item.ID)
			}
			seen[item.ID] = true
		}
		if len(p.NextToken) == 0 {
			break
		}
		token = p.NextToken
	}
	if len(seen) != 12 {
		t.Fatalf("token paging covered %d of 12 messages", len(seen))
	}
}

func TestWideStore_BeforeBoundAndListings(t *testing.T) {
	t.Parallel()

	store := NewInMemoryWideStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "old", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	convID := m.ConversationID
	if _, err := svc.Send(ctx, SendInput{SenderID: 2, ConversationID: convID, Content: "new", Now: fixedTime(5000)}); err != nil {
		t.Fatalf("send: %v", err)
	}

	before := fixedTime(5000)
	p, err := svc.Messages(ctx, convID, 1, Window{Limit: 10}, &before)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].Content != "old" {
		t.Fatalf("before bound returned %+v", p.Items)
	}

	convs, err := svc.Conversations(ctx, 1, Window{Limit: 10})
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs.Items) == 0 {
		t.Fatalf("expected mirror rows in viewer partition")
	}
	if convs.Items[0].CreatedAt.IsZero() {
		t.Fatalf("wide conversation creation time must derive from its id")
	}
}

func TestWideStore_LifecycleThroughIDLookup(t *testing.T) {
	t.Parallel()

	store := NewInMemoryWideStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: 1, ReceiverID: 2, Content: "hello", Now: fixedTime(0)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := svc.UpdateMessageStatus(ctx, m.ID, 2, StatusRead); err != nil {
		t.Fatalf("status: %v", err)
	}
	deleted, err := svc.DeleteMessage(ctx, m.ID, 1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.IsDeleted || deleted.Status != StatusRead {
		t.Fatalf("lifecycle fields lost: %+v", deleted)
	}

	// Read-state over the wide partition is idempotent too.
	if _, err := svc.Send(ctx, SendInput{SenderID: 2, ConversationID: m.ConversationID, Content: "reply", Now: fixedTime(100)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	n, err := svc.MarkConversationRead(ctx, m.ConversationID, 1)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 marked, got %d", n)
	}
	n, err = svc.MarkConversationRead(ctx, m.ConversationID, 1)
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent second call, n=%d err=%v", n, err)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "sent", want: StatusSent},
		{in: "DELIVERED", want: StatusDelivered},
		{in: " read ", want: StatusRead},
		{in: "seen", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseStatus(tc.in)
		if tc.wantErr {
			if !IsInvalidInput(err) {
				t.Fatalf("ParseStatus(%q): expected invalid input, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseStatus(%q)=%q,%v want %q", tc.in, got, err, tc.want)
		}
	}
}
