package chat

// Window describes one requested page of a listing.
//
// The two storage strategies consume different fields and the semantics are
// deliberately not unified:
//
//   - Offset stores (Postgres, in-memory relational) window by
//     offset = (Page-1)*Limit and ignore Token.
//   - Wide-row stores (Cassandra, in-memory wide) window by the opaque
//     continuation Token returned with the previous page; Page is accepted
//     for API symmetry but acts only as a size hint.
type Window struct {
	Page  int
	Limit int
	Token []byte
}

// Offset returns the relational-model row offset for the window.
func (w Window) Offset() int {
	return (w.Page - 1) * w.Limit
}

// ConversationPage is one window over a user's conversation list.
type ConversationPage struct {
	// Total is the count of the full filtered set. Offset stores compute it
	// in the same snapshot as Items; wide-row stores compute it with a
	// separate full-partition count that is only approximately consistent
	// with Items under concurrent writes (TotalApproximate is then true).
	Total            int64
	TotalApproximate bool

	Items []ConversationRecord

	// NextToken continues a wide-row listing. Empty for offset stores and on
	// the last page.
	NextToken []byte
}

// MessagePage is one window over a conversation's message list.
type MessagePage struct {
	Total            int64
	TotalApproximate bool

	Items []Message

	NextToken []byte
}
