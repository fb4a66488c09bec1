package domain

// Message is a single persisted chat line in a user's history.
type Message struct {
	PK     string
	SK     string
	ID     string
	UserID string
	Sender Origin
	Text   string
	TTL    int64
}

// HistoryEntry is the wire shape of one history item served by GET /chat/history.
type HistoryEntry struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Sender  Origin `json:"sender"`
}

// Reply is the wire shape returned by POST /chat. Reply may be empty when the
// backend had nothing usable to say.
type Reply struct {
	Reply string `json:"reply,omitempty"`
}
