package domain

// Origin tags who authored a turn. The values are the sender tags used on the
// wire by the chat backend.
type Origin string

const (
	Visitor Origin = "user"
	Agent   Origin = "bot"
)

// ChatTurn is one entry of the widget ledger.
type ChatTurn struct {
	ID     string
	Text   string
	Origin Origin
}

// Identity is the signed-in visitor as handed out by the authentication
// collaborator. Subject keys per-user state; Token authenticates backend calls.
type Identity struct {
	Subject string
	Token   string
}
