package widget

import (
	"slices"

	"github.com/oklog/ulid/v2"

	"travelnow-support/internal/domain"
)

// newTurnID mints identifiers for locally created turns. ULIDs from
// ulid.Make are strictly increasing within the process, so a reply always
// sorts after the visitor turn that triggered it.
var newTurnID = func() string {
	return ulid.Make().String()
}

// ledger is the ordered sequence of turns shown to the visitor. revision
// changes on every mutation and lets async work detect that it went stale.
type ledger struct {
	turns    []domain.ChatTurn
	revision uint64
}

func newLedger(welcome string) ledger {
	return ledger{
		turns: []domain.ChatTurn{{ID: newTurnID(), Text: welcome, Origin: domain.Agent}},
	}
}

func (l *ledger) append(t domain.ChatTurn) {
	l.turns = append(l.turns, t)
	l.revision++
}

// replace rewrites the whole ledger. Callers never pass an empty slice: the
// ledger must stay non-empty.
func (l *ledger) replace(turns []domain.ChatTurn) {
	l.turns = turns
	l.revision++
}

func (l *ledger) len() int {
	return len(l.turns)
}

func (l *ledger) snapshot() []domain.ChatTurn {
	return slices.Clone(l.turns)
}

// turnsFromHistory maps server history into ledger turns. The sender tag is
// taken verbatim; entries without an id get a local one so ids stay unique.
func turnsFromHistory(entries []domain.HistoryEntry) []domain.ChatTurn {
	turns := make([]domain.ChatTurn, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = newTurnID()
		}
		turns = append(turns, domain.ChatTurn{ID: id, Text: e.Message, Origin: e.Sender})
	}
	return turns
}
