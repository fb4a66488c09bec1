package widget

import (
	"context"
	"slices"
	"strings"

	"travelnow-support/internal/domain"
)

// Outcome says how an exchange settled.
type Outcome int

const (
	OutcomePending Outcome = iota
	// OutcomeReplied: the backend answered with usable text.
	OutcomeReplied
	// OutcomeFallback: the backend answered without reply text.
	OutcomeFallback
	// OutcomeFailed: the round trip failed and an apology was shown.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeFallback:
		return "fallback"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Exchange is one visitor send. It is pending from the optimistic append
// until exactly one agent turn has been appended for it, then settled.
type Exchange struct {
	Prompt domain.ChatTurn

	done    chan struct{}
	reply   domain.ChatTurn
	outcome Outcome
}

func newExchange(prompt domain.ChatTurn) *Exchange {
	return &Exchange{Prompt: prompt, done: make(chan struct{})}
}

// Done is closed once the exchange has settled.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Settled reports whether the reply turn has been appended.
func (e *Exchange) Settled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Result returns the agent turn and outcome. Before settlement it returns
// OutcomePending.
func (e *Exchange) Result() (domain.ChatTurn, Outcome) {
	if !e.Settled() {
		return domain.ChatTurn{}, OutcomePending
	}
	return e.reply, e.outcome
}

func (e *Exchange) settle(reply domain.ChatTurn, outcome Outcome) {
	e.reply = reply
	e.outcome = outcome
	close(e.done)
}

// SetInput replaces the text field contents.
func (w *Widget) SetInput(text string) {
	w.apply(func() bool {
		if w.unmounted || w.input == text {
			return false
		}
		w.input = text
		return true
	})
}

// Input returns the text field contents.
func (w *Widget) Input() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.input
}

// CanSend reports whether a send would be accepted apart from its text: the
// widget is mounted and no exchange is pending. View.SendEnabled additionally
// requires non-blank input, since it describes the text field's send button.
func (w *Widget) CanSend() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.unmounted && w.pending == nil
}

// Suggestions returns the shortcut questions currently on offer.
func (w *Widget) Suggestions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visibleSuggestionsLocked()
}

func (w *Widget) visibleSuggestionsLocked() []string {
	if w.pending != nil || w.ledger.len() >= suggestionLedgerLimit {
		return nil
	}
	return slices.Clone(w.suggestions)
}

// Submit sends the text field contents.
func (w *Widget) Submit(ctx context.Context) (*Exchange, bool) {
	return w.Send(ctx, w.Input())
}

// SendSuggestion sends the i-th visible shortcut question as if typed. The
// shortcut is resolved under the same lock as the append, so one hidden in
// the meantime is rejected.
func (w *Widget) SendSuggestion(ctx context.Context, i int) (*Exchange, bool) {
	if i < 0 {
		return nil, false
	}
	return w.send(ctx, "", i)
}

// Send appends the visitor turn, then asks the backend for a reply in the
// background. It returns false without touching state when text is blank or
// another exchange is still pending.
func (w *Widget) Send(ctx context.Context, text string) (*Exchange, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	return w.send(ctx, text, -1)
}

// send uses the text of the given shortcut when suggestion is non-negative.
func (w *Widget) send(ctx context.Context, text string, suggestion int) (*Exchange, bool) {
	id, _ := w.currentIdentity(ctx)

	var ex *Exchange
	w.apply(func() bool {
		if w.unmounted || w.pending != nil {
			return false
		}
		if suggestion >= 0 {
			visible := w.visibleSuggestionsLocked()
			if suggestion >= len(visible) {
				return false
			}
			text = visible[suggestion]
		}
		prompt := domain.ChatTurn{ID: newTurnID(), Text: text, Origin: domain.Visitor}
		w.ledger.append(prompt)
		w.input = ""
		ex = newExchange(prompt)
		w.pending = ex
		w.inflight.Add(1)
		return true
	})
	if ex == nil {
		return nil, false
	}

	go w.roundTrip(context.WithoutCancel(ctx), ex, id)
	return ex, true
}

func (w *Widget) roundTrip(ctx context.Context, ex *Exchange, id domain.Identity) {
	defer w.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	reply, err := w.backend.PostMessage(ctx, id, ex.Prompt.Text)

	outcome := OutcomeReplied
	text := reply.Reply
	switch {
	case err != nil:
		w.logger.Error("chat send failed", "turn_id", ex.Prompt.ID, "err", err)
		outcome = OutcomeFailed
		text = w.apology
	case strings.TrimSpace(text) == "":
		w.logger.Warn("chat reply had no text", "turn_id", ex.Prompt.ID)
		outcome = OutcomeFallback
		text = w.fallback
	}
	w.settle(ex, domain.ChatTurn{ID: newTurnID(), Text: text, Origin: domain.Agent}, outcome)
}

// settle applies the single reconciling mutation for ex and starts any
// history fetch that was waiting on it.
func (w *Widget) settle(ex *Exchange, reply domain.ChatTurn, outcome Outcome) {
	var h *hydration
	w.apply(func() bool {
		if w.pending == ex {
			w.pending = nil
		}
		if w.unmounted {
			return false
		}
		w.ledger.append(reply)
		if d := w.deferred; d != nil {
			w.deferred = nil
			if d.identity.Subject == w.subject {
				h = w.planHydrationLocked(d.ctx, d.identity)
			}
		}
		return true
	})
	ex.settle(reply, outcome)
	if h != nil {
		w.startHydration(h)
	}
}
