// Package widget implements the support chat client: whether the chat window
// is open, the ledger of turns shown to the visitor, and the coordinator that
// turns visitor input into optimistic turns reconciled with backend replies.
//
// All state sits behind a single mutex. The only asynchronous work is the
// history fetch and the send/reply round trip; each runs on its own goroutine
// and applies exactly one mutation when it settles. Nothing here returns an
// error to the caller once the widget is built: failures end up in the log or
// as an apology turn.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"travelnow-support/internal/domain"
)

const (
	DefaultWelcome  = "Xin chào! Tôi là trợ lý ảo TravelNow. Tôi có thể giúp gì cho bạn?"
	DefaultFallback = "Xin lỗi, tôi đang gặp sự cố kết nối."
	DefaultApology  = "Xin lỗi, có lỗi xảy ra. Vui lòng thử lại sau."

	defaultRequestTimeout = 15 * time.Second

	// Shortcuts are offered only while the ledger is shorter than this.
	suggestionLedgerLimit = 3
)

// DefaultSuggestions are the shortcut questions shown on a fresh ledger.
var DefaultSuggestions = []string{
	"Làm sao để đặt phòng?",
	"Chính sách hủy phòng",
	"Khuyến mãi hiện có",
	"Liên hệ hỗ trợ",
}

// Backend is the remote chat service.
type Backend interface {
	FetchHistory(ctx context.Context, id domain.Identity) ([]domain.HistoryEntry, error)
	// PostMessage sends one visitor message. A zero Identity means anonymous.
	PostMessage(ctx context.Context, id domain.Identity, message string) (domain.Reply, error)
}

// IdentityProvider yields the signed-in visitor, if any.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (domain.Identity, bool)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (domain.Identity, bool)

func (f IdentityFunc) CurrentIdentity(ctx context.Context) (domain.Identity, bool) {
	return f(ctx)
}

// Anonymous never yields an identity.
var Anonymous IdentityProvider = IdentityFunc(func(context.Context) (domain.Identity, bool) {
	return domain.Identity{}, false
})

// View is an immutable snapshot of the widget handed to observers.
type View struct {
	Open        bool
	Turns       []domain.ChatTurn
	Loading     bool
	Suggestions []string
	Input       string
	// SendEnabled is CanSend plus non-blank Input.
	SendEnabled bool
}

// Observer is notified after every committed state change, in commit order.
// Observers run outside the state lock and may call back into the widget.
type Observer interface {
	OnCommit(v View)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(v View)

func (f ObserverFunc) OnCommit(v View) { f(v) }

type Option func(*Widget)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Widget) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(w *Widget) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithHydrateOncePerIdentity makes reopening the widget skip the history
// fetch once it has succeeded for the current identity.
func WithHydrateOncePerIdentity(once bool) Option {
	return func(w *Widget) {
		w.oncePerIdentity = once
	}
}

// WithTexts overrides the welcome, fallback and apology strings. Blank values
// keep the defaults.
func WithTexts(welcome, fallback, apology string) Option {
	return func(w *Widget) {
		if strings.TrimSpace(welcome) != "" {
			w.welcome = welcome
		}
		if strings.TrimSpace(fallback) != "" {
			w.fallback = fallback
		}
		if strings.TrimSpace(apology) != "" {
			w.apology = apology
		}
	}
}

func WithSuggestions(suggestions []string) Option {
	return func(w *Widget) {
		w.suggestions = slices.Clone(suggestions)
	}
}

func WithObserver(o Observer) Option {
	return func(w *Widget) {
		if o != nil {
			w.observers = append(w.observers, o)
		}
	}
}

// Widget is one mounted chat widget.
type Widget struct {
	backend         Backend
	identity        IdentityProvider
	logger          *slog.Logger
	timeout         time.Duration
	oncePerIdentity bool
	welcome         string
	fallback        string
	apology         string
	suggestions     []string

	mu          sync.Mutex
	open        bool
	unmounted   bool
	ledger      ledger
	input       string
	pending     *Exchange
	subject     string // identity seen on the latest open
	hydratedFor string
	hydrating   string
	deferred    *hydration
	observers   []Observer
	outbox      []View
	flushing    bool

	inflight sync.WaitGroup
}

// New mounts a widget seeded with the welcome turn.
func New(backend Backend, identity IdentityProvider, opts ...Option) (*Widget, error) {
	if backend == nil {
		return nil, errors.New("widget: backend must not be nil")
	}
	if identity == nil {
		return nil, errors.New("widget: identity provider must not be nil")
	}
	w := &Widget{
		backend:     backend,
		identity:    identity,
		logger:      slog.Default(),
		timeout:     defaultRequestTimeout,
		welcome:     DefaultWelcome,
		fallback:    DefaultFallback,
		apology:     DefaultApology,
		suggestions: slices.Clone(DefaultSuggestions),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ledger = newLedger(w.welcome)
	return w, nil
}

// Subscribe registers an observer for subsequent commits.
func (w *Widget) Subscribe(o Observer) {
	if o == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// Clip so a flush reading the old slice never sees it grow underneath.
	w.observers = append(slices.Clip(w.observers), o)
}

// Snapshot returns the current state.
func (w *Widget) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Turns returns a copy of the ledger.
func (w *Widget) Turns() []domain.ChatTurn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ledger.snapshot()
}

// IsOpen reports whether the chat window is expanded.
func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Loading reports whether a send is awaiting its reply.
func (w *Widget) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

// Unmount tears the widget down. Work still in flight settles without
// touching state or notifying observers.
func (w *Widget) Unmount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unmounted = true
	w.deferred = nil
	w.outbox = nil
}

// Wait blocks until every in-flight fetch and send has settled.
func (w *Widget) Wait() {
	w.inflight.Wait()
}

// apply runs fn under the state lock and, when fn reports a change, publishes
// the resulting view to observers.
func (w *Widget) apply(fn func() bool) {
	w.mu.Lock()
	changed := fn()
	flush := false
	if changed && !w.unmounted {
		w.outbox = append(w.outbox, w.viewLocked())
		if !w.flushing {
			w.flushing = true
			flush = true
		}
	}
	w.mu.Unlock()
	if flush {
		w.flush()
	}
}

// flush delivers queued views one at a time. Only one goroutine flushes at a
// time; commits made meanwhile (including from observers) join its queue.
func (w *Widget) flush() {
	for {
		w.mu.Lock()
		if len(w.outbox) == 0 {
			w.flushing = false
			w.mu.Unlock()
			return
		}
		view := w.outbox[0]
		w.outbox = w.outbox[1:]
		observers := w.observers
		w.mu.Unlock()

		for _, o := range observers {
			o.OnCommit(view)
		}
	}
}

func (w *Widget) viewLocked() View {
	loading := w.pending != nil
	return View{
		Open:        w.open,
		Turns:       w.ledger.snapshot(),
		Loading:     loading,
		Suggestions: w.visibleSuggestionsLocked(),
		Input:       w.input,
		SendEnabled: !loading && !w.unmounted && strings.TrimSpace(w.input) != "",
	}
}

func (w *Widget) currentIdentity(ctx context.Context) (domain.Identity, bool) {
	id, ok := w.identity.CurrentIdentity(ctx)
	if !ok || strings.TrimSpace(id.Subject) == "" {
		return domain.Identity{}, false
	}
	return id, true
}
