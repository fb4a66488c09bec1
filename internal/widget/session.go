package widget

import (
	"context"

	"travelnow-support/internal/domain"
)

// hydration is one history fetch, stamped with the ledger revision it was
// issued against.
type hydration struct {
	ctx      context.Context
	identity domain.Identity
	revision uint64
}

// Open expands the widget. On the closed-to-open transition with a signed-in
// visitor it fetches that visitor's history.
func (w *Widget) Open(ctx context.Context) {
	id, signedIn := w.currentIdentity(ctx)

	var h *hydration
	w.apply(func() bool {
		if w.unmounted || w.open {
			return false
		}
		w.open = true
		if signedIn {
			if w.subject != id.Subject {
				w.hydratedFor = ""
			}
			w.subject = id.Subject
			h = w.planHydrationLocked(context.WithoutCancel(ctx), id)
		} else {
			w.subject = ""
		}
		return true
	})
	if h != nil {
		w.startHydration(h)
	}
}

// Close collapses the widget. In-flight work is not aborted.
func (w *Widget) Close() {
	w.apply(func() bool {
		if w.unmounted || !w.open {
			return false
		}
		w.open = false
		return true
	})
}

// SyncIdentity re-reads the identity provider after a sign-in or sign-out.
// While the widget is open, a newly signed-in identity gets its history.
func (w *Widget) SyncIdentity(ctx context.Context) {
	id, signedIn := w.currentIdentity(ctx)

	var h *hydration
	w.apply(func() bool {
		if w.unmounted {
			return false
		}
		if !signedIn {
			w.subject = ""
			w.deferred = nil
			return false
		}
		if id.Subject == w.subject {
			return false
		}
		w.subject = id.Subject
		w.hydratedFor = ""
		if w.open {
			h = w.planHydrationLocked(context.WithoutCancel(ctx), id)
		}
		return false
	})
	if h != nil {
		w.startHydration(h)
	}
}

// Toggle flips the widget between open and closed.
func (w *Widget) Toggle(ctx context.Context) {
	if w.IsOpen() {
		w.Close()
		return
	}
	w.Open(ctx)
}

// planHydrationLocked decides whether a history fetch should start now.
// While a send is pending the fetch is deferred until it settles, so a late
// history response cannot clobber the optimistic turn.
func (w *Widget) planHydrationLocked(ctx context.Context, id domain.Identity) *hydration {
	if w.oncePerIdentity && w.hydratedFor == id.Subject {
		return nil
	}
	if w.hydrating == id.Subject {
		return nil
	}
	h := &hydration{ctx: ctx, identity: id}
	if w.pending != nil {
		w.deferred = h
		return nil
	}
	h.revision = w.ledger.revision
	w.hydrating = id.Subject
	w.inflight.Add(1)
	return h
}

func (w *Widget) startHydration(h *hydration) {
	go func() {
		defer w.inflight.Done()

		ctx, cancel := context.WithTimeout(h.ctx, w.timeout)
		defer cancel()
		entries, err := w.backend.FetchHistory(ctx, h.identity)
		w.settleHydration(h, entries, err)
	}()
}

func (w *Widget) settleHydration(h *hydration, entries []domain.HistoryEntry, err error) {
	subject := h.identity.Subject
	w.apply(func() bool {
		if w.hydrating == subject {
			w.hydrating = ""
		}
		if w.unmounted {
			return false
		}
		if err != nil {
			w.logger.Warn("failed to fetch chat history", "subject", subject, "err", err)
			return false
		}
		if subject != w.subject {
			w.logger.Debug("discarding chat history for previous identity", "subject", subject)
			return false
		}
		if w.ledger.revision != h.revision {
			w.logger.Debug("discarding stale chat history", "subject", subject,
				"issued_revision", h.revision, "revision", w.ledger.revision)
			return false
		}
		w.hydratedFor = subject
		if len(entries) == 0 {
			return false
		}
		w.ledger.replace(turnsFromHistory(entries))
		return true
	})
}
