package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"travelnow-support/internal/domain"
	"travelnow-support/internal/widget"
)

// tailSize is how many turns are reprinted when the transcript is replaced.
const tailSize = 10

// renderer prints widget commits as a scrolling transcript. Each commit
// scrolls to the newest turn: new turns are appended, a replaced ledger
// reprints its tail.
type renderer struct {
	mu          sync.Mutex
	out         io.Writer
	open        bool
	loading     bool
	shown       []string
	suggestions []string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) OnCommit(v widget.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Open != r.open {
		r.open = v.Open
		if v.Open {
			fmt.Fprintln(r.out, "── chat opened ──")
		} else {
			fmt.Fprintln(r.out, "── chat closed ──")
		}
	}
	if !v.Open {
		r.shown = nil
		r.suggestions = nil
		return
	}

	ids := make([]string, len(v.Turns))
	for i, t := range v.Turns {
		ids[i] = t.ID
	}
	appendOnly := len(r.shown) > 0 && len(ids) >= len(r.shown) && slices.Equal(ids[:len(r.shown)], r.shown)
	if appendOnly {
		for _, t := range v.Turns[len(r.shown):] {
			r.printTurn(t)
		}
	} else {
		start := max(0, len(v.Turns)-tailSize)
		if start > 0 {
			fmt.Fprintf(r.out, "   … %d earlier messages\n", start)
		}
		for _, t := range v.Turns[start:] {
			r.printTurn(t)
		}
	}
	r.shown = ids

	if v.Loading && !r.loading {
		fmt.Fprintln(r.out, "   trợ lý đang trả lời…")
	}
	r.loading = v.Loading

	if !slices.Equal(v.Suggestions, r.suggestions) {
		r.suggestions = slices.Clone(v.Suggestions)
		for i, s := range v.Suggestions {
			fmt.Fprintf(r.out, "   [%d] %s\n", i+1, s)
		}
	}
}

func (r *renderer) printTurn(t domain.ChatTurn) {
	label := "bot"
	if t.Origin == domain.Visitor {
		label = "you"
	}
	fmt.Fprintf(r.out, "%-4s %s\n", label+":", strings.TrimSpace(t.Text))
}
