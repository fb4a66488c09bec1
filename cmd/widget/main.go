package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"travelnow-support/internal/config"
	"travelnow-support/internal/domain"
	"travelnow-support/internal/integrations/chatapi"
	"travelnow-support/internal/widget"
)

const helpText = `commands:
  /open, /close, /toggle   show or hide the chat
  /login <user> <token>    sign in
  /logout                  sign out
  /1 … /4                  send a suggested question
  /quit                    exit
anything else is sent as a message`

// session is the terminal's sign-in state.
type session struct {
	mu sync.RWMutex
	id domain.Identity
}

func (s *session) CurrentIdentity(context.Context) (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id.Subject != ""
}

func (s *session) set(id domain.Identity) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfg, err := config.LoadWidget()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	client, err := chatapi.NewClient(cfg.APIURL, chatapi.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		slog.Error("failed to create chat api client", "err", err)
		os.Exit(1)
	}

	sess := &session{}
	if cfg.UserID != "" {
		sess.set(domain.Identity{Subject: cfg.UserID, Token: cfg.UserToken})
	}

	w, err := widget.New(client, sess,
		widget.WithLogger(logger),
		widget.WithRequestTimeout(cfg.RequestTimeout),
		widget.WithHydrateOncePerIdentity(cfg.HydrateOnce),
		widget.WithObserver(newRenderer(os.Stdout)),
	)
	if err != nil {
		slog.Error("failed to create widget", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println(helpText)
	w.Open(ctx)
	run(ctx, w, sess, os.Stdin, os.Stdout)

	w.Unmount()
	w.Wait()
}

// run reads commands until EOF, /quit, or ctx is cancelled.
func run(ctx context.Context, w *widget.Widget, sess *session, in io.Reader, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !dispatch(ctx, w, sess, strings.TrimSpace(line), out) {
				return
			}
		}
	}
}

// dispatch handles one input line and reports whether to keep reading.
func dispatch(ctx context.Context, w *widget.Widget, sess *session, line string, out io.Writer) bool {
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return true
		}
		if !w.IsOpen() {
			w.Open(ctx)
		}
		w.SetInput(line)
		if _, ok := w.Submit(ctx); !ok {
			fmt.Fprintln(out, "   (đang chờ phản hồi, vui lòng đợi)")
		}
		return true
	}

	fields := strings.Fields(line)
	switch cmd := strings.TrimPrefix(fields[0], "/"); cmd {
	case "quit", "exit":
		return false
	case "help":
		fmt.Fprintln(out, helpText)
	case "open":
		w.Open(ctx)
	case "close":
		w.Close()
	case "toggle":
		w.Toggle(ctx)
	case "login":
		if len(fields) != 3 {
			fmt.Fprintln(out, "usage: /login <user> <token>")
			return true
		}
		sess.set(domain.Identity{Subject: fields[1], Token: fields[2]})
		w.SyncIdentity(ctx)
	case "logout":
		sess.set(domain.Identity{})
		w.SyncIdentity(ctx)
	default:
		n, err := strconv.Atoi(cmd)
		if err != nil {
			fmt.Fprintf(out, "unknown command %q, try /help\n", fields[0])
			return true
		}
		if _, ok := w.SendSuggestion(ctx, n-1); !ok {
			fmt.Fprintln(out, "   (không có gợi ý này)")
		}
	}
	return true
}
