package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"travelnow-support/internal/domain"
)

const (
	defaultMaxHistory = 20
	defaultMaxMessage = 500
)

// ParamGetter loads a set of named parameters in one round trip.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type HistoryStore interface {
	GetHistory(ctx context.Context, userID string, limit int) ([]domain.Message, error)
	SaveExchange(ctx context.Context, userID, question, answer string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService answers support questions and serves per-user chat history.
type ChatService struct {
	params          ParamGetter
	llm             LLMClient
	store           HistoryStore
	paramPrefix     string
	maxHistoryItems int
	maxMessageLen   int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	openaiModel  string
}

type ReplyInput struct {
	UserID  string
	Message string
}

type ReplyOutput struct {
	Reply string
}

func NewChatService(p ParamGetter, llm LLMClient, s HistoryStore, paramPrefix string, maxHistoryItems, maxMessageLen int) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxHistoryItems <= 0 {
		maxHistoryItems = defaultMaxHistory
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	return &ChatService{
		params:          p,
		llm:             llm,
		store:           s,
		paramPrefix:     paramPrefix,
		maxHistoryItems: maxHistoryItems,
		maxMessageLen:   maxMessageLen,
	}, nil
}

// Reply answers one visitor message. Signed-in visitors get their recent
// history as context and the exchange is persisted; anonymous visitors are
// answered statelessly.
func (s *ChatService) Reply(ctx context.Context, in ReplyInput) (ReplyOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ReplyOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len([]rune(message)) > s.maxMessageLen {
		return ReplyOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ReplyOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	userID := strings.TrimSpace(in.UserID)

	flagged, err := s.llm.Moderate(ctx, message)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ReplyOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return ReplyOutput{}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		return ReplyOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
	}

	var history []domain.Message
	if userID != "" {
		history, err = s.store.GetHistory(ctx, userID, s.maxHistoryItems)
		if err != nil {
			return ReplyOutput{}, newError(ErrorInternal, "dynamodb_history_error", err)
		}
	}

	raw, err := s.llm.Chat(ctx, s.openaiModel, buildPromptMessages(s.systemPrompt, message, history))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ReplyOutput{}, newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return ReplyOutput{}, newError(ErrorUpstream, "openai_error", err)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		// The widget shows its own fallback text for an empty reply.
		return ReplyOutput{}, nil
	}

	if userID != "" {
		if err := s.store.SaveExchange(ctx, userID, message, answer); err != nil {
			return ReplyOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
		}
	}
	return ReplyOutput{Reply: answer}, nil
}

// History returns the signed-in visitor's persisted turns, oldest first.
func (s *ChatService) History(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorUnauthorized, "missing_identity", nil)
	}
	msgs, err := s.store.GetHistory(ctx, userID, s.maxHistoryItems)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	entries := make([]domain.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, domain.HistoryEntry{ID: m.ID, Message: m.Text, Sender: m.Sender})
	}
	return entries, nil
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	promptKey := s.paramPrefix + "/system_prompt"
	modelKey := s.paramPrefix + "/config/openai_model"
	vals, err := s.params.GetParameters(ctx, promptKey, modelKey)
	if err != nil {
		return fmt.Errorf("usecase: load chat config: %w", err)
	}
	if strings.TrimSpace(vals[modelKey]) == "" {
		return errors.New("usecase: openai model is empty")
	}

	s.systemPrompt = vals[promptKey]
	s.openaiModel = strings.TrimSpace(vals[modelKey])
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
