package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"travelnow-support/internal/domain"
	"travelnow-support/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatService is the use case surface the HTTP layer depends on.
type ChatService interface {
	Reply(ctx context.Context, in usecase.ReplyInput) (usecase.ReplyOutput, error)
	History(ctx context.Context, userID string) ([]domain.HistoryEntry, error)
}

// Handler adapts API Gateway proxy events to the chat service.
type Handler struct {
	svc    ChatService
	logger *slog.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

var newCorrelationID = func() string {
	return uuid.NewString()
}

func NewHandler(svc ChatService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	return &Handler{svc: svc, logger: slog.Default()}, nil
}

// Handle routes POST /chat and GET /chat/history. Anything else is a 404.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)
	userID := userIDFrom(req.RequestContext)

	path := strings.TrimRight(req.Path, "/")
	switch {
	case req.HTTPMethod == http.MethodPost && strings.HasSuffix(path, "/chat"):
		return h.handleChat(ctx, logger, correlationID, userID, req.Body), nil
	case req.HTTPMethod == http.MethodGet && strings.HasSuffix(path, "/chat/history"):
		return h.handleHistory(ctx, logger, correlationID, userID), nil
	default:
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: "NOT_FOUND"}), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, correlationID, userID, body string) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		logger.Warn("invalid request body", "err", err)
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "invalid_json",
		})
	}

	out, err := h.svc.Reply(ctx, usecase.ReplyInput{UserID: userID, Message: in.Message})
	if err != nil {
		return errorResponseFor(logger, correlationID, err)
	}
	logger.Info("chat reply served", "signed_in", userID != "", "empty_reply", out.Reply == "")
	return jsonResponse(http.StatusOK, correlationID, chatResponse{Reply: out.Reply})
}

func (h *Handler) handleHistory(ctx context.Context, logger *slog.Logger, correlationID, userID string) events.APIGatewayProxyResponse {
	entries, err := h.svc.History(ctx, userID)
	if err != nil {
		return errorResponseFor(logger, correlationID, err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	logger.Info("chat history served", "count", len(entries))
	return jsonResponse(http.StatusOK, correlationID, entries)
}

func errorResponseFor(logger *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.Error("unexpected error", "err", err)
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		logger.Warn("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return jsonResponse(status, correlationID, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// userIDFrom reads the caller identity set by the API Gateway authorizer.
// A Lambda authorizer sets principalId; a Cognito authorizer nests sub under claims.
func userIDFrom(rc events.APIGatewayProxyRequestContext) string {
	auth := rc.Authorizer
	if auth == nil {
		return ""
	}
	if id := stringValue(auth["principalId"]); id != "" {
		return id
	}
	if claims, ok := auth["claims"].(map[string]interface{}); ok {
		if sub := stringValue(claims["sub"]); sub != "" {
			return sub
		}
	}
	return stringValue(auth["sub"])
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
