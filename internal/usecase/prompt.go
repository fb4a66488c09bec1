package usecase

import (
	"strings"

	"travelnow-support/internal/domain"
)

func buildPromptMessages(systemPrompt, message string, history []domain.Message) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPolicyPrompt()},
	}
	if pinned := strings.TrimSpace(systemPrompt); pinned != "" {
		messages = append(messages, domain.ChatMessage{Role: "system", Content: pinned})
	}

	for _, m := range history {
		if pm, ok := historyToPromptMessage(m); ok {
			messages = append(messages, pm)
		}
	}

	messages = append(messages, domain.ChatMessage{
		Role:    "user",
		Content: message,
	})
	return messages
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are the TravelNow support assistant for a hotel booking website.",
		"",
		"Behavior Rules:",
		behaviorRules(),
	}, "\n")
}

func historyToPromptMessage(m domain.Message) (domain.ChatMessage, bool) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return domain.ChatMessage{}, false
	}
	switch m.Sender {
	case domain.Visitor:
		return domain.ChatMessage{Role: "user", Content: text}, true
	case domain.Agent:
		return domain.ChatMessage{Role: "assistant", Content: text}, true
	default:
		return domain.ChatMessage{}, false
	}
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Answer only the current visitor message.",
		"2) Reply in the language the visitor wrote in.",
		"3) Keep replies short, friendly and specific to bookings, cancellations, promotions and support contacts.",
		"4) Never invent prices, availability or booking references.",
		"5) If you cannot help, point the visitor to the support contact page.",
	}, "\n")
}
