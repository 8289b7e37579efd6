package usecase

import (
	"strings"

	"cs-paralegal-bot/internal/domain"
)

const defaultSystemPrompt = "You are a digital paralegal assistant for Company Secretaries in India. " +
	"Explain CS laws, sections, and procedures with bullet points and legal accuracy. " +
	"When prompted with 'draft', provide only the resolution body."

func systemPrompt(pinned string) string {
	if p := strings.TrimSpace(pinned); p != "" {
		return p
	}
	return defaultSystemPrompt
}

func buildChatMessages(pinned, question string, history []domain.Message) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: systemPrompt(pinned)},
	}
	for _, m := range history {
		messages = append(messages, historyToPromptMessages(m)...)
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: question})
}

// buildDraftMessages leaves out history: a draft is generated from the request
// alone.
func buildDraftMessages(pinned, request string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: systemPrompt(pinned)},
		{Role: "user", Content: request},
	}
}

func historyToPromptMessages(m domain.Message) []domain.ChatMessage {
	question := strings.TrimSpace(m.Text)
	answer := strings.TrimSpace(m.Answer)
	if question == "" || answer == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: "user", Content: question},
		{Role: "assistant", Content: answer},
	}
}
