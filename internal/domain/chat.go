package domain

import "strings"

// ChatMessage is the provider-agnostic chat message shape passed to the LLM
// integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InboundMessage is one webhook delivery from the messaging provider.
type InboundMessage struct {
	Sender    string
	Body      string
	MediaURL  string
	MediaType string
}

// HasAudio reports whether the message carries a voice note.
func (m InboundMessage) HasAudio() bool {
	return m.MediaURL != "" && strings.HasPrefix(strings.ToLower(m.MediaType), "audio/")
}

// Media is a downloaded attachment.
type Media struct {
	Filename    string
	ContentType string
	Body        []byte
}
