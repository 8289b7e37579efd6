package twilio

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"cs-paralegal-bot/internal/domain"
)

// FallbackReply is sent when a handler produced no text at all.
const FallbackReply = "Sorry, something went wrong."

// ContentType is the content type of TwiML responses.
const ContentType = "text/xml"

const emptyResponse = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// FromValues builds an InboundMessage from the posted form. Only the first
// media attachment is considered.
func FromValues(form url.Values) (domain.InboundMessage, error) {
	msg := domain.InboundMessage{
		Sender: strings.TrimSpace(form.Get("From")),
		Body:   strings.TrimSpace(form.Get("Body")),
	}
	if msg.Sender == "" {
		return domain.InboundMessage{}, errors.New("twilio: missing From")
	}
	if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
		msg.MediaURL = strings.TrimSpace(form.Get("MediaUrl0"))
		msg.MediaType = strings.TrimSpace(form.Get("MediaContentType0"))
	}
	return msg, nil
}

// RenderTwiML wraps message in a messaging response. An empty message is
// replaced by FallbackReply.
func RenderTwiML(message string) string {
	if strings.TrimSpace(message) == "" {
		message = FallbackReply
	}
	out, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: message}})
	if err != nil {
		return emptyResponse
	}
	return out
}
