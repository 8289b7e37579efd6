package twilio

import (
	"context"
	"errors"
	"net/url"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the request signature on every webhook delivery.
const SignatureHeader = "X-Twilio-Signature"

var (
	ErrMissingSignature = errors.New("twilio: request is not signed")
	ErrInvalidSignature = errors.New("twilio: request signature does not match")
	ErrNoAuthToken      = errors.New("twilio: auth token is not configured")
)

// SignatureVerifier checks that a webhook delivery was signed with the
// account's auth token.
type SignatureVerifier struct {
	creds *CredentialSource
}

func NewSignatureVerifier(creds *CredentialSource) (*SignatureVerifier, error) {
	if creds == nil {
		return nil, errors.New("twilio: credential source must not be nil")
	}
	return &SignatureVerifier{creds: creds}, nil
}

// Verify validates signature against the public URL Twilio posted to and the
// posted form. Without a configured auth token every request is rejected.
func (v *SignatureVerifier) Verify(ctx context.Context, webhookURL string, form url.Values, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	creds, err := v.creds.load(ctx)
	if err != nil {
		return err
	}
	if creds == nil {
		return ErrNoAuthToken
	}

	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	validator := client.NewRequestValidator(creds.AuthToken)
	if !validator.Validate(webhookURL, params, signature) {
		return ErrInvalidSignature
	}
	return nil
}
