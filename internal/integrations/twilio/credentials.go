package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cs-paralegal-bot/internal/integrations/paramstore"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type credentials struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
}

// CredentialSource reads the account credentials from `<prefix>/twilio-auth`
// once and shares them between media downloads and signature checks. A
// failed lookup is not cached.
type CredentialSource struct {
	getter Getter
	name   string

	mu     sync.Mutex
	loaded bool
	creds  *credentials
}

func NewCredentialSource(g Getter, paramPrefix string) (*CredentialSource, error) {
	if g == nil {
		return nil, errors.New("twilio: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("twilio: parameter prefix must not be empty")
	}
	return &CredentialSource{getter: g, name: paramPrefix + "/twilio-auth"}, nil
}

// load returns nil credentials when the parameter is absent or incomplete.
func (s *CredentialSource) load(ctx context.Context) (*credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.creds, nil
	}

	raw, ok, err := paramstore.GetOptional(ctx, s.getter, s.name)
	if err != nil {
		return nil, fmt.Errorf("twilio: load credentials: %w", err)
	}
	if ok {
		var c credentials
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("twilio: decode credentials: %w", err)
		}
		if c.AccountSID != "" && c.AuthToken != "" {
			s.creds = &c
		}
	}
	s.loaded = true
	return s.creds, nil
}
