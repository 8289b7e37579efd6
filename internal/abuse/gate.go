package abuse

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTerms is used when no pattern list is configured.
var DefaultTerms = []string{
	"fuck", "shit", "asshole", "bastard",
	"suck", "kill", "suicide", "rape",
}

// Notice is the reply sent instead of an answer when a message is blocked.
const Notice = "⚠️ This bot only supports Company Secretary-related questions. Please keep the conversation professional."

type pattern struct {
	term string
	re   *regexp.Regexp
}

// Gate matches inbound text against banned terms. Terms are matched as whole
// words, case-insensitively. A Gate is immutable and safe for concurrent use.
type Gate struct {
	patterns []pattern
}

func NewGate(terms []string) (*Gate, error) {
	g := &Gate{}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("abuse: compile %q: %w", term, err)
		}
		g.patterns = append(g.patterns, pattern{term: term, re: re})
	}
	if len(g.patterns) == 0 {
		return nil, errors.New("abuse: at least one term is required")
	}
	return g, nil
}

// Check returns the first banned term found in text.
func (g *Gate) Check(text string) (string, bool) {
	for _, p := range g.patterns {
		if p.re.MatchString(text) {
			return p.term, true
		}
	}
	return "", false
}

type termList struct {
	Terms []string `yaml:"terms"`
}

// ParseTerms reads a YAML term list. Both a bare sequence and a mapping with a
// "terms" key are accepted.
func ParseTerms(raw string) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}
	var doc termList
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("abuse: decode terms: %w", err)
	}
	return doc.Terms, nil
}
