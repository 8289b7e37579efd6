package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"cs-paralegal-bot/internal/domain"
)

// maxMemoryTurns is how many turns MemoryState keeps per sender. History reads
// never ask for more than the configured context size.
const maxMemoryTurns = 50

// MemoryState keeps turns, abuse records and documents in process memory. It
// backs the local server when no table is configured; nothing survives a
// restart.
type MemoryState struct {
	mu       sync.Mutex
	now      func() time.Time
	maxTurns int
	turns    map[string][]domain.Message
	abuse    []domain.AbuseRecord
	docs     map[string]domain.Document
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		now:      time.Now,
		maxTurns: maxMemoryTurns,
		turns:    make(map[string][]domain.Message),
		docs:     make(map[string]domain.Document),
	}
}

func (m *MemoryState) GetHistory(_ context.Context, sender string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.turns[sender]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]domain.Message(nil), all...), nil
}

func (m *MemoryState) SaveTurn(_ context.Context, sender, question, answer string) error {
	if sender == "" {
		return errors.New("repository: SaveTurn: sender must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now()
	turns := append(m.turns[sender], domain.Message{
		PK:     senderPK(sender),
		SK:     timeSK(skPrefixTurn, ts),
		Sender: sender,
		Text:   question,
		Answer: answer,
	})
	if len(turns) > m.maxTurns {
		// Copy so the dropped turns do not stay reachable through the backing array.
		turns = append([]domain.Message(nil), turns[len(turns)-m.maxTurns:]...)
	}
	m.turns[sender] = turns
	return nil
}

func (m *MemoryState) LogAbuse(_ context.Context, sender, message, term string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abuse = append(m.abuse, domain.AbuseRecord{
		Sender:   sender,
		Message:  message,
		Term:     term,
		LoggedAt: m.now().UTC().Format(time.RFC3339Nano),
	})
	return nil
}

// AbuseRecords returns a copy of everything logged so far.
func (m *MemoryState) AbuseRecords() []domain.AbuseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AbuseRecord(nil), m.abuse...)
}

func (m *MemoryState) PutDocument(_ context.Context, doc domain.Document) error {
	if doc.Name == "" {
		return errors.New("repository: PutDocument: name must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.CreatedAt == "" {
		doc.CreatedAt = m.now().UTC().Format(time.RFC3339Nano)
	}
	doc.Body = append([]byte(nil), doc.Body...)
	m.docs[doc.Name] = doc
	return nil
}

func (m *MemoryState) GetDocument(_ context.Context, name string) (domain.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[name]
	return doc, ok, nil
}
