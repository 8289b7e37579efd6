package continuation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cs-paralegal-bot/internal/chunk"
)

// NoMoreContent is returned by Next when the sender has nothing pending.
const NoMoreContent = "No more content to show."

const defaultStoreTimeout = 3 * time.Second

// Store persists the undelivered tail of a reply, keyed by sender.
// A nil or empty chunk list passed to Put clears the record.
type Store interface {
	Put(ctx context.Context, sender string, chunks []string) error
	TakeNext(ctx context.Context, sender string) (string, bool, error)
	Clear(ctx context.Context, sender string) error
}

// Controller pages long replies through a Store. It holds no chunk state of its
// own, so one instance can serve every request.
type Controller struct {
	store        Store
	storeTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Controller)

// WithStoreTimeout bounds every Store call. A timed out call is handled like an
// unreachable store.
func WithStoreTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewController(store Store, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("continuation: store must not be nil")
	}
	c := &Controller{
		store:        store,
		storeTimeout: defaultStoreTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Deliver splits fullText and returns the first piece. When more pieces exist
// they are stored for sender and hasMore is true; the caller appends the
// "continue" hint. If the tail cannot be stored the full text is returned as a
// single message instead. Pieces holding only whitespace are never sent.
func (c *Controller) Deliver(ctx context.Context, sender, fullText string, maxLength int) (head string, hasMore bool) {
	pieces := dropBlank(chunk.Split(fullText, maxLength))
	if len(pieces) == 0 {
		return fullText, false
	}
	if len(pieces) == 1 {
		return pieces[0], false
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	if err := c.store.Put(storeCtx, sender, pieces[1:]); err != nil {
		c.logger.ErrorContext(ctx, "failed to store continuation",
			"sender", sender, "chunks", len(pieces), "err", err)
		return fullText, false
	}

	c.logger.InfoContext(ctx, "stored continuation", "sender", sender, "pending", len(pieces)-1)
	return pieces[0], true
}

// Next pops the sender's next pending piece, or returns NoMoreContent.
// Whitespace-only pieces left by older records are skipped.
func (c *Controller) Next(ctx context.Context, sender string) string {
	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	for {
		next, ok, err := c.store.TakeNext(storeCtx, sender)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to read continuation", "sender", sender, "err", err)
			return NoMoreContent
		}
		if !ok {
			return NoMoreContent
		}
		if strings.TrimSpace(next) != "" {
			return next
		}
	}
}

// Clear drops any pending continuation for sender.
func (c *Controller) Clear(ctx context.Context, sender string) error {
	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.store.Clear(storeCtx, sender)
}

func dropBlank(pieces []string) []string {
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
