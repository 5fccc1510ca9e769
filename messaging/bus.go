package messaging

import (
	"context"

	"github.com/glimte/voicebus/contracts"
)

// Bus is the contract shared by every engine. Implementations are safe for
// concurrent use.
type Bus interface {
	// Start prepares the engine. Local engines start workers lazily.
	Start(ctx context.Context) error

	// Stop stops accepting work. Queued work may be abandoned; in-flight
	// handlers are not cancelled.
	Stop(ctx context.Context) error

	// Publish validates topic, wraps payload in an envelope and enqueues it.
	Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error

	// Subscribe attaches handler to an exact topic or wildcard pattern.
	Subscribe(ctx context.Context, pattern string, handler Handler) error

	// Request publishes a query as a command and waits for its reply. A
	// timeout yields a failed QueryResult, not an error.
	Request(ctx context.Context, topic string, payload any, opts ...RequestOption) (contracts.QueryResult, error)

	// Stats returns a snapshot of the delivery counters.
	Stats() Stats
}

// Handler processes delivered envelopes
type Handler interface {
	Handle(ctx context.Context, env *contracts.Envelope) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, env *contracts.Envelope) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, env *contracts.Envelope) error {
	return f(ctx, env)
}

// Stats are monotonic delivery counters
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Retries     uint64 `json:"retries"`
	DeadLetters uint64 `json:"dead_letters"`
	Dropped     uint64 `json:"dropped"`
	Expired     uint64 `json:"expired"`
	Abandoned   uint64 `json:"abandoned"`
}
