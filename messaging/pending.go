package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/glimte/voicebus/contracts"
)

// PendingReplies tracks requests waiting for their reply, keyed by
// correlation id. Each entry resolves at most once; replies that arrive
// after a timeout find nothing and are dropped.
type PendingReplies struct {
	mu      sync.Mutex
	pending map[string]chan contracts.QueryResult
}

// NewPendingReplies creates an empty tracker
func NewPendingReplies() *PendingReplies {
	return &PendingReplies{
		pending: make(map[string]chan contracts.QueryResult),
	}
}

// Register creates the future for correlationID
func (p *PendingReplies) Register(correlationID string) <-chan contracts.QueryResult {
	ch := make(chan contracts.QueryResult, 1)

	p.mu.Lock()
	p.pending[correlationID] = ch
	p.mu.Unlock()

	return ch
}

// Resolve completes the future for correlationID. It reports false when the
// request is unknown, already resolved or timed out.
func (p *PendingReplies) Resolve(correlationID string, result contracts.QueryResult) bool {
	p.mu.Lock()
	ch, ok := p.pending[correlationID]
	if ok {
		delete(p.pending, correlationID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- result
	return true
}

// Cancel forgets correlationID
func (p *PendingReplies) Cancel(correlationID string) {
	p.mu.Lock()
	delete(p.pending, correlationID)
	p.mu.Unlock()
}

// Len returns the number of outstanding requests
func (p *PendingReplies) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Await waits for the reply on ch. On timeout the request is cancelled and
// a failed QueryResult is returned. The error is only set when ctx ends first.
func (p *PendingReplies) Await(ctx context.Context, correlationID string, ch <-chan contracts.QueryResult, timeout time.Duration) (contracts.QueryResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		p.Cancel(correlationID)
		return contracts.Failure(contracts.TimeoutMessage(timeout)), nil
	case <-ctx.Done():
		p.Cancel(correlationID)
		return contracts.Failure(ctx.Err().Error()), ctx.Err()
	}
}
