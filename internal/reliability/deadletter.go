package reliability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/glimte/voicebus/contracts"
)

// Dead-letter reasons
const (
	ReasonMaxAttempts = "max_attempts_exceeded"
	ReasonPermanent   = "permanent_failure"
)

// DeadLetter is a command that could not be delivered
type DeadLetter struct {
	Envelope *contracts.Envelope `json:"envelope"`
	Reason   string              `json:"reason"`
	Error    string              `json:"error,omitempty"`
	FailedAt time.Time           `json:"failedAt"`
}

// DeadLetterStore keeps dead letters for inspection
type DeadLetterStore interface {
	Store(ctx context.Context, letter DeadLetter) error
	Get(ctx context.Context, messageID string) (DeadLetter, error)
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	Delete(ctx context.Context, messageID string) error
	Len() int
}

// NewDeadLetter builds a dead letter for env failed with cause
func NewDeadLetter(env *contracts.Envelope, reason string, cause error) DeadLetter {
	letter := DeadLetter{
		Envelope: env,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	if cause != nil {
		letter.Error = cause.Error()
	}
	return letter
}

// MemoryDeadLetterStore is an unbounded in-memory DeadLetterStore
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	letters map[string]DeadLetter
	order   []string
}

// NewMemoryDeadLetterStore creates an empty store
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{
		letters: make(map[string]DeadLetter),
	}
}

// Store implements DeadLetterStore
func (s *MemoryDeadLetterStore) Store(ctx context.Context, letter DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := letter.Envelope.ID
	if _, exists := s.letters[id]; !exists {
		s.order = append(s.order, id)
	}
	s.letters[id] = letter
	return nil
}

// Get implements DeadLetterStore
func (s *MemoryDeadLetterStore) Get(ctx context.Context, messageID string) (DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	letter, ok := s.letters[messageID]
	if !ok {
		return DeadLetter{}, ErrDeadLetterNotFound
	}
	return letter, nil
}

// List returns up to limit dead letters, oldest first. A limit <= 0 returns all.
func (s *MemoryDeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, 0, n)
	for _, id := range s.order[:n] {
		out = append(out, s.letters[id])
	}
	return out, nil
}

// Delete implements DeadLetterStore
func (s *MemoryDeadLetterStore) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.letters[messageID]; !ok {
		return ErrDeadLetterNotFound
	}
	delete(s.letters, messageID)
	for i, id := range s.order {
		if id == messageID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len implements DeadLetterStore
func (s *MemoryDeadLetterStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.letters)
}

// CountByTopic groups the stored dead letters by topic
func (s *MemoryDeadLetterStore) CountByTopic() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, letter := range s.letters {
		counts[letter.Envelope.Type]++
	}
	return counts
}

// Topics returns the topics with at least one dead letter, sorted
func (s *MemoryDeadLetterStore) Topics() []string {
	counts := s.CountByTopic()
	out := make([]string, 0, len(counts))
	for topic := range counts {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
