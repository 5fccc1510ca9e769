package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/messaging"
)

// DuplicateStore remembers message ids that were claimed for handling
type DuplicateStore interface {
	// Claim records id and reports whether it was new
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// Release forgets id so a redelivery is handled again
	Release(ctx context.Context, id string) error
}

// Deduplication skips envelopes whose id was already handled. The
// distributed engines deliver at least once, so a command can arrive twice
// after a worker crash or a reconnect.
type Deduplication struct {
	store  DuplicateStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewDeduplication remembers handled ids for ttl
func NewDeduplication(store DuplicateStore, ttl time.Duration) *Deduplication {
	return &Deduplication{store: store, ttl: ttl, logger: slog.Default()}
}

// WithLogger sets the logger used for skipped duplicates
func (i *Deduplication) WithLogger(logger *slog.Logger) *Deduplication {
	i.logger = logger
	return i
}

func (i *Deduplication) Intercept(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error {
	fresh, err := i.store.Claim(ctx, env.ID, i.ttl)
	if err != nil {
		return fmt.Errorf("duplicate check for %s: %w", env.ID, err)
	}
	if !fresh {
		i.logger.Debug("skipping duplicate message", "messageId", env.ID, "topic", env.Type)
		return nil
	}

	if err := next.Handle(ctx, env); err != nil {
		// a failed attempt must not hide the retry
		if releaseErr := i.store.Release(context.WithoutCancel(ctx), env.ID); releaseErr != nil {
			i.logger.Warn("failed to release message id", "messageId", env.ID, "error", releaseErr)
		}
		return err
	}
	return nil
}

func (i *Deduplication) Name() string {
	return "deduplication"
}

// MemoryDuplicateStore is a process-local DuplicateStore
type MemoryDuplicateStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryDuplicateStore creates an empty store
func NewMemoryDuplicateStore() *MemoryDuplicateStore {
	return &MemoryDuplicateStore{expires: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryDuplicateStore) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[id] = now.Add(ttl)
	s.sweep(now)
	return true, nil
}

func (s *MemoryDuplicateStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.expires, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of remembered ids, expired ones included
func (s *MemoryDuplicateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// sweep drops expired ids once the map grows
func (s *MemoryDuplicateStore) sweep(now time.Time) {
	if len(s.expires) < 1024 {
		return
	}
	for id, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, id)
		}
	}
}

// RedisDuplicateStore shares claimed ids between service replicas
type RedisDuplicateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDuplicateStore keeps ids under "voicebus:dedup:<prefix>:"
func NewRedisDuplicateStore(client redis.UniversalClient, prefix string) *RedisDuplicateStore {
	return &RedisDuplicateStore{client: client, prefix: "voicebus:dedup:" + prefix + ":"}
}

func (s *RedisDuplicateStore) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+id, time.Now().UnixMilli(), ttl).Result()
}

func (s *RedisDuplicateStore) Release(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}
