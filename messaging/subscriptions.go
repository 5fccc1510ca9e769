package messaging

import (
	"sync"

	"github.com/glimte/voicebus/topics"
)

// Subscription binds a handler to a compiled pattern
type Subscription struct {
	ID      uint64
	Pattern *topics.Pattern
	Handler Handler
}

// SubscriptionTable resolves topics to handlers. Resolutions are cached per
// topic and the cache is reset whenever subscriptions change.
type SubscriptionTable struct {
	mu     sync.RWMutex
	subs   []Subscription
	cache  map[string][]Handler
	nextID uint64
}

// NewSubscriptionTable creates an empty table
func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{
		cache: make(map[string][]Handler),
	}
}

// Add appends a subscription. Subscribing the same handler twice delivers twice.
func (t *SubscriptionTable) Add(pattern *topics.Pattern, handler Handler) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	t.subs = append(t.subs, Subscription{ID: t.nextID, Pattern: pattern, Handler: handler})
	t.cache = make(map[string][]Handler)
	return t.nextID
}

// Remove deletes the subscription with id
func (t *SubscriptionTable) Remove(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, sub := range t.subs {
		if sub.ID == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			t.cache = make(map[string][]Handler)
			return true
		}
	}
	return false
}

// Handlers returns the handlers whose pattern matches topic, in
// subscription order
func (t *SubscriptionTable) Handlers(topic string) []Handler {
	t.mu.RLock()
	handlers, ok := t.cache[topic]
	t.mu.RUnlock()
	if ok {
		return handlers
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if handlers, ok := t.cache[topic]; ok {
		return handlers
	}
	for _, sub := range t.subs {
		if sub.Pattern.Match(topic) {
			handlers = append(handlers, sub.Handler)
		}
	}
	t.cache[topic] = handlers
	return handlers
}

// Patterns returns the distinct subscribed patterns in subscription order
func (t *SubscriptionTable) Patterns() []*topics.Pattern {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*topics.Pattern
	for _, sub := range t.subs {
		if !seen[sub.Pattern.String()] {
			seen[sub.Pattern.String()] = true
			out = append(out, sub.Pattern)
		}
	}
	return out
}

// Len returns the number of subscriptions
func (t *SubscriptionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
