package topics

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/glimte/voicebus/contracts"
)

// DefaultSimilarLimit bounds the suggestions attached to validation errors.
const DefaultSimilarLimit = 5

// Definition describes a registered topic
type Definition struct {
	Topic        string         `json:"topic"`
	Service      string         `json:"service"`
	MessageType  contracts.Kind `json:"messageType"`
	PayloadClass string         `json:"payloadClass"`
	Description  string         `json:"description,omitempty"`
}

// Registry is the catalog of known topics. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	topics   map[string]Definition
	services map[string][]string
	logger   *slog.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		topics:   make(map[string]Definition),
		services: make(map[string][]string),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterTopic inserts or overwrites a topic definition.
func (r *Registry) RegisterTopic(topic, service string, kind contracts.Kind, payloadClass, description string) error {
	return r.Register(Definition{
		Topic:        topic,
		Service:      service,
		MessageType:  kind,
		PayloadClass: payloadClass,
		Description:  description,
	})
}

// Register inserts or overwrites def. Overwriting logs a warning.
func (r *Registry) Register(def Definition) error {
	if HasWildcard(def.Topic) {
		return fmt.Errorf("cannot register wildcard pattern %q as a topic", def.Topic)
	}
	if _, err := Compile(def.Topic); err != nil {
		return fmt.Errorf("register topic: %w", err)
	}
	if def.Service == "" {
		return fmt.Errorf("register topic %q: service is required", def.Topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.topics[def.Topic]; exists {
		r.logger.Warn("topic already registered, overwriting",
			"topic", def.Topic,
			"previousService", prev.Service,
			"service", def.Service)
		if prev.Service != def.Service {
			r.unindex(prev.Service, def.Topic)
		}
	}

	r.topics[def.Topic] = def
	if !containsString(r.services[def.Service], def.Topic) {
		r.services[def.Service] = append(r.services[def.Service], def.Topic)
	}

	r.logger.Debug("registered topic",
		"topic", def.Topic,
		"service", def.Service,
		"payloadClass", def.PayloadClass)
	return nil
}

// RegisterServiceTopics registers defs as owned by service.
func (r *Registry) RegisterServiceTopics(service string, defs []Definition) error {
	for _, def := range defs {
		def.Service = service
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) unindex(service, topic string) {
	list := r.services[service]
	for i, t := range list {
		if t == topic {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.services, service)
		return
	}
	r.services[service] = list
}

// IsValidTopic reports whether topic is registered or, when allowWildcards is
// set, a syntactically valid wildcard pattern.
func (r *Registry) IsValidTopic(topic string, allowWildcards bool) bool {
	r.mu.RLock()
	_, ok := r.topics[topic]
	r.mu.RUnlock()
	if ok {
		return true
	}

	if allowWildcards && HasWildcard(topic) {
		_, err := Compile(topic)
		return err == nil
	}
	return false
}

// ValidatePublish requires topic to be registered exactly. Reply topics are
// always accepted.
func (r *Registry) ValidatePublish(topic string) error {
	if IsReplyTopic(topic) {
		return nil
	}
	if HasWildcard(topic) {
		return &contracts.ValidationError{
			Topic:  topic,
			Op:     "publish",
			Reason: "wildcard patterns cannot be published to",
		}
	}
	if r.IsValidTopic(topic, false) {
		return nil
	}
	return &contracts.ValidationError{
		Topic:   topic,
		Op:      "publish",
		Reason:  "topic is not registered",
		Similar: r.SimilarTopics(topic, DefaultSimilarLimit),
	}
}

// ValidateSubscribe accepts a registered topic, or a valid wildcard pattern
// that matches at least one registered topic.
func (r *Registry) ValidateSubscribe(pattern string) error {
	if IsReplyTopic(pattern) || r.IsValidTopic(pattern, false) {
		return nil
	}

	p, err := Compile(pattern)
	if err != nil {
		return &contracts.ValidationError{Topic: pattern, Op: "subscribe to", Reason: err.Error()}
	}
	if p.IsWildcard() && len(r.Matching(p)) > 0 {
		return nil
	}
	return &contracts.ValidationError{
		Topic:   pattern,
		Op:      "subscribe to",
		Reason:  "topic is not registered and matches no registered topic",
		Similar: r.SimilarTopics(pattern, DefaultSimilarLimit),
	}
}

// Matching returns the registered topics matched by p, sorted
func (r *Registry) Matching(p *Pattern) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for topic := range r.topics {
		if p.Match(topic) {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}

// SimilarTopics suggests registered topics that share a prefix or a
// significant segment with topic.
func (r *Registry) SimilarTopics(topic string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	query := strings.ToLower(topic)
	prefix := query
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	var parts []string
	for _, part := range strings.Split(query, ".") {
		if len(part) > 2 && !HasWildcard(part) {
			parts = append(parts, part)
		}
	}

	var similar []string
	for _, registered := range r.AllTopics() {
		lower := strings.ToLower(registered)
		if strings.HasPrefix(lower, prefix) || containsAny(lower, parts) {
			similar = append(similar, registered)
			if len(similar) == limit {
				break
			}
		}
	}
	return similar
}

// TopicInfo returns the definition registered for topic
func (r *Registry) TopicInfo(topic string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.topics[topic]
	return def, ok
}

// ServiceTopics returns the topics owned by service in registration order
func (r *Registry) ServiceTopics(service string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.services[service]...)
}

// AllTopics returns every registered topic, sorted
func (r *Registry) AllTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// AllServices returns every service owning at least one topic, sorted
func (r *Registry) AllServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.services))
	for service := range r.services {
		out = append(out, service)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered topics
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Clear removes every definition
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = make(map[string]Definition)
	r.services = make(map[string][]string)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAny(s string, parts []string) bool {
	for _, part := range parts {
		if strings.Contains(s, part) {
			return true
		}
	}
	return false
}
