package messaging

import (
	"context"
	"time"

	"github.com/glimte/voicebus/contracts"
	"github.com/stretchr/testify/mock"
)

// mockBus records calls with resolved options so expectations can match on them
type mockBus struct {
	mock.Mock
}

func (m *mockBus) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBus) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBus) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error {
	args := m.Called(ctx, topic, payload, NewPublishOptions(payload, opts...))
	return args.Error(0)
}

func (m *mockBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	return m.Called(ctx, pattern, handler).Error(0)
}

func (m *mockBus) Request(ctx context.Context, topic string, payload any, opts ...RequestOption) (contracts.QueryResult, error) {
	args := m.Called(ctx, topic, payload, NewPublishOptions(payload, opts...))
	return args.Get(0).(contracts.QueryResult), args.Error(1)
}

func (m *mockBus) Stats() Stats {
	return m.Called().Get(0).(Stats)
}

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) RecordPublish(topic string, kind contracts.Kind) {
	m.Called(topic, kind)
}

func (m *mockCollector) RecordDelivery(topic string, duration time.Duration, success bool) {
	m.Called(topic, duration, success)
}

func (m *mockCollector) RecordRetry(topic string) {
	m.Called(topic)
}

func (m *mockCollector) RecordDeadLetter(topic string, reason string) {
	m.Called(topic, reason)
}

func (m *mockCollector) RecordDrop(topic string, reason string) {
	m.Called(topic, reason)
}

func (m *mockCollector) SetQueueDepth(topic string, kind contracts.Kind, depth int) {
	m.Called(topic, kind, depth)
}
