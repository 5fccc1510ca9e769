package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/voicebus/internal/reliability"
)

const (
	defaultReconnectDelay = time.Second
	maxReconnectDelay     = time.Minute
	dialTimeout           = 30 * time.Second
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// dialFunc opens a connection; replaced in tests
type dialFunc func(url string) (*amqp.Connection, error)

// ConnectionManager keeps one AMQP connection alive, reconnecting with
// exponential backoff when the broker drops it.
type ConnectionManager struct {
	url     string
	dial    dialFunc
	backoff reliability.RetryPolicy
	logger  *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	isConnected bool
	done        chan struct{}
	closed      bool
	maxRetries  int

	listenersMu sync.RWMutex
	listeners   []ConnectionStateListener
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the first reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.backoff = reliability.NewExponentialBackoff(delay, maxReconnectDelay, 2, cm.maxRetries)
	}
}

// WithMaxRetries bounds reconnection attempts; negative means unbounded
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// NewConnectionManager creates a manager for url. Nothing is dialed until
// Connect.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:        url,
		dial:       amqp.Dial,
		maxRetries: -1,
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	cm.backoff = reliability.NewExponentialBackoff(defaultReconnectDelay, maxReconnectDelay, 2, cm.maxRetries)
	for _, opt := range options {
		opt(cm)
	}
	return cm
}

// Connect establishes the initial connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return ErrConnectionClosed
	}
	if cm.isConnected {
		return nil
	}

	conn, err := cm.dialContext(ctx)
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}
	cm.attach(conn)
	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	return nil
}

func (cm *ConnectionManager) dialContext(ctx context.Context) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := cm.dial(cm.url)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		// close the connection if the dial completes after all
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ErrConnectionTimeout
	}
}

// attach must be called with cm.mu held
func (cm *ConnectionManager) attach(conn *amqp.Connection) {
	cm.conn = conn
	cm.isConnected = true
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go cm.watch(notifyClose)
	cm.notify(func(l ConnectionStateListener) { l.OnConnected() })
}

// Connection returns the current connection
func (cm *ConnectionManager) Connection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close closes the connection and stops reconnecting
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true
	close(cm.done)
	cm.isConnected = false

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}
	return nil
}

func (cm *ConnectionManager) watch(notifyClose <-chan *amqp.Error) {
	select {
	case err, ok := <-notifyClose:
		if !ok || err == nil {
			// graceful close
			return
		}
		cm.logger.Error("connection lost", "error", err)

		cm.mu.Lock()
		cm.isConnected = false
		cm.conn = nil
		cm.mu.Unlock()

		cm.notify(func(l ConnectionStateListener) { l.OnDisconnected(err) })
		cm.reconnect()
	case <-cm.done:
	}
}

func (cm *ConnectionManager) reconnect() {
	started := time.Now()
	for attempt := 1; ; attempt++ {
		if cm.maxRetries >= 0 && attempt > cm.maxRetries {
			err := &ConnectionError{
				Op:        "reconnect",
				URL:       SanitizeURL(cm.url),
				Err:       ErrMaxRetriesExceeded,
				Timestamp: time.Now(),
				Attempts:  attempt - 1,
			}
			cm.logger.Error("giving up reconnecting", "attempts", attempt-1, "duration", time.Since(started))
			cm.notify(func(l ConnectionStateListener) { l.OnDisconnected(err) })
			return
		}

		delay := cm.backoff.NextDelay(attempt - 1)
		cm.logger.Info("reconnecting to RabbitMQ", "attempt", attempt, "delay", delay)
		cm.notify(func(l ConnectionStateListener) { l.OnReconnecting(attempt) })

		select {
		case <-time.After(delay):
		case <-cm.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := cm.dialContext(ctx)
		cancel()
		if err != nil {
			cm.logger.Error("reconnection failed", "attempt", attempt, "error", err)
			continue
		}

		cm.mu.Lock()
		if cm.closed {
			cm.mu.Unlock()
			_ = conn.Close()
			return
		}
		cm.attach(conn)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to RabbitMQ", "attempts", attempt, "duration", time.Since(started))
		return
	}
}

// AddStateListener registers listener for connection state changes
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

func (cm *ConnectionManager) notify(fn func(ConnectionStateListener)) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, l := range cm.listeners {
		go fn(l)
	}
}
