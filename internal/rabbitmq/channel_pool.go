package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPoolSize = 8
	acquireTimeout  = 5 * time.Second
)

// ChannelPool hands out confirm-mode channels for publishing and topology
// work. Closed channels are discarded on return.
type ChannelPool struct {
	manager  *ConnectionManager
	channels chan *amqp.Channel
	maxSize  int

	mu     sync.Mutex
	closed bool
	active int
}

// ChannelPoolOption configures the channel pool
type ChannelPoolOption func(*ChannelPool)

// WithMaxSize sets the maximum number of open channels
func WithMaxSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// NewChannelPool creates an empty pool on manager's connection
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: nil connection manager", ErrInvalidConfiguration)
	}
	pool := &ChannelPool{
		manager: manager,
		maxSize: defaultPoolSize,
	}
	for _, opt := range options {
		opt(pool)
	}
	if pool.maxSize < 1 {
		return nil, fmt.Errorf("%w: max size must be at least 1", ErrInvalidConfiguration)
	}
	pool.channels = make(chan *amqp.Channel, pool.maxSize)
	return pool, nil
}

// Get returns an idle channel, opens a new one while under the limit, or
// waits for one to be returned.
func (cp *ChannelPool) Get(ctx context.Context) (*amqp.Channel, error) {
	for {
		cp.mu.Lock()
		if cp.closed {
			cp.mu.Unlock()
			return nil, ErrChannelPoolClosed
		}
		cp.mu.Unlock()

		select {
		case ch := <-cp.channels:
			if ch.IsClosed() {
				cp.release()
				continue
			}
			return ch, nil
		default:
		}

		if cp.reserve() {
			ch, err := cp.open()
			if err != nil {
				cp.release()
				return nil, err
			}
			return ch, nil
		}

		timer := time.NewTimer(acquireTimeout)
		select {
		case ch := <-cp.channels:
			timer.Stop()
			if ch.IsClosed() {
				cp.release()
				continue
			}
			return ch, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, &ChannelError{Op: "get channel", Err: ctx.Err(), Timestamp: time.Now()}
		case <-timer.C:
			return nil, &ChannelError{Op: "get channel", Err: ErrChannelPoolExhausted, Timestamp: time.Now()}
		}
	}
}

// Put returns ch to the pool
func (cp *ChannelPool) Put(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	cp.mu.Lock()
	closed := cp.closed
	cp.mu.Unlock()

	if closed || ch.IsClosed() {
		_ = ch.Close()
		cp.release()
		return
	}
	select {
	case cp.channels <- ch:
	default:
		_ = ch.Close()
		cp.release()
	}
}

// Execute runs fn on a pooled channel
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) (err error) {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in channel execution: %v", r)
		}
	}()
	return fn(ch)
}

// Size returns the number of open channels
func (cp *ChannelPool) Size() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.active
}

// Close closes every idle channel; channels in use are closed on return
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	for {
		select {
		case ch := <-cp.channels:
			_ = ch.Close()
			cp.release()
		default:
			return nil
		}
	}
}

func (cp *ChannelPool) reserve() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.active >= cp.maxSize {
		return false
	}
	cp.active++
	return true
}

func (cp *ChannelPool) release() {
	cp.mu.Lock()
	cp.active--
	cp.mu.Unlock()
}

func (cp *ChannelPool) open() (*amqp.Channel, error) {
	conn, err := cp.manager.Connection()
	if err != nil {
		return nil, &ChannelError{Op: "create channel", Err: err, Timestamp: time.Now()}
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "create channel", Err: fmt.Errorf("%w: %v", ErrChannelCreationFailed, err), Timestamp: time.Now()}
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, &ChannelError{Op: "enable confirms", Err: err, Timestamp: time.Now()}
	}
	return ch, nil
}
