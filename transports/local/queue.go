package local

import (
	"container/heap"
	"context"
	"sync"

	"github.com/glimte/voicebus/contracts"
)

// commandHeap orders envelopes by priority, then by publish sequence
type commandHeap []*contracts.Envelope

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) { *h = append(*h, x.(*contracts.Envelope)) }

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	env := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return env
}

// commandQueue is a bounded priority queue with a wake-up signal
type commandQueue struct {
	topic    string
	capacity int

	mu     sync.Mutex
	items  commandHeap
	signal chan struct{}
}

func newCommandQueue(topic string, capacity int) *commandQueue {
	return &commandQueue{
		topic:    topic,
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// push enqueues env. Redeliveries pass force and bypass the capacity check
// so a retry is never lost to saturation.
func (q *commandQueue) push(env *contracts.Envelope, force bool) error {
	q.mu.Lock()
	if !force && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return &contracts.QueueFullError{Topic: q.topic, Capacity: q.capacity}
	}
	heap.Push(&q.items, env)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *commandQueue) pop() (*contracts.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*contracts.Envelope), true
}

// next blocks until an envelope is available or ctx is done
func (q *commandQueue) next(ctx context.Context) (*contracts.Envelope, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		if env, ok := q.pop(); ok {
			return env, true
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *commandQueue) drain() []*contracts.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*contracts.Envelope, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(*contracts.Envelope))
	}
	return out
}

// eventQueue is a bounded FIFO. A queue can be released on its own, which
// is how reply topics are torn down after their request completes.
type eventQueue struct {
	topic string
	ch    chan *contracts.Envelope
	done  chan struct{}
	once  sync.Once
}

func newEventQueue(topic string, capacity int) *eventQueue {
	return &eventQueue{
		topic: topic,
		ch:    make(chan *contracts.Envelope, capacity),
		done:  make(chan struct{}),
	}
}

// offer enqueues env without blocking, reporting false when the queue is full
func (q *eventQueue) offer(env *contracts.Envelope) bool {
	select {
	case q.ch <- env:
		return true
	default:
		return false
	}
}

func (q *eventQueue) release() {
	q.once.Do(func() { close(q.done) })
}

func (q *eventQueue) drain() []*contracts.Envelope {
	var out []*contracts.Envelope
	for {
		select {
		case env := <-q.ch:
			out = append(out, env)
		default:
			return out
		}
	}
}
