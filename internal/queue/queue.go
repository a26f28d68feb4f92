// Package queue carries NetEvents from the transport polling goroutine to the
// goroutine that handles them.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/luciancaetano/lobbynet/packet"
	"github.com/luciancaetano/lobbynet/transport"
)

// DefaultCapacity is the buffer size used when New is given a non-positive capacity.
const DefaultCapacity = 256

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// NetEvent is one transport event converted for the application. Ownership
// of Packet moves with the event.
type NetEvent struct {
	Type         transport.EventType
	Peer         transport.PeerID
	Packet       *packet.Packet
	ConnectionID uint32
	RemoteAddr   string
}

// Queue is a bounded FIFO with a single producer and a single consumer.
// Push blocks while the queue is full, so events are never dropped.
type Queue struct {
	ch   chan NetEvent
	done chan struct{}
	once sync.Once
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:   make(chan NetEvent, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues ev, waiting for room. It gives up when ctx is done or the
// queue is closed.
func (q *Queue) Push(ctx context.Context, ev NetEvent) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// TryPop returns the next event without blocking.
func (q *Queue) TryPop() (NetEvent, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return NetEvent{}, false
	}
}

// Pop waits for the next event. Events queued before Close are still delivered.
func (q *Queue) Pop(ctx context.Context) (NetEvent, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	default:
	}

	select {
	case ev := <-q.ch:
		return ev, nil
	case <-ctx.Done():
		return NetEvent{}, ctx.Err()
	case <-q.done:
		if ev, ok := q.TryPop(); ok {
			return ev, nil
		}
		return NetEvent{}, ErrClosed
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close releases blocked producers and consumers. It is idempotent.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
