package changelog

import (
	"context"
	"errors"
	"time"

	"github.com/hayabusa-cloud/lfq"
)

// ErrQueueFull is returned by Queue.TrySend when the bounded queue has no
// capacity left.
var ErrQueueFull = errors.New("changelog: queue full")

// Queue wraps a bounded MPMC lock-free queue of Events, the delivery
// mechanism the spec names literally for handing batches to the external
// persistence engine.
type Queue struct {
	q lfq.Queue[Event]
}

// NewQueue creates a queue with the given capacity, rounded up to a power
// of two by lfq.
func NewQueue(capacity int) *Queue {
	return &Queue{q: lfq.NewMPMC[Event](capacity)}
}

// Send enqueues ev, retrying on WouldBlock until ctx is done.
func (q *Queue) Send(ctx context.Context, ev Event) error {
	for {
		err := q.q.Enqueue(&ev)
		if err == nil {
			return nil
		}
		if !lfq.IsWouldBlock(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// TrySend enqueues ev without blocking, returning ErrQueueFull if the
// queue is at capacity.
func (q *Queue) TrySend(ev Event) error {
	err := q.q.Enqueue(&ev)
	if err == nil {
		return nil
	}
	if lfq.IsWouldBlock(err) {
		return ErrQueueFull
	}
	return err
}

// Receive dequeues the next event, blocking (with a short backoff) until
// ctx is done.
func (q *Queue) Receive(ctx context.Context) (Event, error) {
	for {
		ev, err := q.q.Dequeue()
		if err == nil {
			return *ev, nil
		}
		if !lfq.IsWouldBlock(err) {
			return Event{}, err
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Drain flushes any buffered state, used on graceful shutdown.
func (q *Queue) Drain() {
	if d, ok := q.q.(lfq.Drainer); ok {
		d.Drain()
	}
}
