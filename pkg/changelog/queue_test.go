package changelog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueTrySendReceiveRoundTrip(t *testing.T) {
	q := NewQueue(4)
	ev := Event{Insert: &InsertEvent{ID: NewSingleID()}}
	if err := q.TrySend(ev); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Insert == nil || got.Insert.ID != ev.Insert.ID {
		t.Fatalf("got %+v", got)
	}
}

func TestQueueTrySendReportsFullAtCapacity(t *testing.T) {
	q := NewQueue(2)
	filled := 0
	for i := 0; i < 64; i++ {
		if err := q.TrySend(Event{}); err != nil {
			if !errors.Is(err, ErrQueueFull) {
				t.Fatalf("unexpected error: %v", err)
			}
			return
		}
		filled++
	}
	t.Fatalf("expected TrySend to eventually report ErrQueueFull, sent %d", filled)
}

func TestQueueReceiveBlocksUntilContextDone(t *testing.T) {
	q := NewQueue(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded on an empty queue, got %v", err)
	}
}
