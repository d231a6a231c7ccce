package events

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "branch-1")
	defer cleanup()

	dispatcher.Publish(Event{
		Type:       TypeRowUpdated,
		BranchID:   "branch-1",
		RevisionID: "draft-1",
		TableID:    "products",
		RowIDs:     []string{"r1", "r2"},
		Timestamp:  time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.Type != TypeRowUpdated {
			t.Fatalf("expected event type %s, got %s", TypeRowUpdated, received.Type)
		}
		if len(received.RowIDs) != 2 {
			t.Fatalf("expected 2 row ids, got %d", len(received.RowIDs))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestDispatcherIsolatedByBranch(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	branchStream, cleanup := dispatcher.Subscribe(ctx, "branch-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "branch-3")
	defer otherCleanup()

	dispatcher.Publish(Event{Type: TypeTableDeleted, BranchID: "branch-3", TableID: "t1"})

	select {
	case <-branchStream:
		t.Fatal("did not expect event for unrelated branch")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-otherStream:
		if event.TableID != "t1" {
			t.Fatalf("expected t1, received %s", event.TableID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed branch")
	}
}

func TestDispatcherDropsEventsForSlowSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "branch-4")
	defer cleanup()

	for index := 0; index < defaultBufferSize+5; index++ {
		dispatcher.Publish(Event{Type: TypeRowCreated, BranchID: "branch-4"})
	}
	if len(stream) != defaultBufferSize {
		t.Fatalf("expected buffered stream to hold %d events, got %d", defaultBufferSize, len(stream))
	}
}

func TestDispatcherUnsubscribesOnCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "branch-5")
	defer cleanup()
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["branch-5"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected subscriber to be removed after context cancellation")
}
