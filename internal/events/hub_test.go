package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewHub(10)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(TypeTaskSubmitted, map[string]string{"task_id": "t1"})

	select {
	case ev := <-ch:
		if ev.Type != TypeTaskSubmitted {
			t.Errorf("expected %s, got %s", TypeTaskSubmitted, ev.Type)
		}
		if ev.ID != 1 {
			t.Errorf("expected id 1, got %d", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSnapshotSince(t *testing.T) {
	hub := NewHub(10)
	for i := 0; i < 5; i++ {
		hub.Publish(TypeTaskCompleted, nil)
	}

	all := hub.SnapshotSince(0)
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}

	tail := hub.SnapshotSince(3)
	if len(tail) != 2 {
		t.Fatalf("expected 2 events after id 3, got %d", len(tail))
	}
	if tail[0].ID != 4 || tail[1].ID != 5 {
		t.Errorf("unexpected ids: %d, %d", tail[0].ID, tail[1].ID)
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	hub := NewHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(TypePluginLoaded, nil)
	}

	events := hub.SnapshotSince(0)
	if len(events) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(events))
	}
	if events[0].ID != 3 {
		t.Errorf("oldest surviving event should be id 3, got %d", events[0].ID)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(10)
	_, cancel := hub.Subscribe()
	defer cancel()

	// Never read from the channel; publishing must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.Publish(TypeTaskRetried, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}
