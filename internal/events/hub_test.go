package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(8)

	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeTaskStarted, map[string]int{"frame": 3})

	select {
	case ev := <-ch:
		if ev.Type != TypeTaskStarted {
			t.Errorf("expected %s, got %s", TypeTaskStarted, ev.Type)
		}
		if ev.ID != 1 {
			t.Errorf("expected ID 1, got %d", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSnapshotSince(t *testing.T) {
	h := NewHub(4)

	for range 3 {
		h.Publish(TypeTaskProgress, nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	later := h.SnapshotSince(all[1].ID)
	if len(later) != 1 {
		t.Fatalf("expected 1 event after ID %d, got %d", all[1].ID, len(later))
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	h := NewHub(2)

	for range 5 {
		h.Publish(TypeTaskProgress, nil)
	}

	snap := h.SnapshotSince(0)
	if len(snap) != 2 {
		t.Fatalf("expected ring capacity 2, got %d", len(snap))
	}
	if snap[0].ID != 4 || snap[1].ID != 5 {
		t.Errorf("expected IDs [4 5], got [%d %d]", snap[0].ID, snap[1].ID)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)

	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for range 500 {
			h.Publish(TypeTaskProgress, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}
