package recorder

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_PushDrain(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	got := q.Drain(0)
	if len(got) != 5 {
		t.Fatalf("Drain returned %d items, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d", i, v)
		}
	}
	if q.Drain(0) != nil {
		t.Error("expected nil from empty queue")
	}
}

func TestQueue_DrainMax(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 4; i++ {
		q.Push(i)
	}

	first := q.Drain(3)
	if len(first) != 3 || first[0] != 0 || first[2] != 2 {
		t.Errorf("Drain(3) = %v", first)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_GrowPreservesOrderWhenWrapped(t *testing.T) {
	q := NewQueue[int](4)

	// Move head forward so the ring wraps
	q.Push(-2)
	q.Push(-1)
	q.Drain(2)

	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity < 10 {
		t.Errorf("Capacity = %d, expected growth", stats.Capacity)
	}
	if stats.Grows != 2 {
		t.Errorf("Grows = %d, want 2", stats.Grows)
	}

	got := q.Drain(0)
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d = %d, order lost: %v", i, v, got)
		}
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue[string](2)
	q.Push("a")
	q.Close()

	if q.Push("b") {
		t.Error("Push after Close should return false")
	}
	if got := q.Drain(0); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected queued item to survive Close, got %v", got)
	}
}

func TestQueue_Ready(t *testing.T) {
	q := NewQueue[int](2)

	select {
	case <-q.Ready():
		t.Fatal("Ready fired on empty queue")
	default:
	}

	q.Push(1)
	q.Push(2)

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready did not fire after Push")
	}

	// Pushes coalesce into one wakeup
	select {
	case <-q.Ready():
		t.Error("expected a single pending wakeup")
	default:
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := NewQueue[int](1)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-q.Ready():
			total += len(q.Drain(0))
		case <-done:
			total += len(q.Drain(0))
			if total != 1000 {
				t.Errorf("drained %d items, want 1000", total)
			}
			stats := q.Stats()
			if stats.Pushed != 1000 || stats.Drained != 1000 {
				t.Errorf("Pushed=%d Drained=%d", stats.Pushed, stats.Drained)
			}
			return
		}
	}
}
