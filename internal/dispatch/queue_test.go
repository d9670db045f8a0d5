package dispatch

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := NewQueue[int](4)

	for i := 0; i < 100; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	stats := q.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}

	for i := 0; i < 100; i++ {
		val, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue should return false")
	}
}

func TestQueue_GrowAt70Percent(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}
}

func TestQueue_WrappedGrow(t *testing.T) {
	q := NewQueue[int](10)

	// Move head forward so the next grow copies a wrapped region.
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for i := 0; i < 5; i++ {
		q.TryPop()
	}
	for i := 0; i < 20; i++ {
		q.Push(i)
	}

	for i := 0; i < 20; i++ {
		val, ok := q.TryPop()
		if !ok || val != i {
			t.Fatalf("TryPop() = %d, %v; want %d, true", val, ok, i)
		}
	}
}

func TestQueue_BlockingPop(t *testing.T) {
	q := NewQueue[int](10)

	popped := make(chan int, 1)
	go func() {
		val, ok := q.Pop()
		if ok {
			popped <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case val := <-popped:
		if val != 42 {
			t.Errorf("popped %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Pop")
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue[int](10)
	q.Push(1)
	q.Push(2)
	q.Close()

	if q.Push(3) {
		t.Error("Push after Close should return false")
	}

	for _, want := range []int{1, 2} {
		val, ok := q.Pop()
		if !ok || val != want {
			t.Fatalf("Pop() = %d, %v; want %d, true", val, ok, want)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop on closed empty queue should return false")
	}
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := NewQueue[int](10)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Pop()
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked Pop callers")
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := NewQueue[int](8)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	if q.Len() != 1000 {
		t.Errorf("Len() = %d, want 1000", q.Len())
	}
}
