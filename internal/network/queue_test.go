package network

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResponseQueue_FIFO(t *testing.T) {
	q := NewResponseQueue()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"a", "b", "c"}, q.Drain())
	assert.Empty(t, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestResponseQueue_WakeCoalesces(t *testing.T) {
	q := NewResponseQueue()
	q.Push("a")
	q.Push("b")

	select {
	case <-q.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected a wake-up after Push")
	}

	// both pushes collapse into the single pending signal
	select {
	case <-q.Wake():
		t.Fatal("unexpected second wake-up")
	default:
	}
	assert.Len(t, q.Drain(), 2)
}

func TestResponseQueue_ConcurrentPushNeverBlocks(t *testing.T) {
	q := NewResponseQueue()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				q.Push("x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4000, q.Len())
}
