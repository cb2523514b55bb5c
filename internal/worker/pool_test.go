package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(4, 64, time.Second)
	p.Start()

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 20; i++ {
		ok := p.Submit(Job{Key: "k", Name: "test", Do: func(context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		}})
		require.True(t, ok)
	}
	p.Stop(time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, ran)
}

func TestPoolKeyOrdering(t *testing.T) {
	p := NewPool(8, 256, time.Second)
	p.Start()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		p.Submit(Job{Key: "game-1", Name: "test", Do: func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}})
	}
	p.Stop(time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPoolShedsDroppableWhenFull(t *testing.T) {
	p := NewPool(1, 1, time.Second)
	p.Start()

	block := make(chan struct{})
	// Occupy the single worker, then fill its one queue slot.
	p.Submit(Job{Key: "k", Name: "blocker", Do: func(context.Context) error {
		<-block
		return nil
	}})
	time.Sleep(50 * time.Millisecond)
	require.True(t, p.Submit(Job{Key: "k", Name: "queued", Do: func(context.Context) error { return nil }}))

	ok := p.Submit(Job{Key: "k", Name: "shed", Do: func(context.Context) error { return nil }})
	assert.False(t, ok)

	close(block)
	p.Stop(time.Second)
}

func TestPoolCriticalBlocksThenGivesUp(t *testing.T) {
	p := NewPool(1, 1, time.Second)
	p.blockWindow = 100 * time.Millisecond
	p.Start()

	block := make(chan struct{})
	p.Submit(Job{Key: "k", Name: "blocker", Do: func(context.Context) error {
		<-block
		return nil
	}})
	time.Sleep(50 * time.Millisecond)
	p.Submit(Job{Key: "k", Name: "queued", Do: func(context.Context) error { return nil }})

	start := time.Now()
	ok := p.Submit(Job{Key: "k", Name: "critical", Critical: true, Do: func(context.Context) error { return nil }})
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	close(block)
	p.Stop(time.Second)
}

func TestPoolStopWithParkedCriticalSubmit(t *testing.T) {
	p := NewPool(1, 1, time.Second)
	p.blockWindow = 5 * time.Second
	p.Start()

	block := make(chan struct{})
	defer close(block)
	p.Submit(Job{Key: "k", Name: "blocker", Do: func(context.Context) error {
		<-block
		return nil
	}})
	time.Sleep(50 * time.Millisecond)
	require.True(t, p.Submit(Job{Key: "k", Name: "queued", Do: func(context.Context) error { return nil }}))

	// Park a critical submitter in its blocked send, then stop the pool
	// underneath it. The submitter must return cleanly, never panic.
	res := make(chan bool, 1)
	go func() {
		res <- p.Submit(Job{Key: "k", Name: "critical", Critical: true, Do: func(context.Context) error { return nil }})
	}()
	time.Sleep(50 * time.Millisecond)
	p.Stop(100 * time.Millisecond)

	select {
	case ok := <-res:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("blocked Submit did not return after Stop")
	}
}

func TestPoolStopTwice(t *testing.T) {
	p := NewPool(2, 8, time.Second)
	p.Start()
	p.Stop(time.Second)
	assert.NotPanics(t, func() { p.Stop(time.Second) })
}

func TestPoolSubmitAfterStop(t *testing.T) {
	p := NewPool(1, 8, time.Second)
	p.Start()
	p.Stop(time.Second)

	ok := p.Submit(Job{Key: "k", Name: "late", Do: func(context.Context) error { return nil }})
	assert.False(t, ok)
}

func TestPoolJobErrorDoesNotStopWorker(t *testing.T) {
	p := NewPool(1, 8, time.Second)
	p.Start()

	done := make(chan struct{})
	p.Submit(Job{Key: "k", Name: "fails", Do: func(context.Context) error {
		return context.DeadlineExceeded
	}})
	p.Submit(Job{Key: "k", Name: "after", Do: func(context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after a failing job")
	}
	p.Stop(time.Second)
}
