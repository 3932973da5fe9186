package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l := New(nil)
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Idle()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_GoPostsContinuation(t *testing.T) {
	l := New(nil)
	defer l.Close()

	release := make(chan struct{})
	var onLoop atomic.Bool
	var result string

	l.Go(func(ctx context.Context) func() {
		<-release
		return func() {
			onLoop.Store(true)
			result = "done"
		}
	})

	time.Sleep(10 * time.Millisecond)
	assert.False(t, onLoop.Load())

	close(release)
	l.Idle()
	assert.True(t, onLoop.Load())
	assert.Equal(t, "done", result)
}

func TestLoop_TaskPostingTask(t *testing.T) {
	l := New(nil)
	defer l.Close()

	var order []string
	l.Post(func() {
		order = append(order, "outer")
		l.Post(func() { order = append(order, "inner") })
	})
	l.Idle()

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoop_PanicIsRecovered(t *testing.T) {
	l := New(nil)
	defer l.Close()

	l.Post(func() { panic("boom") })
	l.Go(func(ctx context.Context) func() { panic("bang") })

	ran := false
	l.Sync(func() { ran = true })
	l.Idle()
	assert.True(t, ran)
}

func TestLoop_CloseCancelsWork(t *testing.T) {
	l := New(nil)

	cancelled := make(chan struct{})
	l.Go(func(ctx context.Context) func() {
		<-ctx.Done()
		close(cancelled)
		return func() { t.Error("continuation must not run after close") }
	})

	l.Close()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("work context was not cancelled")
	}

	// Posting after close is a no-op.
	l.Post(func() { t.Error("task must not run after close") })
	l.Idle()
}
