package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ReportsEachTaskOutcome(t *testing.T) {
	q := NewQueue(nil, WithWorkers(2))
	defer q.Shutdown(context.Background())

	ok := q.Submit(context.Background(), Task{Name: "save", Run: func(context.Context) error { return nil }})
	bad := q.Submit(context.Background(), Task{Name: "audit", Run: func(context.Context) error { return errors.New("db down") }})
	boom := q.Submit(context.Background(), Task{Name: "panics", Run: func(context.Context) error { panic("nil map") }})

	assert.NoError(t, <-ok)
	assert.EqualError(t, <-bad, "db down")
	assert.ErrorContains(t, <-boom, "panic: nil map")
}

func TestQueue_TasksOutliveSubmitterContext(t *testing.T) {
	q := NewQueue(nil, WithTaskTimeout(time.Second))
	defer q.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	res := q.Submit(ctx, Task{Name: "slow", Run: func(tctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return tctx.Err()
	}})
	<-started
	cancel()
	assert.NoError(t, <-res)
}

func TestQueue_ShutdownDrainsAndRejects(t *testing.T) {
	q := NewQueue(nil, WithWorkers(1), WithQueueSize(8))
	var ran atomic.Int32
	var chans []<-chan error
	for i := 0; i < 5; i++ {
		chans = append(chans, q.Submit(context.Background(), Task{Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	q.Shutdown(context.Background())
	for _, c := range chans {
		assert.NoError(t, <-c)
	}
	assert.Equal(t, int32(5), ran.Load())

	err, open := <-q.Submit(context.Background(), Task{Run: func(context.Context) error { return nil }})
	require.True(t, open)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := <-Inline{}.Submit(ctx, Task{Run: func(c context.Context) error { return c.Err() }})
	assert.NoError(t, err)
}
