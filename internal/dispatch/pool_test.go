package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(4, 16)

	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		p.Submit(func(context.Context) { ran.Add(1) })
	}
	p.Close()

	assert.Equal(t, int64(50), ran.Load())
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	// One slow worker with everything queued up front: Close must still run
	// every task before returning.
	p := New(1, 32)

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		p.Submit(func(context.Context) {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		})
	}
	p.Close()

	assert.Equal(t, int64(20), ran.Load())
}

func TestPool_SubmitDoesNotWaitForCompletion(t *testing.T) {
	p := New(1, 1)
	defer p.Close()

	release := make(chan struct{})
	p.Submit(func(context.Context) { <-release })

	done := make(chan struct{})
	go func() {
		p.Submit(func(context.Context) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked despite free queue slot")
	}
	close(release)
}

func TestPool_TasksOutliveSubmitterContext(t *testing.T) {
	p := New(1, 1)

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel() // the ingest request is long gone by the time the task runs

	var taskErr error
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func(ctx context.Context) {
		defer wg.Done()
		taskErr = ctx.Err()
		_ = reqCtx // submitter context plays no part in task execution
	})
	wg.Wait()
	p.Close()

	require.NoError(t, taskErr)
}

func TestPool_RecoversFromPanickingTask(t *testing.T) {
	p := New(1, 4)

	var ran atomic.Int64
	p.Submit(func(context.Context) { panic("boom") })
	p.Submit(func(context.Context) { ran.Add(1) })
	p.Close()

	assert.Equal(t, int64(1), ran.Load())
}
