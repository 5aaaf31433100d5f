package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRunAll_PreservesOrderAndErrors(t *testing.T) {
	var running, peak int32
	jobs := make([]Job, 10)
	for i := range jobs {
		i := i
		jobs[i] = Job{
			ID: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				if i == 3 {
					return errors.New("boom")
				}
				return nil
			},
		}
	}

	results := RunAll(context.Background(), arbor.NewLogger(), 3, jobs)
	require.Len(t, results, 10)

	for i, res := range results {
		assert.Equal(t, fmt.Sprintf("job-%d", i), res.JobID)
		if i == 3 {
			assert.EqualError(t, res.Err, "boom")
		} else {
			assert.NoError(t, res.Err)
		}
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRunAll_RecoversPanics(t *testing.T) {
	results := RunAll(context.Background(), arbor.NewLogger(), 1, []Job{
		{ID: "bad", Run: func(ctx context.Context) error { panic("oops") }},
		{ID: "good", Run: func(ctx context.Context) error { return nil }},
	})

	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "panicked")
	assert.NoError(t, results[1].Err)
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(context.Background(), arbor.NewLogger(), 2)
	pool.Start()
	pool.Stop()

	err := pool.Submit(Job{ID: "late", Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}
