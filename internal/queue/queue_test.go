package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueueEnqueue(t *testing.T) {
	jq := NewJobQueue(1)

	require.NoError(t, jq.Enqueue(&LifecycleJob{ServerID: "a", Action: ActionStart}))
	assert.ErrorIs(t, jq.Enqueue(&LifecycleJob{ServerID: "b", Action: ActionStart}), ErrQueueFull)

	jq.Close()
	jq.Close()
	assert.ErrorIs(t, jq.Enqueue(&LifecycleJob{ServerID: "c"}), ErrQueueClosed)

	job, ok := <-jq.Jobs()
	require.True(t, ok)
	assert.Equal(t, "a", job.ServerID)

	_, ok = <-jq.Jobs()
	assert.False(t, ok)
}

func TestWorkerPoolProcessesAllJobs(t *testing.T) {
	jq := NewJobQueue(10)
	pool := NewWorkerPool(jq, 3)

	var mu sync.Mutex
	seen := map[string]bool{}
	pool.Start(func(job *LifecycleJob) error {
		mu.Lock()
		seen[job.ServerID] = true
		mu.Unlock()
		if job.ServerID == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	for _, id := range []string{"one", "two", "bad", "three"} {
		require.NoError(t, jq.Enqueue(&LifecycleJob{ServerID: id, Action: ActionStart}))
	}
	jq.Close()
	pool.Wait()

	assert.Len(t, seen, 4)
	assert.Equal(t, 3, pool.Succeeded())
	assert.Equal(t, 1, pool.Failed())
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	succeeded := RunAll([]*LifecycleJob{
		{ServerID: "ok"},
		{ServerID: "panics"},
	}, 2, func(job *LifecycleJob) error {
		if job.ServerID == "panics" {
			panic("handler bug")
		}
		return nil
	})

	assert.Equal(t, 1, succeeded)
}

func TestWorkerPoolStop(t *testing.T) {
	jq := NewJobQueue(1)
	pool := NewWorkerPool(jq, 2)
	pool.Start(func(*LifecycleJob) error { return nil })

	done := make(chan struct{})
	go func() {
		pool.Stop()
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	var jobs []*LifecycleJob
	for i := 0; i < 8; i++ {
		jobs = append(jobs, &LifecycleJob{ServerID: fmt.Sprintf("srv-%d", i), Action: ActionHealthCheck})
	}

	var calls atomic.Int32
	succeeded := RunAll(jobs, 3, func(job *LifecycleJob) error {
		calls.Add(1)
		if job.ServerID == "srv-3" {
			return errors.New("misconfigured")
		}
		return nil
	})

	assert.Equal(t, int32(8), calls.Load())
	assert.Equal(t, 7, succeeded)
}

func TestRunAllEmpty(t *testing.T) {
	assert.Zero(t, RunAll(nil, 4, func(*LifecycleJob) error { return nil }))
}
