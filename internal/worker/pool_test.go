package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ProcessesAllJobsBeforeShutdownReturns(t *testing.T) {
	p := NewPool(10, zerolog.Nop())

	var mu sync.Mutex
	seen := map[string]bool{}
	p.Start(3, func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen[job.RequestID] = true
		return nil
	})

	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, p.Submit(Job{RequestID: id}))
	}
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Len(t, seen, 4)
}

func TestPool_SubmitRejectsWhenFull(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{})

	p.Start(1, func(context.Context, Job) error {
		started <- struct{}{}
		<-release
		return nil
	})

	require.True(t, p.Submit(Job{RequestID: "running"}))
	<-started
	require.True(t, p.Submit(Job{RequestID: "queued"}))
	assert.False(t, p.Submit(Job{RequestID: "overflow"}))

	go func() {
		<-started
	}()
	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	p.Start(1, func(context.Context, Job) error { return nil })
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))

	assert.False(t, p.Submit(Job{RequestID: "late"}))
}

func TestPool_SurvivesHandlerErrorsAndPanics(t *testing.T) {
	p := NewPool(3, zerolog.Nop())
	var done int32

	p.Start(1, func(_ context.Context, job Job) error {
		defer atomic.AddInt32(&done, 1)
		switch job.RequestID {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("provider down")
		}
		return nil
	})

	p.Submit(Job{RequestID: "panic"})
	p.Submit(Job{RequestID: "error"})
	p.Submit(Job{RequestID: "ok"})
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, int32(3), atomic.LoadInt32(&done))
}

func TestPool_ShutdownDeadlineCancelsJobs(t *testing.T) {
	p := NewPool(5, zerolog.Nop())
	started := make(chan struct{}, 1)
	var cancelled int32

	p.Start(1, func(ctx context.Context, job Job) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		atomic.AddInt32(&cancelled, 1)
		return ctx.Err()
	})

	require.True(t, p.Submit(Job{RequestID: "slow"}))
	require.True(t, p.Submit(Job{RequestID: "queued"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&cancelled))
}
