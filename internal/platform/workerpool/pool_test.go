package workerpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrow-settlement/internal/config"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	pool, err := New(config.WorkerPoolConfig{Size: size}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	return pool
}

func TestPool_Do(t *testing.T) {
	pool := newTestPool(t, 2)

	tests := []struct {
		name          string
		task          func(ctx context.Context) error
		expectedError error
	}{
		{
			name:          "successful task",
			task:          func(ctx context.Context) error { return nil },
			expectedError: nil,
		},
		{
			name:          "task error",
			task:          func(ctx context.Context) error { return errors.New("processing error") },
			expectedError: errors.New("processing error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pool.Do(context.Background(), tt.task)
			if tt.expectedError != nil {
				assert.EqualError(t, err, tt.expectedError.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPool_Do_ContextCancelled(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Do(ctx, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_Go_Concurrent(t *testing.T) {
	pool := newTestPool(t, 4)
	assert.Equal(t, 4, pool.Capacity())

	var (
		wg    sync.WaitGroup
		count int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Go(func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int64(20), atomic.LoadInt64(&count))
}

func TestPool_Go_RecoversPanics(t *testing.T) {
	pool := newTestPool(t, 1)

	done := make(chan struct{})
	require.NoError(t, pool.Go(func() { panic("boom") }))
	require.NoError(t, pool.Go(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped accepting work after a panic")
	}
}

func TestPool_Shutdown(t *testing.T) {
	pool, err := New(config.WorkerPoolConfig{Size: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	pool.Shutdown()
	assert.Error(t, pool.Go(func() {}))
}
