package concurrency

import (
	"sync/atomic"
	"testing"
	"time"

	"tradebot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestSubmitRunsTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 16}, &noopLogger{})

	var ran int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func() {
			atomic.AddInt64(&ran, 1)
		}))
	}
	pool.Stop()

	assert.Equal(t, int64(10), atomic.LoadInt64(&ran))
}

func TestNonBlockingSubmitFailsWhenFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "tiny",
		MaxWorkers:  1,
		MaxCapacity: 1,
		NonBlocking: true,
	}, &noopLogger{})
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the single queue slot
	_ = pool.Submit(func() { <-block })
	time.Sleep(20 * time.Millisecond)
	_ = pool.Submit(func() {})

	err := pool.Submit(func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestSubmitAndWaitBlocksUntilDone(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "wait", MaxWorkers: 2, MaxCapacity: 8}, &noopLogger{})
	defer pool.Stop()

	var done int64
	pool.SubmitAndWait(func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt64(&done, 1)
	})

	assert.Equal(t, int64(1), atomic.LoadInt64(&done))
}

func TestPanicInTaskDoesNotKillPool(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "panicky", MaxWorkers: 2, MaxCapacity: 8}, &noopLogger{})

	require.NoError(t, pool.Submit(func() {
		panic("boom")
	}))

	var ran int64
	require.NoError(t, pool.Submit(func() {
		atomic.AddInt64(&ran, 1)
	}))
	pool.Stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}
