package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

func TestMemoryBackend_BasicOperations(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	backend := NewMemoryStateBackend(logger)
	defer backend.Close()

	now := time.Unix(100, 0)
	first := stream.NewRecord([]byte("a"), map[string]string{"user": "ann"})
	second := stream.NewRecord([]byte("b"), map[string]string{"user": "bob"})

	assert.Equal(t, 1, backend.Append(1000, first, now))
	assert.Equal(t, 2, backend.Append(1000, second, now.Add(time.Second)))

	entry, ok := backend.Get(1000)
	require.True(t, ok)
	assert.Equal(t, int64(1000), entry.Start)
	assert.Equal(t, "ann", entry.Headers["user"], "headers come from the first record")
	assert.Len(t, entry.Records, 2)
	assert.Equal(t, now.Add(time.Second), entry.LastUpdated)
	assert.False(t, entry.Fired)

	// Non-existent window
	_, ok = backend.Get(2000)
	assert.False(t, ok)

	deleted, ok := backend.Delete(1000)
	require.True(t, ok)
	assert.Len(t, deleted.Records, 2)

	_, ok = backend.Delete(1000)
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Size())
}

func TestMemoryBackend_GetReturnsCopy(t *testing.T) {
	backend := NewMemoryStateBackend(nil)
	backend.Append(0, stream.NewRecord(nil, nil), time.Now())

	entry, _ := backend.Get(0)
	entry.Records = append(entry.Records, stream.NewRecord(nil, nil))

	again, _ := backend.Get(0)
	assert.Len(t, again.Records, 1)
}

func TestMemoryBackend_MarkFired(t *testing.T) {
	backend := NewMemoryStateBackend(nil)
	assert.False(t, backend.MarkFired(0), "unknown window")

	backend.Append(0, stream.NewRecord(nil, nil), time.Now())
	assert.False(t, backend.MarkFired(0))
	assert.True(t, backend.MarkFired(0))

	entry, _ := backend.Get(0)
	assert.True(t, entry.Fired)
}

func TestMemoryBackend_KeysSorted(t *testing.T) {
	backend := NewMemoryStateBackend(nil)
	for _, start := range []int64{3000, -1000, 0, 2000} {
		backend.Append(start, stream.NewRecord(nil, nil), time.Now())
	}
	assert.Equal(t, []int64{-1000, 0, 2000, 3000}, backend.Keys())
}

func TestMemoryBackend_Metrics(t *testing.T) {
	backend := NewMemoryStateBackend(nil)
	backend.Append(0, stream.NewRecord(nil, nil), time.Now())
	backend.Get(0)
	backend.Delete(0)

	assert.Equal(t, map[string]int64{"gets": 1, "puts": 1, "deletes": 1, "keys": 0}, backend.GetMetrics())
	require.NoError(t, backend.Close())
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	backend := NewMemoryStateBackend(nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				backend.Append(int64(i%10)*1000, stream.NewRecord([]byte(fmt.Sprintf("%d-%d", w, i)), nil), time.Now())
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 10, backend.Size())
	total := 0
	for _, k := range backend.Keys() {
		entry, _ := backend.Get(k)
		total += len(entry.Records)
	}
	assert.Equal(t, 800, total)
}

func BenchmarkMemoryBackendAppend(b *testing.B) {
	backend := NewMemoryStateBackend(nil)
	rec := stream.NewRecord([]byte("value"), map[string]string{"k": "v"})
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.Append(int64(i%64)*1000, rec, now)
	}
}
