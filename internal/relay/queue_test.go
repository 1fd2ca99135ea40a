package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/esprelay/internal/device"
	"github.com/thruflo/esprelay/internal/testutil"
)

func newTestRegistry(t *testing.T) *device.Registry {
	t.Helper()
	reg, err := device.NewRegistry(testutil.Devices)
	require.NoError(t, err)
	return reg
}

func TestCommandQueue_TakeExactlyOnce(t *testing.T) {
	t.Parallel()

	q := NewCommandQueue(newTestRegistry(t))

	for _, id := range testutil.Devices {
		require.NoError(t, q.Set(id, "open"))
		assert.Equal(t, "open", q.Take(id), id)
		assert.Equal(t, "", q.Take(id), id)
	}
}

func TestCommandQueue_LastWriteWins(t *testing.T) {
	t.Parallel()

	q := NewCommandQueue(newTestRegistry(t))

	require.NoError(t, q.Set("esp1", "open"))
	require.NoError(t, q.Set("esp1", "close"))

	assert.Equal(t, "close", q.Peek("esp1"))
	assert.Equal(t, "close", q.Take("esp1"))
	assert.Equal(t, "", q.Take("esp1"))
}

func TestCommandQueue_SlotsAreIndependent(t *testing.T) {
	t.Parallel()

	q := NewCommandQueue(newTestRegistry(t))

	require.NoError(t, q.Set("esp1", "open"))
	assert.Equal(t, "", q.Take("esp2"))
	assert.Equal(t, "open", q.Take("esp1"))
}

func TestCommandQueue_UnknownDevice(t *testing.T) {
	t.Parallel()

	q := NewCommandQueue(newTestRegistry(t))

	err := q.Set("esp9", "open")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDevice)

	assert.Equal(t, "", q.Take("esp9"))
	assert.Equal(t, "", q.Peek("esp9"))
}

// Every command set strictly before its paired take must be delivered once
// and only once, even with many concurrent pollers on the same slot.
func TestCommandQueue_ConcurrentDeliveryIsLinearizable(t *testing.T) {
	t.Parallel()

	q := NewCommandQueue(newTestRegistry(t))

	const rounds = 500
	const pollers = 8

	for i := 0; i < rounds; i++ {
		require.NoError(t, q.Set("esp1", "open"))

		var wg sync.WaitGroup
		results := make(chan string, pollers)
		for p := 0; p < pollers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- q.Take("esp1")
			}()
		}
		wg.Wait()
		close(results)

		delivered := 0
		for cmd := range results {
			if cmd != "" {
				assert.Equal(t, "open", cmd)
				delivered++
			}
		}
		require.Equal(t, 1, delivered, "round %d", i)
	}
}

func TestCommandQueue_ConcurrentWritersAndReaders(t *testing.T) {
	t.Parallel()

	q := NewCommandQueue(newTestRegistry(t))

	const writes = 1000
	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			_ = q.Set("esp2", "pulse")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			if q.Take("esp2") != "" {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}
	}()
	wg.Wait()

	// A leftover command may still sit in the slot; taking it must not push
	// deliveries past the number of writes.
	if q.Take("esp2") != "" {
		taken++
	}
	assert.LessOrEqual(t, taken, writes)
	assert.GreaterOrEqual(t, taken, 1)
}
