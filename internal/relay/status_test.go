package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/esprelay/internal/testutil"
)

func TestStatusStore_OnlineWithinWindow(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(testutil.Epoch)
	store := NewStatusStore(newTestRegistry(t), 15*time.Second, clock.Now)

	_, err := store.Report("esp2", Values{"t1": 9}, Values{})
	require.NoError(t, err)

	clock.Advance(14 * time.Second)
	st := store.Get("esp2")
	assert.True(t, st.Online)
	assert.Equal(t, Values{"t1": 9}, st.IO)
	assert.Equal(t, Values{}, st.LED)
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, testutil.Epoch, *st.LastSeen)

	clock.Advance(2 * time.Second)
	st = store.Get("esp2")
	assert.False(t, st.Online, "16s after the report the device must be offline")
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, Values{"t1": 9}, st.IO)
}

func TestStatusStore_ExactlyAtWindowIsOffline(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(testutil.Epoch)
	store := NewStatusStore(newTestRegistry(t), 15*time.Second, clock.Now)

	_, err := store.Report("esp1", nil, nil)
	require.NoError(t, err)

	clock.Advance(15 * time.Second)
	assert.False(t, store.Get("esp1").Online)
}

func TestStatusStore_LastSeenTruncatedToSeconds(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(testutil.Epoch.Add(750 * time.Millisecond))
	store := NewStatusStore(newTestRegistry(t), 0, clock.Now)

	st, err := store.Report("esp1", Values{"door": "open"}, nil)
	require.NoError(t, err)
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, testutil.Epoch, *st.LastSeen)
	assert.Equal(t, time.UTC, st.LastSeen.Location())
	assert.True(t, st.Online)
}

func TestStatusStore_ReplacesWholesale(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(testutil.Epoch)
	store := NewStatusStore(newTestRegistry(t), 0, clock.Now)

	_, err := store.Report("esp2", Values{"dev1": 1, "dev2": 0}, Values{"red": true})
	require.NoError(t, err)

	_, err = store.Report("esp2", Values{"t1": 9}, nil)
	require.NoError(t, err)

	st := store.Get("esp2")
	assert.Equal(t, Values{"t1": 9}, st.IO)
	assert.Equal(t, Values{}, st.LED)
}

func TestStatusStore_UnknownAndNeverReported(t *testing.T) {
	t.Parallel()

	store := NewStatusStore(newTestRegistry(t), 0, nil)

	for _, id := range []string{"esp1", "esp9", ""} {
		st := store.Get(id)
		assert.Equal(t, Values{}, st.IO, id)
		assert.Equal(t, Values{}, st.LED, id)
		assert.Nil(t, st.LastSeen, id)
		assert.False(t, st.Online, id)
	}

	_, err := store.Report("esp9", Values{"x": 1}, nil)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, Values{}, store.Get("esp9").IO)
}

func TestStatusStore_CallerCannotMutateStoredMaps(t *testing.T) {
	t.Parallel()

	store := NewStatusStore(newTestRegistry(t), 0, nil)

	io := Values{"t1": 1}
	_, err := store.Report("esp1", io, nil)
	require.NoError(t, err)

	io["t1"] = 2
	st := store.Get("esp1")
	st.IO["t1"] = 3

	assert.Equal(t, 1, store.Get("esp1").IO["t1"])
}

func TestStatusStore_DefaultWindow(t *testing.T) {
	t.Parallel()

	store := NewStatusStore(newTestRegistry(t), -time.Second, nil)
	assert.Equal(t, DefaultLivenessWindow, store.Window())
}

// Readers must see either the old or the new report in full.
func TestStatusStore_ReportsAreAtomic(t *testing.T) {
	t.Parallel()

	store := NewStatusStore(newTestRegistry(t), 0, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = store.Report("esp1", Values{"gen": i}, Values{"gen": i})
		}
	}()

	for i := 0; i < 2000; i++ {
		st := store.Get("esp1")
		if st.LastSeen == nil {
			continue
		}
		require.Equal(t, st.IO["gen"], st.LED["gen"], "torn read")
	}
	close(stop)
	wg.Wait()
}
