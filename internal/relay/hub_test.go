package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	ev := StatusEvent{Device: "esp1", Status: emptyStatus()}
	assert.Equal(t, 2, h.Publish(ev))

	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)
}

func TestHub_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe()
	require.Equal(t, 1, h.Len())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Publish(StatusEvent{Device: "esp1"}))
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(StatusEvent{Device: "esp1"})
	}
	assert.Equal(t, uint64(5), h.Dropped())
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe()

	h.Close()
	h.Close()

	_, open := <-ch
	assert.False(t, open)

	// cancelling after close must not double-close
	cancel()

	late, _ := h.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
