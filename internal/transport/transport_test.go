package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorruptionDetection(t *testing.T) {
	base := &CorruptionError{Op: "send", Err: errors.New("profile locked")}
	wrapped := fmt.Errorf("dispatch: %w", base)

	assert.True(t, IsCorrupted(base))
	assert.True(t, IsCorrupted(wrapped))
	assert.False(t, IsCorrupted(ErrNotReady))
	assert.False(t, IsCorrupted(nil))
	assert.Contains(t, wrapped.Error(), "profile locked")
}

func TestFallbackContact(t *testing.T) {
	assert.Equal(t, "573001234567@c.us", FallbackContact("+57 300-123-4567"))
	assert.Equal(t, "", Digits("abc"))
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(1)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()

	assert.Equal(t, 0, h.Publish(Event{Type: EventReady}))
	assert.Equal(t, EventReady, (<-a).Type)
	assert.Equal(t, EventReady, (<-b).Type)

	h.Publish(Event{Type: EventDisconnected})
	assert.Equal(t, 2, h.Publish(Event{Type: EventReady}), "full buffers drop")

	cancelA()
	cancelA()
	_, ok := <-a
	require.True(t, ok, "buffered event still readable")
	_, ok = <-a
	assert.False(t, ok, "channel closed after cancel")

	h.Close()
	<-b
	_, ok = <-b
	assert.False(t, ok)

	c, cancelC := h.Subscribe()
	defer cancelC()
	_, ok = <-c
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
}
