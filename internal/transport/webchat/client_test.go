package webchat

import (
	"context"
	"errors"
	"testing"

	"shopops/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  rawInbound
		want string
		ok   bool
	}{
		{"phone author", rawInbound{Meta: "[10:31, 2/3/2026] +57 300 123 4567: ", Text: "hola"}, "573001234567@c.us", true},
		{"empty text", rawInbound{Meta: "[10:31, 2/3/2026] +57 300: ", Text: "  "}, "", false},
		{"named contact", rawInbound{Meta: "[10:31, 2/3/2026] Taller: ", Text: "hola"}, "", false},
		{"no meta", rawInbound{Text: "hola"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := parseInbound(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, msg.From)
		})
	}
}

func TestResolveContact(t *testing.T) {
	c := New(Config{DefaultCountryCode: "+57", LocalNumberLength: 10})

	addr, err := c.ResolveContact(context.Background(), "300 123 4567")
	require.NoError(t, err)
	assert.Equal(t, "573001234567@c.us", addr)

	addr, err = c.ResolveContact(context.Background(), "+1 (415) 555-0100")
	require.NoError(t, err)
	assert.Equal(t, "14155550100@c.us", addr)

	_, err = c.ResolveContact(context.Background(), "12")
	assert.Error(t, err)
}

func TestSendBeforeStartIsNotReady(t *testing.T) {
	c := New(Config{})
	_, err := c.SendText(context.Background(), "573001234567@c.us", "hola")
	assert.ErrorIs(t, err, transport.ErrNotReady)
	assert.False(t, c.Ready())
}

func TestMarkCorruptPublishesOnce(t *testing.T) {
	c := New(Config{})
	events, cancel := c.Subscribe()
	defer cancel()

	err := c.markCorrupt("send text", errors.New("target closed"))
	assert.True(t, transport.IsCorrupted(err))
	_ = c.markCorrupt("state check", errors.New("again"))

	ev := <-events
	assert.Equal(t, transport.EventDisconnected, ev.Type)
	select {
	case ev := <-events:
		t.Fatalf("unexpected second event %v", ev)
	default:
	}

	_, err = c.SendText(context.Background(), "x", "y")
	assert.True(t, transport.IsCorrupted(err))
}

func TestTransitionPublishesChanges(t *testing.T) {
	c := New(Config{})
	events, cancel := c.Subscribe()
	defer cancel()

	c.transition(stateAuthNeeded, "qr")
	c.transition(stateAuthNeeded, "qr")
	c.transition(stateReady, "")

	assert.Equal(t, transport.EventAuthNeeded, (<-events).Type)
	assert.Equal(t, transport.EventReady, (<-events).Type)
	assert.True(t, c.Ready())
	assert.Len(t, events, 0)
}

func TestIsSessionLost(t *testing.T) {
	assert.True(t, isSessionLost(errors.New("cdp: Target closed")))
	assert.False(t, isSessionLost(context.Canceled))
	assert.False(t, isSessionLost(errors.New("element not found")))
}

func TestNewKeepsConfiguredSelectors(t *testing.T) {
	c := New(Config{Selectors: Selectors{Compose: "div.composer"}})
	assert.Equal(t, "div.composer", c.cfg.Selectors.Compose)
	assert.Equal(t, defaultSelectors().Ready, c.cfg.Selectors.Ready)
	assert.Equal(t, defaultSelectors().MessageText, c.cfg.Selectors.MessageText)
}
