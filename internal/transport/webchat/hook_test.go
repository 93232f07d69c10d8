package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"shopops/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTab stands in for the web client tab: window globals vanish on every
// navigation, like a real page load.
type fakeTab struct {
	ready    bool
	hooked   bool
	inbox    []rawInbound
	installs int
}

func (f *fakeTab) evaluate(ctx context.Context, js string, out any, args ...interface{}) error {
	switch js {
	case stateJS:
		return decodeInto(pageState{Ready: f.ready, Hooked: f.hooked}, out)
	case hookJS:
		f.hooked = true
		f.installs++
		return nil
	case drainJS:
		batch := f.inbox
		f.inbox = nil
		if batch == nil {
			batch = []rawInbound{}
		}
		return decodeInto(batch, out)
	default:
		return fmt.Errorf("unexpected script %q", js)
	}
}

func (f *fakeTab) navigate() {
	f.hooked = false
	f.inbox = nil
}

// receive mimics the mutation observer: without the hook nothing is captured.
func (f *fakeTab) receive(from, text string) {
	if f.hooked {
		f.inbox = append(f.inbox, rawInbound{Meta: "[10:31, 2/3/2026] " + from + ": ", Text: text})
	}
}

func decodeInto(v, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func inboundTexts(events <-chan transport.Event) []string {
	var texts []string
	for {
		select {
		case ev := <-events:
			if ev.Type == transport.EventInbound {
				texts = append(texts, ev.Message.Text)
			}
		default:
			return texts
		}
	}
}

func TestTickReinstallsHookAfterNavigation(t *testing.T) {
	tab := &fakeTab{ready: true}
	c := New(Config{})
	c.evaluate = tab.evaluate
	events, cancel := c.Subscribe()
	defer cancel()
	ctx := context.Background()

	c.tick(ctx)
	require.True(t, c.Ready())
	require.Equal(t, 1, tab.installs)

	tab.receive("+57 300 123 4567", "hola")
	c.tick(ctx)
	assert.Equal(t, []string{"hola"}, inboundTexts(events))

	// Sending opens the chat URL and reloads the tab.
	tab.navigate()
	c.tick(ctx)
	assert.Equal(t, 2, tab.installs, "hook must come back while the state stays ready")
	assert.True(t, c.Ready())

	tab.receive("+57 300 123 4567", "sigue ahi?")
	c.tick(ctx)
	assert.Equal(t, []string{"sigue ahi?"}, inboundTexts(events))
}

func TestTickKeepsInstalledHook(t *testing.T) {
	tab := &fakeTab{ready: true}
	c := New(Config{})
	c.evaluate = tab.evaluate

	for i := 0; i < 3; i++ {
		c.tick(context.Background())
	}
	assert.Equal(t, 1, tab.installs)
}
