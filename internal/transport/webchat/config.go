package webchat

import "time"

// Selectors locate the web client's controls. They change with the web
// client's releases, so they are configurable.
type Selectors struct {
	Ready           string
	QRCode          string
	Compose         string
	SendButton      string
	AttachButton    string
	FileInput       string
	Caption         string
	MediaSend       string
	InvalidNumber   string
	IncomingMessage string
	MessageText     string
}

// defaultSelectors matches the current web client layout.
func defaultSelectors() Selectors {
	return Selectors{
		Ready:           "#pane-side",
		QRCode:          "canvas[aria-label='Scan me!'], div[data-ref]",
		Compose:         "footer div[contenteditable='true']",
		SendButton:      "footer button[aria-label='Send'], span[data-icon='send']",
		AttachButton:    "footer span[data-icon='plus'], footer span[data-icon='attach-menu-plus']",
		FileInput:       "input[type='file']",
		Caption:         "div[contenteditable='true'][data-lexical-editor='true']",
		MediaSend:       "span[data-icon='send'], div[aria-label='Send']",
		InvalidNumber:   "div[data-animate-modal-popup='true']",
		IncomingMessage: "div.message-in",
		MessageText:     "span.selectable-text",
	}
}

// withDefaults fills every empty selector from defaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := defaultSelectors()
	for _, f := range []struct {
		dst *string
		def string
	}{
		{&s.Ready, d.Ready},
		{&s.QRCode, d.QRCode},
		{&s.Compose, d.Compose},
		{&s.SendButton, d.SendButton},
		{&s.AttachButton, d.AttachButton},
		{&s.FileInput, d.FileInput},
		{&s.Caption, d.Caption},
		{&s.MediaSend, d.MediaSend},
		{&s.InvalidNumber, d.InvalidNumber},
		{&s.IncomingMessage, d.IncomingMessage},
		{&s.MessageText, d.MessageText},
	} {
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
	return s
}

// Config configures the browser-driven client. The agent builds it from its
// own transport settings.
type Config struct {
	URL string
	// BrowserBin is the Chrome executable. Empty lets rod pick or download one.
	BrowserBin string
	// DebuggerURL attaches to an already running browser instead of launching.
	DebuggerURL string
	Headless    bool
	// AuthDir is the browser profile holding the linked session.
	AuthDir string
	// CacheDir holds the browser disk cache and outgoing media files.
	CacheDir string
	// DefaultCountryCode is prefixed to numbers of LocalNumberLength digits.
	DefaultCountryCode string
	LocalNumberLength  int

	PollIntervalMs  int
	ActionTimeoutMs int
	// MaxCheckFailures consecutive failed state checks mark the session
	// corrupted.
	MaxCheckFailures int

	Selectors Selectors
}

// PollInterval returns the state check interval.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ActionTimeout bounds a single send.
func (c Config) ActionTimeout() time.Duration {
	if c.ActionTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ActionTimeoutMs) * time.Millisecond
}

func (c Config) maxCheckFailures() int {
	if c.MaxCheckFailures <= 0 {
		return 5
	}
	return c.MaxCheckFailures
}
