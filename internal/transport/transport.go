// Package transport defines the messaging transport the agent relays chat
// through, plus the event hub its implementations publish to.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"shopops/internal/types"
)

// ErrNotReady is returned by sends attempted before the transport is ready.
var ErrNotReady = errors.New("transport not ready")

// ContactSuffix is the addressing suffix for individual contacts.
const ContactSuffix = "@c.us"

// EventType classifies transport lifecycle events.
type EventType string

const (
	EventReady        EventType = "ready"
	EventDisconnected EventType = "disconnected"
	EventAuthNeeded   EventType = "auth_needed"
	EventInbound      EventType = "inbound"
)

// Event is published by a transport. Message is set for EventInbound.
type Event struct {
	Type    EventType
	Reason  string
	Message *types.Inbound
}

// Media is an attachment to send.
type Media struct {
	Data     []byte
	MimeType string
	Filename string
}

// Ack is the delivery acknowledgment of a sent message.
type Ack struct {
	ID   string
	Code int
}

// Client is a messaging transport.
type Client interface {
	// Ready reports whether the transport can send right now.
	Ready() bool
	// ResolveContact turns a phone number into a transport address.
	ResolveContact(ctx context.Context, phone string) (string, error)
	SendText(ctx context.Context, to, text string) (Ack, error)
	SendMedia(ctx context.Context, to string, media Media, caption string) (Ack, error)
	// Subscribe returns a channel of events and a function releasing it.
	Subscribe() (<-chan Event, func())
}

// CorruptionError marks a transport whose persisted session can no longer be
// used. The process should exit so a supervisor restarts it cleanly.
type CorruptionError struct {
	Op  string
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("transport session corrupted during %s: %v", e.Op, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsCorrupted reports whether err carries a CorruptionError.
func IsCorrupted(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FallbackContact builds the default address for a phone number.
func FallbackContact(phone string) string {
	return Digits(phone) + ContactSuffix
}

// Hub fans events out to subscribers. Slow subscribers drop events rather
// than block the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers ev to every subscriber and reports how many dropped it.
func (h *Hub) Publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
