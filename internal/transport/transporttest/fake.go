// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shopops/internal/transport"
	"shopops/internal/types"
)

// Sent is a message accepted by the fake.
type Sent struct {
	To      string
	Text    string
	Media   *transport.Media
	Caption string
}

// Fake records sends and lets tests drive readiness and inbound messages.
type Fake struct {
	hub *transport.Hub

	mu         sync.Mutex
	ready      bool
	sent       []Sent
	contacts   map[string]string
	resolveErr error
	sendErr    error
	ackCode    int
	sendHook   func(Sent)
}

// New returns a fake that is not ready.
func New() *Fake {
	return &Fake{hub: transport.NewHub(64), contacts: make(map[string]string), ackCode: 1}
}

// SetReady flips readiness and publishes the matching event.
func (f *Fake) SetReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
	if ready {
		f.hub.Publish(transport.Event{Type: transport.EventReady})
	} else {
		f.hub.Publish(transport.Event{Type: transport.EventDisconnected, Reason: "test"})
	}
}

// AddContact maps a phone number to an address.
func (f *Fake) AddContact(phone, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts[transport.Digits(phone)] = address
}

// FailResolve makes every lookup fail with err.
func (f *Fake) FailResolve(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveErr = err
}

// FailSend makes every send fail with err.
func (f *Fake) FailSend(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// SetAckCode changes the acknowledgment returned by sends.
func (f *Fake) SetAckCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackCode = code
}

// OnSend registers a callback run for every accepted send.
func (f *Fake) OnSend(fn func(Sent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendHook = fn
}

// Deliver publishes an inbound message.
func (f *Fake) Deliver(msg types.Inbound) {
	f.hub.Publish(transport.Event{Type: transport.EventInbound, Message: &msg})
}

// Publish emits an arbitrary event.
func (f *Fake) Publish(ev transport.Event) {
	f.hub.Publish(ev)
}

// Sent returns every accepted send.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Close closes subscriber channels.
func (f *Fake) Close() { f.hub.Close() }

func (f *Fake) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *Fake) ResolveContact(ctx context.Context, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if addr, ok := f.contacts[transport.Digits(phone)]; ok {
		return addr, nil
	}
	return "", errors.New("contact not registered")
}

func (f *Fake) SendText(ctx context.Context, to, text string) (transport.Ack, error) {
	return f.send(Sent{To: to, Text: text})
}

func (f *Fake) SendMedia(ctx context.Context, to string, media transport.Media, caption string) (transport.Ack, error) {
	m := media
	return f.send(Sent{To: to, Media: &m, Caption: caption})
}

func (f *Fake) send(s Sent) (transport.Ack, error) {
	f.mu.Lock()
	if !f.ready {
		f.mu.Unlock()
		return transport.Ack{}, transport.ErrNotReady
	}
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return transport.Ack{}, err
	}
	f.sent = append(f.sent, s)
	ack := transport.Ack{ID: fmt.Sprintf("msg-%d", len(f.sent)), Code: f.ackCode}
	hook := f.sendHook
	f.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return ack, nil
}

func (f *Fake) Subscribe() (<-chan transport.Event, func()) {
	return f.hub.Subscribe()
}

var _ transport.Client = (*Fake)(nil)
