// Package feed keeps a change feed subscription alive across failures.
//
// A ReconnectManager owns exactly one live stream at a time. When the stream
// fails it is torn down, the error is reported, and a new stream is opened
// after an exponential backoff (1s doubling to 60s, reset once a stream
// delivers its initial snapshot).
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/logging"
	"shopops/internal/metrics"
)

// ErrAlreadySubscribed is returned when Subscribe is called twice.
var ErrAlreadySubscribed = errors.New("feed: already subscribed")

// Watcher opens change streams. docstore.Store satisfies it.
type Watcher interface {
	Watch(ctx context.Context, q docstore.Query) (docstore.Stream, error)
}

// Unsubscribe cancels a subscription and waits for it to wind down.
type Unsubscribe func()

// Handler receives a document delivered by the feed.
type Handler func(ctx context.Context, doc docstore.Document)

// State describes the subscription.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options tunes a ReconnectManager.
type Options struct {
	// Name labels logs and metrics. Defaults to the query collection.
	Name string
	// Kinds selects which change kinds reach the handler. Defaults to Added.
	Kinds []docstore.ChangeKind
	// InitialDelay and MaxDelay bound the backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Sleep replaces the backoff wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Metrics is optional.
	Metrics *metrics.Recorder
}

// ReconnectManager is a self-healing subscription to one query.
type ReconnectManager struct {
	watcher Watcher
	opts    Options
	kinds   map[docstore.ChangeKind]bool
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	stream   docstore.Stream
	backoff  *Backoff
	failures int
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReconnectManager creates an idle manager.
func NewReconnectManager(w Watcher, opts Options) *ReconnectManager {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []docstore.ChangeKind{docstore.ChangeAdded}
	}
	set := make(map[docstore.ChangeKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &ReconnectManager{
		watcher: w,
		opts:    opts,
		kinds:   set,
		sleep:   sleep,
		backoff: NewBackoff(opts.InitialDelay, opts.MaxDelay),
	}
}

// Subscribe starts delivering matching changes to onAdded. onError is called
// once per stream failure, before the backoff wait. The returned function
// cancels the subscription and waits for the loop to exit; calling it more
// than once is safe.
func (m *ReconnectManager) Subscribe(ctx context.Context, q docstore.Query, onAdded Handler, onError func(error)) (Unsubscribe, error) {
	if onAdded == nil {
		return nil, fmt.Errorf("feed: nil handler")
	}
	if onError == nil {
		onError = func(error) {}
	}

	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	if m.opts.Name == "" {
		m.opts.Name = q.Collection
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.run(runCtx, q, onAdded, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// State reports the current subscription state.
func (m *ReconnectManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Failures reports consecutive failures since the last established stream.
func (m *ReconnectManager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *ReconnectManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.opts.Metrics.FeedConnected(m.opts.Name, s == StateConnected)
}

func (m *ReconnectManager) run(ctx context.Context, q docstore.Query, onAdded Handler, onError func(error)) {
	defer func() {
		m.teardown()
		m.setState(StateStopped)
		close(m.done)
	}()

	for {
		m.setState(StateConnecting)
		err := m.attach(ctx, q, onAdded)
		m.teardown()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("stream ended")
		}

		m.mu.Lock()
		m.failures++
		failures := m.failures
		delay := m.backoff.Next()
		m.mu.Unlock()

		logging.FeedWarn("[%s] subscription failed (attempt %d): %v; retrying in %s", m.opts.Name, failures, err, delay)
		m.opts.Metrics.FeedReconnect(m.opts.Name)
		onError(err)

		m.setState(StateBackoff)
		if err := m.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// attach opens a stream and pumps it until it fails.
func (m *ReconnectManager) attach(ctx context.Context, q docstore.Query, onAdded Handler) error {
	stream, err := m.watcher.Watch(ctx, q)
	if err != nil {
		return fmt.Errorf("watch %s: %w", q, err)
	}
	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()

	established := false
	for {
		changes, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !established {
			established = true
			m.mu.Lock()
			recovered := m.failures > 0
			m.failures = 0
			m.backoff.Reset()
			m.mu.Unlock()
			m.setState(StateConnected)
			if recovered {
				logging.Feed("[%s] subscription re-established", m.opts.Name)
			} else {
				logging.Feed("[%s] subscribed to %s", m.opts.Name, q)
			}
		}
		for _, c := range changes {
			if !m.kinds[c.Kind] {
				continue
			}
			logging.FeedDebug("[%s] %s %s", m.opts.Name, c.Kind, c.Doc.ID)
			onAdded(ctx, c.Doc)
		}
	}
}

// teardown stops the live stream, if any. At most one stream exists at a time.
func (m *ReconnectManager) teardown() {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}
}
