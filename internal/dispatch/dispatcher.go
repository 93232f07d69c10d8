// Package dispatch relays pending outbound messages through the messaging
// transport.
package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/logging"
	"shopops/internal/metrics"
	"shopops/internal/transport"
	"shopops/internal/types"
)

// ErrInvalidMessage is recorded for messages without a destination or content.
var ErrInvalidMessage = errors.New("message has no destination or content")

// Options configures a Dispatcher.
type Options struct {
	Owner      string
	ClaimLease time.Duration
	Metrics    *metrics.Recorder
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
}

// Dispatcher sends pending messages.
//
// Messages seen while the transport is not ready stay pending and are
// remembered; they are re-read when the transport announces it is ready.
type Dispatcher struct {
	store   docstore.Store
	client  transport.Client
	opts    Options
	running *docstore.InFlight
	now     func() time.Time
	wg      sync.WaitGroup

	mu       sync.Mutex
	deferred map[string]struct{}
}

// New creates a dispatcher.
func New(store docstore.Store, client transport.Client, opts Options) *Dispatcher {
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 5 * time.Minute
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &Dispatcher{
		store:    store,
		client:   client,
		opts:     opts,
		running:  docstore.NewInFlight(),
		now:      time.Now,
		deferred: make(map[string]struct{}),
	}
}

// Handle processes doc in its own goroutine. It matches feed.Handler.
func (d *Dispatcher) Handle(ctx context.Context, doc docstore.Document) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.ProcessDocument(ctx, doc); err != nil {
			logging.DispatchError("Message %s: %v", doc.ID, err)
		}
	}()
}

// Wait blocks until all in-flight messages are finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run listens for transport readiness and retries deferred messages until ctx
// ends or the transport closes its event stream.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, cancel := d.client.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == transport.EventReady {
				d.retryDeferred(ctx)
			}
		}
	}
}

// Deferred returns the ids waiting for the transport.
func (d *Dispatcher) Deferred() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.deferred))
	for id := range d.deferred {
		ids = append(ids, id)
	}
	return ids
}

func (d *Dispatcher) deferItem(id string) {
	d.mu.Lock()
	d.deferred[id] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) retryDeferred(ctx context.Context) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.deferred))
	for id := range d.deferred {
		ids = append(ids, id)
	}
	d.deferred = make(map[string]struct{})
	d.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	logging.Dispatch("Transport ready, retrying %d deferred messages", len(ids))
	for _, id := range ids {
		doc, err := d.store.Get(ctx, types.CollectionMessages, id)
		if err != nil {
			logging.DispatchWarn("Deferred message %s unreadable: %v", id, err)
			continue
		}
		if doc.Data["status"] != string(types.StatusPending) {
			continue
		}
		d.Handle(ctx, doc)
	}
}

// ProcessDocument decodes doc and processes it.
func (d *Dispatcher) ProcessDocument(ctx context.Context, doc docstore.Document) error {
	item, err := docstore.PendingItem(doc)
	if err != nil {
		d.markError(ctx, doc.ID, err)
		return err
	}
	return d.Process(ctx, item)
}

// Process sends one message and records the outcome. A message already
// being sent by this dispatcher is skipped. A message left pending after a
// dropped transport keeps this owner's claim, so the retry on ready takes it
// again.
func (d *Dispatcher) Process(ctx context.Context, item *types.PendingItem) error {
	log := logging.WithRequestID(logging.CategoryDispatch, item.ID)
	if !d.running.Begin(item.ID) {
		log.Debug("Already sending, skipping redelivery")
		return nil
	}
	defer d.running.Done(item.ID)

	if !d.client.Ready() {
		log.Warn("Transport not ready, message stays pending")
		d.deferItem(item.ID)
		return nil
	}

	claimed, err := d.store.Claim(ctx, types.CollectionMessages, item.ID, d.opts.Owner, d.opts.ClaimLease)
	if err != nil {
		return fmt.Errorf("claim message %s: %w", item.ID, err)
	}
	if !claimed {
		log.Debug("Already claimed or finished, skipping")
		return nil
	}

	start := d.now()
	ack, err := d.send(ctx, item)
	switch {
	case err == nil:
	case transport.IsCorrupted(err):
		log.Error("Transport session corrupted, exiting: %v", err)
		d.opts.Exit(1)
		return err
	case errors.Is(err, transport.ErrNotReady):
		log.Warn("Transport dropped while sending, message stays pending")
		d.deferItem(item.ID)
		return nil
	default:
		d.markError(ctx, item.ID, err)
		d.opts.Metrics.ItemProcessed(string(types.KindMessage), string(types.StatusError), d.now().Sub(start))
		return err
	}

	fields := docstore.DoneFields(d.now(), map[string]any{"ackCode": ack.Code})
	if ack.ID != "" {
		fields["messageId"] = ack.ID
	}
	if err := d.store.Update(ctx, types.CollectionMessages, item.ID, fields); err != nil {
		log.Error("Sent but status write failed: %v", err)
		return fmt.Errorf("mark message %s done: %w", item.ID, err)
	}
	d.opts.Metrics.ItemProcessed(string(types.KindMessage), string(types.StatusDone), d.now().Sub(start))
	log.WithField("ack", ack.Code).Info("Delivered")
	return nil
}

func (d *Dispatcher) send(ctx context.Context, item *types.PendingItem) (transport.Ack, error) {
	if item.Kind != types.KindMessage {
		return transport.Ack{}, fmt.Errorf("%w: kind %q", ErrInvalidMessage, item.Kind)
	}
	payload := item.MessagePayload()
	if strings.TrimSpace(payload.To) == "" || (payload.Body == "" && payload.Attachment == nil) {
		return transport.Ack{}, ErrInvalidMessage
	}

	to := d.resolve(ctx, payload.To)
	if payload.Attachment == nil {
		return d.client.SendText(ctx, to, payload.Body)
	}

	data, err := base64.StdEncoding.DecodeString(stripDataURL(payload.Attachment.Data))
	if err != nil {
		return transport.Ack{}, fmt.Errorf("decode attachment: %w", err)
	}
	media := transport.Media{
		Data:     data,
		MimeType: payload.Attachment.MimeType,
		Filename: payload.Attachment.Filename,
	}
	return d.client.SendMedia(ctx, to, media, payload.Body)
}

// resolve asks the transport for the canonical id and falls back to a
// directly constructed one.
func (d *Dispatcher) resolve(ctx context.Context, to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	id, err := d.client.ResolveContact(ctx, to)
	if err != nil || id == "" {
		fallback := transport.FallbackContact(to)
		logging.DispatchWarn("Contact lookup for %s failed (%v), using %s", to, err, fallback)
		return fallback
	}
	return id
}

func (d *Dispatcher) markError(ctx context.Context, id string, cause error) {
	log := logging.WithRequestID(logging.CategoryDispatch, id)
	log.Error("Failed: %v", cause)
	if err := d.store.Update(ctx, types.CollectionMessages, id, docstore.ErrorFields(d.now(), cause.Error())); err != nil {
		log.Error("Failed to record error status: %v", err)
	}
}

// stripDataURL drops a "data:<mime>;base64," prefix if present.
func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return strings.TrimSpace(s)
}
