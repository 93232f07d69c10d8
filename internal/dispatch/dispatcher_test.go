package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/docstore/sqlitestore"
	"shopops/internal/transport"
	"shopops/internal/transport/transporttest"
	"shopops/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	store *sqlitestore.Store
	tr    *transporttest.Fake
	d     *Dispatcher

	mu    sync.Mutex
	exits []int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "shop.db"), sqlitestore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{store: store, tr: transporttest.New()}
	t.Cleanup(h.tr.Close)
	h.d = New(store, h.tr, Options{
		Owner: "agent-1",
		Exit: func(code int) {
			h.mu.Lock()
			h.exits = append(h.exits, code)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) put(t *testing.T, id string, payload map[string]any) docstore.Document {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Set(ctx, types.CollectionMessages, id, map[string]any{
		"kind": "message", "status": "pending", "payload": payload,
	}))
	doc, err := h.store.Get(ctx, types.CollectionMessages, id)
	require.NoError(t, err)
	return doc
}

func (h *harness) data(t *testing.T, id string) map[string]any {
	t.Helper()
	doc, err := h.store.Get(context.Background(), types.CollectionMessages, id)
	require.NoError(t, err)
	return doc.Data
}

func TestSendTextWithResolvedContact(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)
	h.tr.AddContact("3001234567", "573001234567@c.us")
	h.tr.SetAckCode(2)

	doc := h.put(t, "m1", map[string]any{"to": "300 123 4567", "body": "Su equipo está listo"})
	require.NoError(t, h.d.ProcessDocument(context.Background(), doc))

	sent := h.tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "573001234567@c.us", sent[0].To)
	assert.Equal(t, "Su equipo está listo", sent[0].Text)

	data := h.data(t, "m1")
	assert.Equal(t, "done", data["status"])
	assert.EqualValues(t, 2, data["ackCode"])
	assert.NotEmpty(t, data["processedAt"])
}

func TestLookupFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)
	h.tr.FailResolve(errors.New("lookup timeout"))

	doc := h.put(t, "m1", map[string]any{"to": "+57 300-123-4567", "body": "hola"})
	require.NoError(t, h.d.ProcessDocument(context.Background(), doc))

	sent := h.tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "573001234567@c.us", sent[0].To)
	assert.Equal(t, "done", h.data(t, "m1")["status"])
}

func TestSendMediaWithCaption(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)
	pdf := []byte("%PDF-1.4 invoice")

	doc := h.put(t, "m1", map[string]any{
		"to":   "573001234567@c.us",
		"body": "Factura adjunta",
		"attachment": map[string]any{
			"data":     "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
			"mimeType": "application/pdf",
			"filename": "factura.pdf",
		},
	})
	require.NoError(t, h.d.ProcessDocument(context.Background(), doc))

	sent := h.tr.Sent()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Media)
	assert.Equal(t, pdf, sent[0].Media.Data)
	assert.Equal(t, "factura.pdf", sent[0].Media.Filename)
	assert.Equal(t, "Factura adjunta", sent[0].Caption)
}

func TestNotReadyLeavesPendingAndRetriesOnReady(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = h.d.Run(ctx)
	}()
	defer func() {
		cancel()
		<-runDone
		h.d.Wait()
	}()

	doc := h.put(t, "m1", map[string]any{"to": "573001234567@c.us", "body": "hola"})
	require.NoError(t, h.d.ProcessDocument(ctx, doc))
	assert.Equal(t, "pending", h.data(t, "m1")["status"])
	assert.Equal(t, []string{"m1"}, h.d.Deferred())
	assert.Empty(t, h.tr.Sent())

	// Wait for Run to subscribe before publishing readiness.
	require.Eventually(t, func() bool {
		h.tr.SetReady(true)
		return len(h.tr.Sent()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.data(t, "m1")["status"] == "done"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, h.d.Deferred())
}

func TestSendErrorMarksError(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)
	h.tr.FailSend(errors.New("rate limited"))

	doc := h.put(t, "m1", map[string]any{"to": "573001234567@c.us", "body": "hola"})
	err := h.d.ProcessDocument(context.Background(), doc)
	require.Error(t, err)

	data := h.data(t, "m1")
	assert.Equal(t, "error", data["status"])
	assert.Equal(t, "rate limited", data["errorMessage"])
	assert.Empty(t, h.exits)
}

func TestInvalidMessageMarksError(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)

	doc := h.put(t, "m1", map[string]any{"body": "no destination"})
	require.ErrorIs(t, h.d.ProcessDocument(context.Background(), doc), ErrInvalidMessage)
	assert.Equal(t, "error", h.data(t, "m1")["status"])
	assert.Empty(t, h.tr.Sent())
}

func TestCorruptionExits(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)
	h.tr.FailSend(&transport.CorruptionError{Op: "send text", Err: errors.New("target closed")})

	doc := h.put(t, "m1", map[string]any{"to": "573001234567@c.us", "body": "hola"})
	err := h.d.ProcessDocument(context.Background(), doc)
	assert.True(t, transport.IsCorrupted(err))

	h.mu.Lock()
	assert.Equal(t, []int{1}, h.exits)
	h.mu.Unlock()
}

func TestRedeliveredMessageSentOnce(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)

	doc := h.put(t, "m1", map[string]any{"to": "573001234567@c.us", "body": "hola"})
	h.d.Handle(context.Background(), doc)
	h.d.Wait()
	h.d.Handle(context.Background(), doc)
	h.d.Wait()

	assert.Len(t, h.tr.Sent(), 1)
}

func TestRedeliveryWhileSendingIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.tr.OnSend(func(transporttest.Sent) {
		once.Do(func() {
			close(started)
			<-release
		})
	})

	doc := h.put(t, "m1", map[string]any{"to": "573001234567@c.us", "body": "hola"})
	h.d.Handle(context.Background(), doc)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("send never started")
	}

	require.NoError(t, h.d.ProcessDocument(context.Background(), doc))
	assert.Equal(t, "pending", h.data(t, "m1")["status"])

	close(release)
	h.d.Wait()

	assert.Len(t, h.tr.Sent(), 1)
	assert.Equal(t, "done", h.data(t, "m1")["status"])
}

func TestRetryAfterDroppedSendReusesOwnClaim(t *testing.T) {
	h := newHarness(t)
	h.tr.SetReady(true)
	h.tr.FailSend(transport.ErrNotReady)

	doc := h.put(t, "m1", map[string]any{"to": "573001234567@c.us", "body": "hola"})
	require.NoError(t, h.d.ProcessDocument(context.Background(), doc))
	assert.Equal(t, []string{"m1"}, h.d.Deferred())
	assert.Equal(t, "agent-1", h.data(t, "m1")["claimedBy"])

	h.tr.FailSend(nil)
	h.d.retryDeferred(context.Background())
	h.d.Wait()

	assert.Len(t, h.tr.Sent(), 1)
	assert.Equal(t, "done", h.data(t, "m1")["status"])
}
