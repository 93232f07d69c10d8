package printing

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/docstore/sqlitestore"
	"shopops/internal/tactile"
	"shopops/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var pdfBytes = []byte("%PDF-1.4 test label")

// fakeDriver records invocations and checks the PDF is on disk while the
// driver runs.
type fakeDriver struct {
	mu       sync.Mutex
	commands []tactile.Command
	sawFile  []bool
	result   *tactile.ExecutionResult
	err      error
	delay    time.Duration
	running  int32
	overlap  int32

	// started and release, when set, hold the driver open until the test
	// lets it finish.
	started chan struct{}
	release chan struct{}
}

func (f *fakeDriver) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	if atomic.AddInt32(&f.running, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	defer atomic.AddInt32(&f.running, -1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}

	file := cmd.Arguments[len(cmd.Arguments)-1]
	data, readErr := os.ReadFile(file)

	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.sawFile = append(f.sawFile, readErr == nil && string(data) == string(pdfBytes))
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &tactile.ExecutionResult{ExitCode: 0}, nil
}

func (f *fakeDriver) calls() []tactile.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tactile.Command(nil), f.commands...)
}

type harness struct {
	store  *sqlitestore.Store
	driver *fakeDriver
	proc   *Processor
	tmp    string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "shop.db"), sqlitestore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tmp := t.TempDir()
	opts.TempDir = tmp
	if opts.DriverPath == "" {
		opts.DriverPath = "SumatraPDF.exe"
	}
	if opts.Owner == "" {
		opts.Owner = "agent-1"
	}
	driver := &fakeDriver{}
	proc := NewProcessor(store, driver, NewRouter("Std Printer", "Tech Printer", nil), opts)
	return &harness{store: store, driver: driver, proc: proc, tmp: tmp}
}

func (h *harness) put(t *testing.T, id string, data map[string]any) docstore.Document {
	t.Helper()
	require.NoError(t, h.store.Set(context.Background(), types.CollectionPrintJobs, id, data))
	doc, err := h.store.Get(context.Background(), types.CollectionPrintJobs, id)
	require.NoError(t, err)
	return doc
}

func (h *harness) status(t *testing.T, id string) map[string]any {
	t.Helper()
	doc, err := h.store.Get(context.Background(), types.CollectionPrintJobs, id)
	require.NoError(t, err)
	return doc.Data
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must be removed")
}

func printJob(paper, orientation string) map[string]any {
	return map[string]any{
		"kind":   "print",
		"status": "pending",
		"payload": map[string]any{
			"document":    base64.StdEncoding.EncodeToString(pdfBytes),
			"paper":       paper,
			"orientation": orientation,
		},
	}
}

func TestProcessTechnicalSheet(t *testing.T) {
	h := newHarness(t, Options{})
	doc := h.put(t, "job-1", printJob("50x70 Ficha Técnica", "landscape"))

	require.NoError(t, h.proc.ProcessDocument(context.Background(), doc))

	calls := h.driver.calls()
	require.Len(t, calls, 1)
	args := calls[0].Arguments
	assert.Equal(t, "SumatraPDF.exe", calls[0].Binary)
	assert.Equal(t, []string{"-print-to", "Tech Printer", "-silent", "-print-settings", "fit,landscape"}, args[:5])
	assert.Regexp(t, `print_job-1_\d+\.pdf$`, args[5])
	assert.True(t, h.driver.sawFile[0], "driver must see the decoded PDF")

	data := h.status(t, "job-1")
	assert.Equal(t, "done", data["status"])
	assert.NotEmpty(t, data["processedAt"])
	h.assertNoTempFiles(t)
}

func TestProcessDefaultsToStandardQueue(t *testing.T) {
	h := newHarness(t, Options{Scaling: "shrink"})
	doc := h.put(t, "job-2", printJob("", ""))

	require.NoError(t, h.proc.ProcessDocument(context.Background(), doc))
	calls := h.driver.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Std Printer", calls[0].Arguments[1])
	assert.Equal(t, "shrink", calls[0].Arguments[4])
}

func TestProcessValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		stage Stage
	}{
		{
			name:  "missing document",
			data:  map[string]any{"kind": "print", "status": "pending", "payload": map[string]any{"paper": "A4"}},
			stage: StageValidate,
		},
		{
			name:  "wrong kind",
			data:  map[string]any{"kind": "message", "status": "pending", "payload": map[string]any{"document": "JVBE"}},
			stage: StageValidate,
		},
		{
			name:  "bad base64",
			data:  map[string]any{"kind": "print", "status": "pending", "payload": map[string]any{"document": "%%%not-base64"}},
			stage: StageDecode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			doc := h.put(t, "bad", tt.data)

			err := h.proc.ProcessDocument(context.Background(), doc)
			je, ok := IsJobError(err)
			require.True(t, ok, "expected JobError, got %v", err)
			assert.Equal(t, tt.stage, je.Stage)

			assert.Empty(t, h.driver.calls(), "driver must not run")
			data := h.status(t, "bad")
			assert.Equal(t, "error", data["status"])
			assert.NotEmpty(t, data["errorMessage"])
			h.assertNoTempFiles(t)
		})
	}
}

func TestProcessDriverFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.driver.result = &tactile.ExecutionResult{ExitCode: 1, Stderr: "printer offline\n"}
	doc := h.put(t, "job-3", printJob("A4", ""))

	err := h.proc.ProcessDocument(context.Background(), doc)
	je, ok := IsJobError(err)
	require.True(t, ok)
	assert.Equal(t, StageExecute, je.Stage)

	data := h.status(t, "job-3")
	assert.Equal(t, "error", data["status"])
	assert.Equal(t, "printer offline", data["errorMessage"])
	h.assertNoTempFiles(t)
}

func TestProcessSpawnFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.driver.err = errors.New("executable not found")
	doc := h.put(t, "job-4", printJob("A4", ""))

	err := h.proc.ProcessDocument(context.Background(), doc)
	require.Error(t, err)
	assert.Equal(t, "error", h.status(t, "job-4")["status"])
	h.assertNoTempFiles(t)
}

func TestProcessSkipsItemClaimedElsewhere(t *testing.T) {
	h := newHarness(t, Options{})
	doc := h.put(t, "job-5", printJob("A4", ""))
	ok, err := h.store.Claim(context.Background(), types.CollectionPrintJobs, "job-5", "other-agent", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.proc.ProcessDocument(context.Background(), doc))
	assert.Empty(t, h.driver.calls())
	assert.Equal(t, "pending", h.status(t, "job-5")["status"])
}

func TestRedeliveryPrintsOnce(t *testing.T) {
	h := newHarness(t, Options{})
	doc := h.put(t, "job-6", printJob("A4", ""))

	require.NoError(t, h.proc.ProcessDocument(context.Background(), doc))
	require.NoError(t, h.proc.ProcessDocument(context.Background(), doc))
	assert.Len(t, h.driver.calls(), 1)
}

func TestRedeliveryWhilePrintingIsSkipped(t *testing.T) {
	h := newHarness(t, Options{})
	h.driver.started = make(chan struct{})
	h.driver.release = make(chan struct{})
	doc := h.put(t, "job-7", printJob("A4", ""))

	h.proc.Handle(context.Background(), doc)
	select {
	case <-h.driver.started:
	case <-time.After(5 * time.Second):
		t.Fatal("driver never started")
	}

	// Same owner, lease still live, driver still running.
	require.NoError(t, h.proc.ProcessDocument(context.Background(), doc))
	assert.Equal(t, "pending", h.status(t, "job-7")["status"])

	close(h.driver.release)
	h.proc.Wait()

	assert.Len(t, h.driver.calls(), 1)
	assert.Equal(t, "done", h.status(t, "job-7")["status"])
	h.assertNoTempFiles(t)
}

func TestHandleRunsConcurrently(t *testing.T) {
	h := newHarness(t, Options{})
	h.driver.delay = 100 * time.Millisecond
	ctx := context.Background()

	docs := []docstore.Document{
		h.put(t, "a", printJob("A4", "")),
		h.put(t, "b", printJob("ficha tecnica", "")),
		h.put(t, "c", printJob("A4", "")),
	}
	for _, d := range docs {
		h.proc.Handle(ctx, d)
	}
	h.proc.Wait()

	assert.Len(t, h.driver.calls(), 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.driver.overlap), "jobs should overlap without serialization")
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, "done", h.status(t, id)["status"])
	}
}

func TestSerializePerQueue(t *testing.T) {
	h := newHarness(t, Options{SerializePerQueue: true})
	h.driver.delay = 30 * time.Millisecond
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		h.proc.Handle(ctx, h.put(t, id, printJob("A4", "")))
	}
	h.proc.Wait()

	assert.Len(t, h.driver.calls(), 4)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.driver.overlap), "same-queue jobs must not overlap")
}

func TestPrintDocumentWithoutStore(t *testing.T) {
	driver := &fakeDriver{}
	tmp := t.TempDir()
	proc := NewProcessor(nil, driver, NewRouter("S", "T", nil), Options{DriverPath: "drv", TempDir: tmp})

	err := proc.PrintDocument(context.Background(), "manual", types.PrintPayload{
		Document: base64.StdEncoding.EncodeToString(pdfBytes),
		Paper:    "tech sheet",
	})
	require.NoError(t, err)
	require.Len(t, driver.calls(), 1)
	assert.Equal(t, "T", driver.calls()[0].Arguments[1])

	err = proc.PrintDocument(context.Background(), "manual", types.PrintPayload{})
	je, ok := IsJobError(err)
	require.True(t, ok)
	assert.Equal(t, StageValidate, je.Stage)
}

func TestQueueWorkersClosed(t *testing.T) {
	w := NewQueueWorkers()
	require.NoError(t, w.Do(context.Background(), "STD", func() error { return nil }))
	w.Close()
	assert.ErrorIs(t, w.Do(context.Background(), "STD", func() error { return nil }), ErrWorkersClosed)
}
