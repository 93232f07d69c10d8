// Package printing turns pending print items into driver invocations.
//
// A job is validated, its base64 PDF is written to a temporary file, the
// paper hint picks a queue, and the configured driver is run once. The item
// is then marked done or error; the temporary file never outlives the job.
package printing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/logging"
	"shopops/internal/metrics"
	"shopops/internal/tactile"
	"shopops/internal/types"
)

// slowDriverRun is how long a driver run may take before it is logged as a
// warning.
const slowDriverRun = 30 * time.Second

// Options configures a Processor.
type Options struct {
	// DriverPath is the print driver executable.
	DriverPath string
	// TempDir holds the per-job PDF files. Defaults to os.TempDir().
	TempDir string
	// Scaling is the base print-settings mode. Defaults to "fit".
	Scaling string
	// Timeout bounds one driver run. Zero uses the executor default.
	Timeout time.Duration
	// Owner and ClaimLease identify this agent when claiming jobs.
	Owner      string
	ClaimLease time.Duration
	// SerializePerQueue runs at most one driver per logical queue.
	SerializePerQueue bool
	Metrics           *metrics.Recorder
}

// Processor executes print jobs.
type Processor struct {
	store   docstore.Store
	exec    tactile.Executor
	router  *Router
	opts    Options
	workers *QueueWorkers
	running *docstore.InFlight
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewProcessor wires a processor. store may be nil for one-off prints that
// have no backing item.
func NewProcessor(store docstore.Store, exec tactile.Executor, router *Router, opts Options) *Processor {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Scaling == "" {
		opts.Scaling = "fit"
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 5 * time.Minute
	}
	p := &Processor{
		store:   store,
		exec:    exec,
		router:  router,
		opts:    opts,
		running: docstore.NewInFlight(),
		now:     time.Now,
	}
	if opts.SerializePerQueue {
		p.workers = NewQueueWorkers()
	}
	return p
}

// Handle processes doc in its own goroutine. It matches feed.Handler.
func (p *Processor) Handle(ctx context.Context, doc docstore.Document) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.ProcessDocument(ctx, doc); err != nil {
			logging.PrintError("Job %s: %v", doc.ID, err)
		}
	}()
}

// Wait blocks until every job started by Handle has finished, then stops the
// queue workers.
func (p *Processor) Wait() {
	p.wg.Wait()
	if p.workers != nil {
		p.workers.Close()
	}
}

// ProcessDocument decodes doc and processes it.
func (p *Processor) ProcessDocument(ctx context.Context, doc docstore.Document) error {
	item, err := docstore.PendingItem(doc)
	if err != nil {
		jobErr := &JobError{JobID: doc.ID, Stage: StageValidate, Err: err}
		p.markError(ctx, doc.ID, jobErr)
		return jobErr
	}
	return p.Process(ctx, item)
}

// Process claims the item, prints it and records the outcome. An item
// claimed by another live owner, or already running here, is skipped
// without error.
func (p *Processor) Process(ctx context.Context, item *types.PendingItem) error {
	log := logging.WithRequestID(logging.CategoryPrint, item.ID)
	if !p.running.Begin(item.ID) {
		log.Debug("Already printing, skipping redelivery")
		return nil
	}
	defer p.running.Done(item.ID)

	claimed, err := p.store.Claim(ctx, types.CollectionPrintJobs, item.ID, p.opts.Owner, p.opts.ClaimLease)
	if err != nil {
		return fmt.Errorf("claim print job %s: %w", item.ID, err)
	}
	if !claimed {
		log.Debug("Already claimed or finished, skipping")
		return nil
	}

	start := p.now()
	if err := p.run(ctx, item); err != nil {
		p.markError(ctx, item.ID, err)
		p.opts.Metrics.ItemProcessed(string(types.KindPrint), string(types.StatusError), p.now().Sub(start))
		return err
	}
	if err := p.store.Update(ctx, types.CollectionPrintJobs, item.ID, docstore.DoneFields(p.now(), nil)); err != nil {
		log.Error("Printed but status write failed: %v", err)
		return fmt.Errorf("mark print job %s done: %w", item.ID, err)
	}
	p.opts.Metrics.ItemProcessed(string(types.KindPrint), string(types.StatusDone), p.now().Sub(start))
	log.Info("Printed")
	return nil
}

// PrintDocument runs the print pipeline for a payload that has no backing
// store item.
func (p *Processor) PrintDocument(ctx context.Context, id string, payload types.PrintPayload) error {
	item := &types.PendingItem{
		ID:     id,
		Kind:   types.KindPrint,
		Status: types.StatusPending,
		Payload: map[string]any{
			"document":    payload.Document,
			"paper":       payload.Paper,
			"orientation": payload.Orientation,
			"title":       payload.Title,
		},
	}
	logging.Print("Printing %s without a backing item", id)
	return p.run(ctx, item)
}

func (p *Processor) run(ctx context.Context, item *types.PendingItem) error {
	if item.Kind != types.KindPrint {
		return &JobError{JobID: item.ID, Stage: StageValidate, Err: fmt.Errorf("%w: kind %q", ErrWrongKind, item.Kind)}
	}
	payload := item.PrintPayload()
	if strings.TrimSpace(payload.Document) == "" {
		return &JobError{JobID: item.ID, Stage: StageValidate, Err: ErrEmptyDocument}
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload.Document))
	if err != nil {
		return &JobError{JobID: item.ID, Stage: StageDecode, Err: err}
	}

	path, err := p.writeTemp(item.ID, data)
	if err != nil {
		return &JobError{JobID: item.ID, Stage: StageWrite, Err: err}
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.PrintError("Failed to remove temp file %s: %v", path, err)
		}
	}()

	logical, queue := p.router.Route(payload.Paper)
	cmd := tactile.Command{
		Binary:    p.opts.DriverPath,
		Arguments: DriverArgs(queue, PrintSettings(p.opts.Scaling, payload.Orientation), path),
		Timeout:   p.opts.Timeout,
	}
	logging.WithRequestID(logging.CategoryPrint, item.ID).
		WithField("queue", logical).
		Info("Routed to %s, paper=%q, %d bytes", queue, payload.Paper, len(data))

	if p.workers != nil {
		err = p.workers.Do(ctx, logical, func() error { return p.execute(ctx, item.ID, cmd) })
	} else {
		err = p.execute(ctx, item.ID, cmd)
	}
	return err
}

func (p *Processor) execute(ctx context.Context, id string, cmd tactile.Command) error {
	timer := logging.StartTimer(logging.CategoryPrint, "driver run for "+id)
	defer timer.StopWithThreshold(slowDriverRun)

	result, err := p.exec.Execute(ctx, cmd)
	if err != nil {
		return &JobError{JobID: id, Stage: StageExecute, Err: err}
	}
	if result.Succeeded() {
		return nil
	}
	if stderr := strings.TrimSpace(result.Stderr); stderr != "" && !result.Killed {
		return &JobError{JobID: id, Stage: StageExecute, Err: errors.New(stderr)}
	}
	return &JobError{JobID: id, Stage: StageExecute, Err: result.Err()}
}

func (p *Processor) writeTemp(id string, data []byte) (string, error) {
	if err := os.MkdirAll(p.opts.TempDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("print_%s_%d.pdf", sanitizeID(id), p.now().UnixNano())
	path := filepath.Join(p.opts.TempDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Processor) markError(ctx context.Context, id string, jobErr error) {
	log := logging.WithRequestID(logging.CategoryPrint, id)
	log.Error("Failed: %v", jobErr)
	if p.store == nil {
		return
	}
	msg := jobErr.Error()
	if je, ok := IsJobError(jobErr); ok {
		msg = je.Err.Error()
	}
	if err := p.store.Update(ctx, types.CollectionPrintJobs, id, docstore.ErrorFields(p.now(), msg)); err != nil {
		log.Error("Failed to record error status: %v", err)
	}
}

// sanitizeID keeps ids usable as file name fragments.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
