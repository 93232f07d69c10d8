// Package agent wires the feeds, processors and the assistant into one
// long-running process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"shopops/internal/assistant"
	"shopops/internal/command"
	"shopops/internal/config"
	"shopops/internal/dispatch"
	"shopops/internal/docstore"
	"shopops/internal/feed"
	"shopops/internal/llm"
	"shopops/internal/logging"
	"shopops/internal/metrics"
	"shopops/internal/printing"
	"shopops/internal/tactile"
	"shopops/internal/tools"
	"shopops/internal/transport"
	"shopops/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators the agent drives. Model may be nil, which
// disables the assistant.
type Deps struct {
	Store     docstore.Store
	Transport transport.Client
	Executor  tactile.Executor
	Model     llm.Model
	Metrics   *metrics.Recorder

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
	// Sleep replaces the feed backoff wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Agent is the background operations process.
type Agent struct {
	cfg  *config.Config
	deps Deps

	owner        string
	processor    *printing.Processor
	dispatcher   *dispatch.Dispatcher
	channel      *command.Channel
	orchestrator *assistant.Orchestrator

	replies sync.WaitGroup
}

// New builds an agent from validated configuration.
func New(cfg *config.Config, deps Deps) (*Agent, error) {
	if deps.Store == nil || deps.Transport == nil || deps.Executor == nil {
		return nil, errors.New("agent: store, transport and executor are required")
	}
	if deps.Exit == nil {
		deps.Exit = os.Exit
	}

	owner := cfg.Agent.Owner
	if owner == "" {
		host, _ := os.Hostname()
		owner = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	lease := cfg.GetClaimLease()

	a := &Agent{cfg: cfg, deps: deps, owner: owner}

	router := printing.NewRouter(cfg.Printer.StandardQueue, cfg.Printer.TechnicalQueue, cfg.Printer.TechnicalTokens)
	a.processor = printing.NewProcessor(deps.Store, deps.Executor, router, printing.Options{
		DriverPath:        cfg.Printer.DriverPath,
		TempDir:           cfg.Printer.TempDir,
		Scaling:           cfg.Printer.Scaling,
		Timeout:           cfg.GetPrintTimeout(),
		Owner:             owner,
		ClaimLease:        lease,
		SerializePerQueue: cfg.Printer.SerializePerQueue,
		Metrics:           deps.Metrics,
	})

	a.dispatcher = dispatch.New(deps.Store, deps.Transport, dispatch.Options{
		Owner:      owner,
		ClaimLease: lease,
		Metrics:    deps.Metrics,
		Exit:       deps.Exit,
	})

	a.channel = command.New(deps.Store, command.Options{
		SessionDirs: cfg.SessionDirs(),
		ExitDelay:   cfg.GetExitDelay(),
		Exit:        deps.Exit,
	})

	if deps.Model != nil {
		registry := tools.NewRegistry()
		registry.MustRegister(tools.NewInventoryTool(deps.Store))
		a.orchestrator = assistant.New(deps.Store, deps.Model, registry, assistant.Options{
			Shop:         cfg.AI.Shop,
			Admins:       cfg.Auth.Admins,
			EconomyModel: cfg.AI.EconomyModel,
			PremiumModel: cfg.AI.PremiumModel,
			Metrics:      deps.Metrics,
		})
	}
	return a, nil
}

// Owner is the claim owner id of this process.
func (a *Agent) Owner() string {
	return a.owner
}

type subscription struct {
	query   docstore.Query
	kinds   []docstore.ChangeKind
	handler feed.Handler
}

func (a *Agent) subscriptions() []subscription {
	pending := []docstore.Filter{docstore.Eq("status", string(types.StatusPending))}
	return []subscription{
		{
			query:   docstore.Query{Collection: types.CollectionPrintJobs, Where: pending},
			handler: a.processor.Handle,
		},
		{
			query:   docstore.Query{Collection: types.CollectionMessages, Where: pending},
			handler: a.dispatcher.Handle,
		},
		{
			query:   command.Query(),
			kinds:   []docstore.ChangeKind{docstore.ChangeAdded, docstore.ChangeModified},
			handler: a.channel.Handle,
		},
	}
}

// Run consumes the feeds and inbound messages until ctx ends, then waits for
// in-flight work.
func (a *Agent) Run(ctx context.Context) error {
	initial, max := a.cfg.GetBackoff()

	var unsubs []feed.Unsubscribe
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		a.processor.Wait()
		a.dispatcher.Wait()
		a.replies.Wait()
		logging.Boot("Agent %s stopped", a.owner)
	}()

	for _, sub := range a.subscriptions() {
		m := feed.NewReconnectManager(a.deps.Store, feed.Options{
			Kinds:        sub.kinds,
			InitialDelay: initial,
			MaxDelay:     max,
			Sleep:        a.deps.Sleep,
			Metrics:      a.deps.Metrics,
		})
		collection := sub.query.Collection
		unsub, err := m.Subscribe(ctx, sub.query, sub.handler, func(err error) {
			logging.FeedWarn("Feed %s dropped: %v", collection, err)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", collection, err)
		}
		unsubs = append(unsubs, unsub)
	}
	logging.Boot("Agent %s listening (assistant=%v)", a.owner, a.orchestrator != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error { return a.listen(gctx) })
	g.Go(func() error { return a.deps.Metrics.Serve(gctx, a.cfg.Metrics.Listen) })
	return g.Wait()
}

// listen follows transport lifecycle events and answers inbound messages.
func (a *Agent) listen(ctx context.Context) error {
	events, cancel := a.deps.Transport.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case transport.EventReady:
				logging.Transport("Transport ready")
			case transport.EventDisconnected:
				logging.TransportWarn("Transport disconnected: %s", ev.Reason)
			case transport.EventAuthNeeded:
				logging.TransportWarn("Transport needs the session to be linked again")
			case transport.EventInbound:
				if ev.Message != nil && a.orchestrator != nil {
					msg := *ev.Message
					a.replies.Add(1)
					go func() {
						defer a.replies.Done()
						a.reply(ctx, msg)
					}()
				}
			}
		}
	}
}

func (a *Agent) reply(ctx context.Context, msg types.Inbound) {
	reply, ok := a.orchestrator.Handle(ctx, msg)
	if !ok {
		return
	}
	text := assistant.FallbackReply
	if reply.Text != nil {
		text = *reply.Text
	} else {
		logging.AssistantError("No reply for %s: %s", msg.From, reply.Error)
	}
	if text == "" {
		return
	}
	if _, err := a.deps.Transport.SendText(ctx, msg.From, text); err != nil {
		logging.AssistantError("Reply to %s not sent: %v", msg.From, err)
		if transport.IsCorrupted(err) {
			logging.BootError("Transport session corrupted, exiting")
			a.deps.Exit(1)
		}
	}
}
