package agent

import (
	"context"
	"fmt"

	"shopops/internal/config"
	"shopops/internal/docstore"
	"shopops/internal/docstore/firestorestore"
	"shopops/internal/docstore/sqlitestore"
	"shopops/internal/llm"
	"shopops/internal/logging"
	"shopops/internal/metrics"
	"shopops/internal/tactile"
	"shopops/internal/transport/webchat"
)

// OpenStore opens the configured document store backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		return firestorestore.Open(ctx, cfg.Project, cfg.Credentials)
	case config.BackendSQLite, "":
		return sqlitestore.Open(cfg.Path, sqlitestore.Options{WatchExternal: cfg.WatchExternal})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// transportConfig maps the transport settings onto the web client's config.
func transportConfig(t config.TransportConfig) webchat.Config {
	return webchat.Config{
		URL:                t.URL,
		BrowserBin:         t.BrowserBin,
		DebuggerURL:        t.DebuggerURL,
		Headless:           t.Headless,
		AuthDir:            t.AuthDir,
		CacheDir:           t.CacheDir,
		DefaultCountryCode: t.DefaultCountryCode,
		LocalNumberLength:  t.LocalNumberLength,
		PollIntervalMs:     t.PollIntervalMs,
		ActionTimeoutMs:    t.ActionTimeoutMs,
		MaxCheckFailures:   t.MaxCheckFailures,
		Selectors:          webchat.Selectors(t.Selectors),
	}
}

// Bootstrap opens every real collaborator and returns a ready agent plus a
// shutdown function that releases them.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Agent, func(), error) {
	var closers []func() error
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logging.BootError("Shutdown: %v", err)
			}
		}
	}
	fail := func(err error) (*Agent, func(), error) {
		shutdown()
		return nil, func() {}, err
	}

	rec, err := metrics.New()
	if err != nil {
		return fail(fmt.Errorf("metrics: %w", err))
	}

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}
	closers = append(closers, store.Close)

	var model llm.Model
	if cfg.AI.Enabled {
		gemini, err := llm.NewGeminiClient(ctx, cfg.AI.APIKey)
		if err != nil {
			return fail(err)
		}
		model = gemini
	}

	client := webchat.New(transportConfig(cfg.Transport))
	if err := client.Start(ctx); err != nil {
		return fail(fmt.Errorf("start transport: %w", err))
	}
	closers = append(closers, client.Stop)

	execCfg := tactile.DefaultExecutorConfig()
	execCfg.DefaultTimeout = cfg.GetPrintTimeout()

	a, err := New(cfg, Deps{
		Store:     store,
		Transport: client,
		Executor:  tactile.NewDirectExecutorWithConfig(execCfg),
		Model:     model,
		Metrics:   rec,
	})
	if err != nil {
		return fail(err)
	}
	return a, shutdown, nil
}
