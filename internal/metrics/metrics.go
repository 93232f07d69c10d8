// Package metrics exports agent counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shopops/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shopops"

// Recorder holds the agent's collectors. A nil *Recorder is valid and records
// nothing, so components can run without metrics in tests.
type Recorder struct {
	registry *prometheus.Registry

	itemsProcessed  *prometheus.CounterVec
	itemDuration    *prometheus.HistogramVec
	feedReconnects  *prometheus.CounterVec
	feedConnected   *prometheus.GaugeVec
	assistantTurns  *prometheus.CounterVec
	modelSelections *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Pending items processed, by kind and final status.",
		}, []string{"kind", "status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time spent processing one pending item.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		feedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Change feed subscription failures followed by a reconnect attempt.",
		}, []string{"feed"}),
		feedConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "1 while the change feed subscription is established.",
		}, []string{"feed"}),
		assistantTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_turns_total",
			Help:      "Conversation turns handled, by outcome.",
		}, []string{"outcome"}),
		modelSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_selections_total",
			Help:      "Model tier chosen by the router.",
		}, []string{"tier"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations requested by the model.",
		}, []string{"tool", "result"}),
	}
	collectors := []prometheus.Collector{
		r.itemsProcessed, r.itemDuration, r.feedReconnects, r.feedConnected,
		r.assistantTurns, r.modelSelections, r.toolCalls,
		prometheus.NewGoCollector(),
	}
	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return r, nil
}

// Registry exposes the underlying registry for tests and custom handlers.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ItemProcessed records the outcome of one pending item.
func (r *Recorder) ItemProcessed(kind, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.itemsProcessed.WithLabelValues(kind, status).Inc()
	r.itemDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// FeedReconnect counts a subscription failure for the named feed.
func (r *Recorder) FeedReconnect(feed string) {
	if r == nil {
		return
	}
	r.feedReconnects.WithLabelValues(feed).Inc()
}

// FeedConnected flips the connection gauge for the named feed.
func (r *Recorder) FeedConnected(feed string, up bool) {
	if r == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	r.feedConnected.WithLabelValues(feed).Set(v)
}

// AssistantTurn counts a handled conversation turn.
func (r *Recorder) AssistantTurn(outcome string) {
	if r == nil {
		return
	}
	r.assistantTurns.WithLabelValues(outcome).Inc()
}

// ModelSelected counts a routing decision.
func (r *Recorder) ModelSelected(tier string) {
	if r == nil {
		return
	}
	r.modelSelections.WithLabelValues(tier).Inc()
}

// ToolCalled counts a tool invocation.
func (r *Recorder) ToolCalled(tool string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.toolCalls.WithLabelValues(tool, result).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	if r == nil || addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logging.Boot("Metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
