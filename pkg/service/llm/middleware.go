package llm

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"golang.org/x/time/rate"
)

var (
	completionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themis_llm_completions_total",
		Help: "Total model completion calls by backend and outcome",
	}, []string{"backend", "outcome"})

	completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "themis_llm_completion_duration_seconds",
		Help:    "Latency of model completion calls",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"backend"})
)

type rateLimited struct {
	next    interfaces.Completer
	limiter *rate.Limiter
}

// WithRateLimit throttles calls to next. A nil limiter disables throttling.
func WithRateLimit(next interfaces.Completer, limiter *rate.Limiter) interfaces.Completer {
	if limiter == nil {
		return next
	}
	return &rateLimited{next: next, limiter: limiter}
}

func (r *rateLimited) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", goerr.Wrap(err, "rate limiter wait aborted")
	}
	return r.next.Complete(ctx, req)
}

type instrumented struct {
	next    interfaces.Completer
	backend string
}

// WithMetrics records call counts and latency of next under the backend label
func WithMetrics(next interfaces.Completer, backend string) interfaces.Completer {
	return &instrumented{next: next, backend: backend}
}

func (m *instrumented) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	start := time.Now()
	out, err := m.next.Complete(ctx, req)
	completionDuration.WithLabelValues(m.backend).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	completionTotal.WithLabelValues(m.backend, outcome).Inc()

	return out, err
}
