// Package metrics provides a trace handler that exports submission and
// execution counters to Prometheus.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "gelato"

// Option configures the metrics handler.
type Option func(*config)

type config struct {
	registerer prometheus.Registerer
	namespace  string
}

// WithRegisterer sets the registry the collectors are registered to. Default is prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithNamespace overrides the metric namespace. Default is "gelato".
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

type handler struct {
	submissions   *prometheus.CounterVec
	attempts      prometheus.Histogram
	eligibility   *prometheus.CounterVec
	engineLatency *prometheus.HistogramVec
	executions    *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New registers the collectors and returns a trace.Handler that updates them.
func New(opts ...Option) (trace.Handler, error) {
	cfg := config{
		registerer: prometheus.DefaultRegisterer,
		namespace:  defaultNamespace,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &handler{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "submissions_total",
			Help:      "Task cycle submissions by result.",
		}, []string{"result"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "submission_attempts",
			Help:      "Engine round trips needed per submission.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		eligibility: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "eligibility_checks_total",
			Help:      "Provider eligibility checks by outcome.",
		}, []string{"eligible"}),
		engineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Latency of execution engine round trips.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "result"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "executions_total",
			Help:      "Receipt execution attempts by status.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "events_total",
			Help:      "Trace events by kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{h.submissions, h.attempts, h.eligibility, h.engineLatency, h.executions, h.events} {
		if err := cfg.registerer.Register(c); err != nil {
			return nil, goerr.Wrap(err, "failed to register collector", goerr.V("namespace", cfg.namespace))
		}
	}
	return h, nil
}

type startTimeKey struct{}

type methodKey struct{}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (h *handler) StartSubmission(ctx context.Context, _ *trace.SubmissionData) context.Context {
	return ctx
}

func (h *handler) EndSubmission(_ context.Context, data *trace.SubmissionData, err error) {
	h.submissions.WithLabelValues(result(err)).Inc()
	if data != nil && data.Attempts > 0 {
		h.attempts.Observe(float64(data.Attempts))
	}
}

func (h *handler) StartEligibility(ctx context.Context, _ string) context.Context {
	return ctx
}

func (h *handler) EndEligibility(_ context.Context, data *trace.EligibilityData, err error) {
	if err != nil && data == nil {
		return
	}
	eligible := data != nil && len(data.Reasons) == 0 && err == nil
	h.eligibility.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

func (h *handler) StartEngineCall(ctx context.Context, method string, _ map[string]any) context.Context {
	ctx = context.WithValue(ctx, startTimeKey{}, time.Now())
	return context.WithValue(ctx, methodKey{}, method)
}

func (h *handler) EndEngineCall(ctx context.Context, _ map[string]any, err error) {
	started, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok {
		return
	}
	method, _ := ctx.Value(methodKey{}).(string)
	h.engineLatency.WithLabelValues(method, result(err)).Observe(time.Since(started).Seconds())
}

func (h *handler) StartExecution(ctx context.Context, _ uint64) context.Context {
	return ctx
}

func (h *handler) EndExecution(_ context.Context, data *trace.ExecutionData, err error) {
	status := "error"
	if data != nil && data.Status != "" {
		status = data.Status
	} else if err == nil {
		status = "unknown"
	}
	h.executions.WithLabelValues(status).Inc()
}

func (h *handler) AddEvent(_ context.Context, kind string, _ any) {
	h.events.WithLabelValues(kind).Inc()
}

func (h *handler) Finish(_ context.Context) error {
	return nil
}
