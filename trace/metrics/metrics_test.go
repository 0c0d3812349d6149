package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gelato/trace/metrics"
	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

// counterValue returns the value of the counter name whose labels include all of want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	gt.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, want) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestSubmissionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := metrics.New(metrics.WithRegisterer(reg))
	gt.NoError(t, err)

	ctx := h.StartSubmission(context.Background(), nil)
	h.EndSubmission(ctx, &trace.SubmissionData{Attempts: 1}, nil)
	h.EndSubmission(ctx, &trace.SubmissionData{Attempts: 3}, errors.New("timeout"))
	h.EndSubmission(ctx, nil, nil)

	gt.Equal(t, counterValue(t, reg, "gelato_submissions_total", map[string]string{"result": "ok"}), 2.0)
	gt.Equal(t, counterValue(t, reg, "gelato_submissions_total", map[string]string{"result": "error"}), 1.0)
}

func TestEligibilityAndExecutionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := metrics.New(metrics.WithRegisterer(reg), metrics.WithNamespace("test"))
	gt.NoError(t, err)

	ctx := context.Background()
	h.EndEligibility(ctx, &trace.EligibilityData{Liquid: true, ModuleProvided: true}, nil)
	h.EndEligibility(ctx, &trace.EligibilityData{Reasons: []string{"provider is not liquid"}}, errors.New("not eligible"))
	h.EndExecution(ctx, &trace.ExecutionData{Status: "condition_not_met"}, nil)
	h.EndExecution(ctx, &trace.ExecutionData{Status: "condition_not_met"}, nil)
	h.AddEvent(ctx, "retry", nil)

	gt.Equal(t, counterValue(t, reg, "test_eligibility_checks_total", map[string]string{"eligible": "true"}), 1.0)
	gt.Equal(t, counterValue(t, reg, "test_eligibility_checks_total", map[string]string{"eligible": "false"}), 1.0)
	gt.Equal(t, counterValue(t, reg, "test_executions_total", map[string]string{"status": "condition_not_met"}), 2.0)
	gt.Equal(t, counterValue(t, reg, "test_events_total", map[string]string{"kind": "retry"}), 1.0)
}

func TestEngineLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := metrics.New(metrics.WithRegisterer(reg))
	gt.NoError(t, err)

	ctx := h.StartEngineCall(context.Background(), "gasPrice", nil)
	h.EndEngineCall(ctx, nil, nil)

	// ending without a matching start is ignored
	h.EndEngineCall(context.Background(), nil, nil)

	n, err := testutil.GatherAndCount(reg, "gelato_engine_call_duration_seconds")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(metrics.WithRegisterer(reg))
	gt.NoError(t, err)

	_, err = metrics.New(metrics.WithRegisterer(reg))
	gt.Error(t, err)
}
