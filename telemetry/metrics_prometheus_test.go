package telemetry

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}

	transfer := map[string]string{
		LabelEndpoint:  "rank-0",
		LabelOperation: "send",
	}
	metrics.SendCompleted(transfer)
	metrics.SendFailed(errors.New("fail"), transfer)
	metrics.ReceiveCompleted(transfer)
	metrics.ReceiveFailed(errors.New("rfail"), transfer)

	op := map[string]string{
		LabelCollective: "bcast",
		LabelAlgorithm:  "knomial_tree",
		LabelStatus:     "io error",
		LabelReason:     "unsupported",
	}
	metrics.OpStarted(op)
	metrics.OpCompleted(op)
	metrics.OpFailed(errors.New("boom"), op)
	metrics.PlanFallback(op)
	metrics.PlanFallback(op)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := map[string]float64{
		"collective_p2p_send_completed_total":    1,
		"collective_p2p_send_failed_total":       1,
		"collective_p2p_receive_completed_total": 1,
		"collective_p2p_receive_failed_total":    1,
		"collective_op_started_total":            1,
		"collective_op_completed_total":          1,
		"collective_op_failed_total":             1,
		"collective_plan_fallback_total":         2,
	}
	for name, want := range cases {
		if got := findCounterValue(mfs, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}
}

func TestPrometheusMetricsReuseRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("first NewPrometheusMetrics: %v", err)
	}
	second, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("second NewPrometheusMetrics: %v", err)
	}
	attrs := map[string]string{LabelCollective: "barrier", LabelAlgorithm: "recursive_doubling"}
	first.OpStarted(attrs)
	second.OpStarted(attrs)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := findCounterValue(mfs, "collective_op_started_total"); got != 2 {
		t.Fatalf("shared counter = %v want 2", got)
	}
}

func findCounterValue(mfs []*dto.MetricFamily, name string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.Metric {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}
