package telemetry

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewOTelMetrics(OTelMetricsOptions{MeterProvider: provider})
	if err != nil {
		t.Fatalf("NewOTelMetrics: %v", err)
	}

	transfer := map[string]string{LabelEndpoint: "rank-1", LabelOperation: "receive"}
	metrics.SendCompleted(transfer)
	metrics.SendFailed(errors.New("fail"), transfer)
	metrics.ReceiveCompleted(transfer)
	metrics.ReceiveFailed(errors.New("rfail"), transfer)

	op := map[string]string{LabelCollective: "allreduce", LabelAlgorithm: "ring", LabelStatus: "ok"}
	metrics.OpStarted(op)
	metrics.OpCompleted(op)
	metrics.OpFailed(errors.New("boom"), op)
	metrics.PlanFallback(op)

	ctx := context.Background()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	cases := map[string]float64{
		"collective.p2p.send.completed":    1,
		"collective.p2p.send.failed":       1,
		"collective.p2p.receive.completed": 1,
		"collective.p2p.receive.failed":    1,
		"collective.op.started":            1,
		"collective.op.completed":          1,
		"collective.op.failed":             1,
		"collective.plan.fallback":         1,
	}
	for name, want := range cases {
		if got := otelCounterValue(rm, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func otelCounterValue(rm metricdata.ResourceMetrics, name string) float64 {
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				var sum float64
				for _, dp := range data.DataPoints {
					sum += float64(dp.Value)
				}
				return sum
			}
		}
	}
	return 0
}
