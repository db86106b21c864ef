package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter            metric.Meter
	sendCompleted    metric.Int64Counter
	sendFailed       metric.Int64Counter
	receiveCompleted metric.Int64Counter
	receiveFailed    metric.Int64Counter
	opStarted        metric.Int64Counter
	opCompleted      metric.Int64Counter
	opFailed         metric.Int64Counter
	planFallback     metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/collective"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	o := &OTelMetrics{meter: meter}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&o.sendCompleted, "collective.p2p.send.completed"},
		{&o.sendFailed, "collective.p2p.send.failed"},
		{&o.receiveCompleted, "collective.p2p.receive.completed"},
		{&o.receiveFailed, "collective.p2p.receive.failed"},
		{&o.opStarted, "collective.op.started"},
		{&o.opCompleted, "collective.op.completed"},
		{&o.opFailed, "collective.op.failed"},
		{&o.planFallback, "collective.plan.fallback"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return o, nil
}

// SendCompleted records a successful send completion.
func (o *OTelMetrics) SendCompleted(attrs map[string]string) {
	o.sendCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, transferLabelKeys)...))
}

// SendFailed records a failed send completion.
func (o *OTelMetrics) SendFailed(_ error, attrs map[string]string) {
	o.sendFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, transferLabelKeys)...))
}

// ReceiveCompleted records a successful receive completion.
func (o *OTelMetrics) ReceiveCompleted(attrs map[string]string) {
	o.receiveCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, transferLabelKeys)...))
}

// ReceiveFailed records a failed receive completion.
func (o *OTelMetrics) ReceiveFailed(_ error, attrs map[string]string) {
	o.receiveFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, transferLabelKeys)...))
}

// OpStarted records a triggered collective.
func (o *OTelMetrics) OpStarted(attrs map[string]string) {
	o.opStarted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, opLabelKeys)...))
}

// OpCompleted records a collective that finished successfully.
func (o *OTelMetrics) OpCompleted(attrs map[string]string) {
	o.opCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, opLabelKeys)...))
}

// OpFailed records a collective that ended in error.
func (o *OTelMetrics) OpFailed(_ error, attrs map[string]string) {
	o.opFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, opFailLabelKeys)...))
}

// PlanFallback records a skipped plan candidate.
func (o *OTelMetrics) PlanFallback(attrs map[string]string) {
	o.planFallback.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, fallbackLabelKeys)...))
}

func otelAttrs(attrs map[string]string, keys []string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		if v := attrs[key]; v != "" {
			kvs = append(kvs, attribute.String(key, v))
		}
	}
	return kvs
}
