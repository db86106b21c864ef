package telemetry

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	sendCompleted    *prometheus.CounterVec
	sendFailed       *prometheus.CounterVec
	receiveCompleted *prometheus.CounterVec
	receiveFailed    *prometheus.CounterVec
	opStarted        *prometheus.CounterVec
	opCompleted      *prometheus.CounterVec
	opFailed         *prometheus.CounterVec
	planFallback     *prometheus.CounterVec
}

var (
	transferLabelKeys = []string{LabelEndpoint, LabelOperation}
	opLabelKeys       = []string{LabelCollective, LabelAlgorithm}
	opFailLabelKeys   = []string{LabelCollective, LabelAlgorithm, LabelStatus}
	fallbackLabelKeys = []string{LabelCollective, LabelAlgorithm, LabelReason}
)

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, keys)
	}

	p := &PrometheusMetrics{
		sendCompleted:    counter("collective_p2p_send_completed_total", "Number of successful point-to-point send completions", transferLabelKeys),
		sendFailed:       counter("collective_p2p_send_failed_total", "Number of errored point-to-point send completions", transferLabelKeys),
		receiveCompleted: counter("collective_p2p_receive_completed_total", "Number of successful point-to-point receive completions", transferLabelKeys),
		receiveFailed:    counter("collective_p2p_receive_failed_total", "Number of errored point-to-point receive completions", transferLabelKeys),
		opStarted:        counter("collective_op_started_total", "Number of collective operations triggered", opLabelKeys),
		opCompleted:      counter("collective_op_completed_total", "Number of collective operations that completed successfully", opLabelKeys),
		opFailed:         counter("collective_op_failed_total", "Number of collective operations that ended in error", opFailLabelKeys),
		planFallback:     counter("collective_plan_fallback_total", "Number of plan candidates skipped during selection", fallbackLabelKeys),
	}

	for _, vec := range []**prometheus.CounterVec{
		&p.sendCompleted, &p.sendFailed, &p.receiveCompleted, &p.receiveFailed,
		&p.opStarted, &p.opCompleted, &p.opFailed, &p.planFallback,
	} {
		registered, err := registerCounterVec(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

func (p *PrometheusMetrics) SendCompleted(attrs map[string]string) {
	p.sendCompleted.With(labels(attrs, transferLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) SendFailed(_ error, attrs map[string]string) {
	p.sendFailed.With(labels(attrs, transferLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ReceiveCompleted(attrs map[string]string) {
	p.receiveCompleted.With(labels(attrs, transferLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ReceiveFailed(_ error, attrs map[string]string) {
	p.receiveFailed.With(labels(attrs, transferLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) OpStarted(attrs map[string]string) {
	p.opStarted.With(labels(attrs, opLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) OpCompleted(attrs map[string]string) {
	p.opCompleted.With(labels(attrs, opLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) OpFailed(_ error, attrs map[string]string) {
	p.opFailed.With(labels(attrs, opFailLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) PlanFallback(attrs map[string]string) {
	p.planFallback.With(labels(attrs, fallbackLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
