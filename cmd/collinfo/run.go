package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rocketbitz/collective/client"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/telemetry"
)

type runOptions struct {
	ranks, nodes, sockets int
	count, iterations     int
	collective            string
	metrics               string
	timeout               time.Duration
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run collectives on an in-process job and report timings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollectives(cmd.Context(), cmd.OutOrStdout(), opts, ro)
		},
	}
	f := cmd.Flags()
	f.IntVar(&ro.ranks, "ranks", 8, "number of ranks")
	f.IntVar(&ro.nodes, "nodes", 2, "nodes the ranks are spread over; 0 for no topology")
	f.IntVar(&ro.sockets, "sockets", 1, "sockets per node")
	f.IntVar(&ro.count, "count", 1024, "float64 elements per rank")
	f.IntVar(&ro.iterations, "iterations", 10, "calls per collective")
	f.StringVar(&ro.collective, "collective", "all", "collective to run")
	f.StringVar(&ro.metrics, "metrics", "prometheus", "metric backend: prometheus, otel or none")
	f.DurationVar(&ro.timeout, "timeout", time.Minute, "bound on each call")
	return cmd
}

// metricSource reports counter totals by metric name after a run.
type metricSource func() (map[string]float64, error)

func newMetrics(backend string) (telemetry.MetricHook, metricSource, error) {
	switch backend {
	case "prometheus":
		reg := prometheus.NewRegistry()
		m, err := telemetry.NewPrometheusMetrics(telemetry.PrometheusMetricsOptions{Registerer: reg})
		if err != nil {
			return nil, nil, err
		}
		return m, func() (map[string]float64, error) {
			mfs, err := reg.Gather()
			if err != nil {
				return nil, err
			}
			out := make(map[string]float64)
			for _, mf := range mfs {
				for _, metric := range mf.GetMetric() {
					out[mf.GetName()] += metric.GetCounter().GetValue()
				}
			}
			return out, nil
		}, nil
	case "otel":
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		m, err := telemetry.NewOTelMetrics(telemetry.OTelMetricsOptions{MeterProvider: provider})
		if err != nil {
			return nil, nil, err
		}
		return m, func() (map[string]float64, error) {
			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				return nil, err
			}
			out := make(map[string]float64)
			for _, sm := range rm.ScopeMetrics {
				for _, metric := range sm.Metrics {
					if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
						for _, dp := range sum.DataPoints {
							out[metric.Name] += float64(dp.Value)
						}
					}
				}
			}
			return out, nil
		}, nil
	case "none", "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown metric backend %q", backend)
	}
}

type result struct {
	typ       coll.Type
	algorithm string
	bytes     int
	elapsed   time.Duration
}

func runCollectives(ctx context.Context, out io.Writer, opts *rootOptions, ro *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ro.count < 1 || ro.iterations < 1 {
		return fmt.Errorf("count and iterations must be positive")
	}
	types, err := selectTypes(ro.collective)
	if err != nil {
		return err
	}
	logger, err := telemetry.NewZapLogger(opts.cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics, collect, err := newMetrics(ro.metrics)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger = logger.With("run", runID)
	cfg := opts.cfg
	job, err := client.Launch(client.Config{
		Size:             ro.ranks,
		Nodes:            ro.nodes,
		Sockets:          ro.sockets,
		Settings:         &cfg,
		Timeout:          ro.timeout,
		StructuredLogger: logger,
		Metrics:          metrics,
	})
	if err != nil {
		return err
	}
	defer job.Close()
	logger.Infow("job launched", "ranks", job.Size(), "nodes", ro.nodes, "collectives", len(types))

	var results []result
	for _, typ := range types {
		res, err := runOne(ctx, job, typ, ro)
		if err != nil {
			return fmt.Errorf("%s: %w", typ, err)
		}
		results = append(results, res)
	}

	fmt.Fprintf(out, "run %s: %d ranks\n", runID, job.Size())
	t := newTable([]lipgloss.Position{lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Right},
		"collective", "algorithm", "message", "per call", "rate")
	for _, r := range results {
		per := r.elapsed / time.Duration(ro.iterations)
		rate := "-"
		if r.bytes > 0 && per > 0 {
			rate = humanize.IBytes(uint64(float64(r.bytes)/per.Seconds())) + "/s"
		}
		t.row(false, r.typ.String(), r.algorithm, humanize.IBytes(uint64(r.bytes)), per.String(), rate)
	}
	fmt.Fprintln(out, t.Render())

	stats := job.Stats()
	fmt.Fprintf(out, "calls: %s completed, %d failed, %d fallbacks; transfers: %s sends, %s polls\n",
		humanize.Comma(int64(stats.Engine.Completed)), stats.Engine.Failed, stats.Engine.Fallbacks,
		humanize.Comma(int64(stats.Transfers.SendPosted)), humanize.Comma(int64(stats.Transfers.Polls)))
	if collect != nil {
		totals, err := collect()
		if err != nil {
			return err
		}
		m := newTable([]lipgloss.Position{lipgloss.Left, lipgloss.Right}, "metric", "total")
		for _, name := range sortedKeys(totals) {
			m.row(false, name, strconv.FormatFloat(totals[name], 'f', -1, 64))
		}
		fmt.Fprintln(out, m.Render())
	}
	return nil
}

// runOne drives iterations calls of typ on every rank. Rank 0 starts its
// calls asynchronously to learn which plan was chosen.
func runOne(ctx context.Context, job *client.Job, typ coll.Type, ro *runOptions) (result, error) {
	res := result{typ: typ}
	start := time.Now()
	err := job.Run(ctx, func(ctx context.Context, c *client.Client) error {
		for i := 0; i < ro.iterations; i++ {
			args := buildArgs(typ, c.Rank(), c.Size(), ro.count)
			if c.Rank() != 0 {
				if err := c.Do(ctx, args); err != nil {
					return err
				}
				continue
			}
			req, err := c.Start(ctx, args)
			if err != nil {
				return err
			}
			if err := req.Await(ctx); err != nil {
				return err
			}
			res.algorithm = req.Plan().Algorithm.Name
			res.bytes = args.MessageSize()
		}
		return nil
	})
	res.elapsed = time.Since(start)
	if typ == coll.Scatterv || typ == coll.Gatherv {
		res.bytes = dt.Float64.Bytes(ro.count * job.Size())
	}
	return res, err
}

func buildArgs(typ coll.Type, rank, size, count int) coll.Args {
	payload := func(n int) []byte {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = float64(rank + i)
		}
		return floats(vals)
	}
	counts := make([]int, size)
	displs := make([]int, size)
	for r := range counts {
		counts[r] = count
		displs[r] = r * count
	}
	total := count * size
	switch typ {
	case coll.Bcast:
		return &coll.BcastArgs{Buf: payload(count), Count: count, Dtype: dt.Float64}
	case coll.Allreduce:
		return &coll.AllreduceArgs{SendBuf: payload(count), RecvBuf: make([]byte, dt.Float64.Bytes(count)), Count: count, Dtype: dt.Float64, Op: dt.Sum}
	case coll.Allgatherv:
		return &coll.AllgathervArgs{SendBuf: payload(count), SendCount: count, RecvBuf: make([]byte, dt.Float64.Bytes(total)), RecvCounts: counts, Displs: displs, Dtype: dt.Float64}
	case coll.Scatterv:
		a := &coll.ScattervArgs{RecvBuf: make([]byte, dt.Float64.Bytes(count)), RecvCount: count, Dtype: dt.Float64}
		if rank == 0 {
			a.SendBuf, a.SendCounts, a.Displs = payload(total), counts, displs
		}
		return a
	case coll.Gatherv:
		a := &coll.GathervArgs{SendBuf: payload(count), SendCount: count, Dtype: dt.Float64}
		if rank == 0 {
			a.RecvBuf, a.RecvCounts, a.Displs = make([]byte, dt.Float64.Bytes(total)), counts, displs
		}
		return a
	case coll.Reduce:
		a := &coll.ReduceArgs{SendBuf: payload(count), Count: count, Dtype: dt.Float64, Op: dt.Sum}
		if rank == 0 {
			a.RecvBuf = make([]byte, dt.Float64.Bytes(count))
		}
		return a
	default:
		return &coll.BarrierArgs{}
	}
}

func floats(vals []float64) []byte {
	b := make([]byte, dt.Float64.Bytes(len(vals)))
	copy(dt.Float64s(b), vals)
	return b
}

func sortedKeys(m map[string]float64) []string {
	return slices.Sorted(maps.Keys(m))
}
