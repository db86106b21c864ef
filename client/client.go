// Package client is the high-level entry point of the library. A Job wires an
// in-process fabric, one endpoint and group handle per rank and a shared
// engine; each rank's Client exposes the collectives as blocking and
// asynchronous calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/config"
	"github.com/rocketbitz/collective/engine"
	"github.com/rocketbitz/collective/p2p"
	"github.com/rocketbitz/collective/plan"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/telemetry"
	"github.com/rocketbitz/collective/topo"
)

// ErrClosed indicates the job has already been closed.
var ErrClosed = errors.New("collective client: closed")

// Config controls Launch.
type Config struct {
	// Size is the number of ranks. It may be left zero when Locations is set.
	Size int
	// Nodes spreads Size ranks over nodes in equal blocks, each split into
	// Sockets sockets. Zero leaves the job without a topology.
	Nodes   int
	Sockets int
	// Locations places every rank explicitly and takes precedence over Nodes.
	Locations []topo.Location
	// Settings defaults to config.Default().
	Settings *config.Config
	// Policies replaces the built-in plan tables.
	Policies *plan.Policies
	// Timeout bounds calls whose context carries no deadline.
	Timeout time.Duration
	GroupID uint32

	Logger           telemetry.Logger
	StructuredLogger telemetry.StructuredLogger
	Tracer           telemetry.Tracer
	Metrics          telemetry.MetricHook
}

// Stats aggregates engine and transfer counters over the job.
type Stats struct {
	Engine    engine.Stats
	Transfers p2p.Stats
}

// Job owns the fabric, endpoints and engine of a set of ranks.
type Job struct {
	cfg     Config
	fabric  *p2p.Fabric
	topo    *topo.Topology
	engine  *engine.Engine
	clients []*Client
	closed  atomic.Bool
}

// Launch validates cfg and builds the job.
func Launch(cfg Config) (*Job, error) {
	locs, err := placement(cfg)
	if err != nil {
		return nil, err
	}
	if locs != nil {
		cfg.Size = len(locs)
	}
	if cfg.Size < 1 || cfg.Size > p2p.MaxRank+1 {
		return nil, status.Errorf(status.InvalidParam, "collective client: job size %d", cfg.Size)
	}
	if cfg.GroupID == 0 {
		cfg.GroupID = 1
	}
	settings := config.Default()
	if cfg.Settings != nil {
		settings = *cfg.Settings
	}

	opts := []engine.Option{
		engine.WithLogger(cfg.Logger),
		engine.WithStructuredLogger(cfg.StructuredLogger),
		engine.WithTracer(cfg.Tracer),
		engine.WithMetrics(cfg.Metrics),
	}
	if cfg.Policies != nil {
		opts = append(opts, engine.WithPolicies(cfg.Policies))
	}
	eng, err := engine.New(settings, opts...)
	if err != nil {
		return nil, fmt.Errorf("collective client: %w", err)
	}

	j := &Job{cfg: cfg, fabric: p2p.NewFabric(cfg.Size), engine: eng}
	if locs != nil {
		if j.topo, err = topo.New(locs); err != nil {
			return nil, status.Errorf(status.InvalidParam, "collective client: %v", err)
		}
	}
	for r := 0; r < cfg.Size; r++ {
		ep := p2p.NewEndpoint(j.fabric.Port(r), p2p.Config{
			Logger:           cfg.Logger,
			StructuredLogger: cfg.StructuredLogger,
			Tracer:           cfg.Tracer,
			Metrics:          cfg.Metrics,
		})
		g, err := eng.NewGroup(coll.GroupConfig{ID: cfg.GroupID, Endpoint: ep, Topology: j.topo, Rank: r})
		if err != nil {
			return nil, err
		}
		j.clients = append(j.clients, &Client{job: j, rank: r, ep: ep, group: g})
	}
	return j, nil
}

func placement(cfg Config) ([]topo.Location, error) {
	switch {
	case cfg.Locations != nil:
		return cfg.Locations, nil
	case cfg.Nodes > 0:
		if cfg.Size%cfg.Nodes != 0 {
			return nil, status.Errorf(status.InvalidParam, "collective client: %d ranks do not fill %d nodes evenly", cfg.Size, cfg.Nodes)
		}
		return topo.Uniform(cfg.Nodes, cfg.Size/cfg.Nodes, cfg.Sockets), nil
	default:
		return nil, nil
	}
}

// Size is the number of ranks.
func (j *Job) Size() int { return len(j.clients) }

// Client returns the handle of rank.
func (j *Job) Client(rank int) *Client { return j.clients[rank] }

// Clients returns every rank's handle in rank order.
func (j *Job) Clients() []*Client { return append([]*Client(nil), j.clients...) }

// Engine exposes the engine shared by the ranks.
func (j *Job) Engine() *engine.Engine { return j.engine }

// Topology is nil when the job was launched without placement.
func (j *Job) Topology() *topo.Topology { return j.topo }

// Run calls fn for every rank on its own goroutine and returns the first
// error. The context passed to fn is cancelled once any rank fails.
func (j *Job) Run(ctx context.Context, fn func(ctx context.Context, c *Client) error) error {
	if err := j.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := j.operationContext(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range j.clients {
		eg.Go(func() error {
			if err := fn(ctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.rank, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Stats returns a snapshot of job counters.
func (j *Job) Stats() Stats {
	s := Stats{Engine: j.engine.Stats()}
	for _, c := range j.clients {
		ep := c.ep.Stats()
		s.Transfers.SendPosted += ep.SendPosted
		s.Transfers.SendCompleted += ep.SendCompleted
		s.Transfers.SendErrored += ep.SendErrored
		s.Transfers.ReceivePosted += ep.ReceivePosted
		s.Transfers.ReceiveMatched += ep.ReceiveMatched
		s.Transfers.ReceiveErrored += ep.ReceiveErrored
		s.Transfers.Polls += ep.Polls
	}
	return s
}

// Close releases the endpoints and the engine. Later calls fail with
// ErrClosed.
func (j *Job) Close() error {
	if j.closed.Swap(true) {
		return ErrClosed
	}
	var errs []error
	for _, c := range j.clients {
		errs = append(errs, c.ep.Close())
	}
	j.fabric.Close()
	errs = append(errs, j.engine.Close())
	return errors.Join(errs...)
}

func (j *Job) ensureOpen() error {
	if j == nil || j.closed.Load() {
		return ErrClosed
	}
	return nil
}

// operationContext applies the job timeout unless ctx already expires sooner.
func (j *Job) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := j.cfg.Timeout
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
