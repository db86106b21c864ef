// Package engine runs collectives: it turns a call into a plan through the
// selector, drives the plan's op and reports the outcome to the configured
// logging, tracing and metric hooks.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/config"
	"github.com/rocketbitz/collective/p2p"
	"github.com/rocketbitz/collective/plan"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/telemetry"
)

// ErrClosed indicates the engine has already been closed.
var ErrClosed = errors.New("collective engine: closed")

type options struct {
	hooks    telemetry.Hooks
	policies *plan.Policies
	extra    []coll.Algorithm
}

// Option customises New.
type Option func(*options)

// WithLogger sets the printf-style debug logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) { o.hooks.Logger = l }
}

// WithStructuredLogger sets the key/value logger.
func WithStructuredLogger(l telemetry.StructuredLogger) Option {
	return func(o *options) { o.hooks.StructuredLogger = l }
}

// WithTracer wraps every Run in a span.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *options) { o.hooks.Tracer = t }
}

// WithMetrics records op and fallback counters.
func WithMetrics(m telemetry.MetricHook) Option {
	return func(o *options) { o.hooks.Metrics = m }
}

// WithPolicies replaces the built-in policy tables.
func WithPolicies(p *plan.Policies) Option {
	return func(o *options) { o.policies = p }
}

// WithAlgorithms registers algorithms next to the built-in ones. Policies or
// overrides must name their ids for the selector to try them.
func WithAlgorithms(algs ...coll.Algorithm) Option {
	return func(o *options) { o.extra = append(o.extra, algs...) }
}

// Stats contains engine counters.
type Stats struct {
	Started   uint64
	Completed uint64
	Failed    uint64
	Fallbacks uint64
}

type engineStats struct {
	started   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	fallbacks atomic.Uint64
}

// Engine selects and runs collectives. It is safe for concurrent use. Runs
// sharing an endpoint are driven one at a time in the order Run or Start was
// called, which keeps request ids aligned across ranks.
type Engine struct {
	cfg      config.Config
	registry *plan.Registry
	selector *plan.Selector
	hooks    telemetry.Hooks
	stats    engineStats
	closed   atomic.Bool

	// one FIFO lane per endpoint: an endpoint is progressed by one goroutine
	mu    sync.Mutex
	lanes map[*p2p.Endpoint]chan struct{}
}

// New validates cfg and builds the algorithm registry and plan selector.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	hooks := o.hooks.Normalize()

	registry, err := plan.NewRegistry(Builtin(cfg)...)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(o.extra...); err != nil {
		return nil, err
	}
	overrides, err := cfg.Overrides()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		hooks:    hooks,
		lanes:    make(map[*p2p.Endpoint]chan struct{}),
	}
	selector, err := plan.NewSelector(plan.SelectorConfig{
		Registry:  registry,
		Policies:  o.policies,
		Overrides: overrides,
		Hooks:     telemetry.Hooks{Logger: hooks.Logger, StructuredLogger: hooks.StructuredLogger, Metrics: fallbackCounter{e}},
	})
	if err != nil {
		return nil, err
	}
	e.selector = selector
	if e.hooks.Logger != nil || e.hooks.StructuredLogger != nil {
		total := 0
		for _, t := range coll.Types() {
			total += len(registry.Algorithms(t))
		}
		e.log("created", telemetry.KV("algorithms", total), telemetry.KV("overrides", len(overrides)))
	}
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config { return e.cfg }

// Registry exposes the registered algorithms.
func (e *Engine) Registry() *plan.Registry { return e.registry }

// Selector exposes the plan selector.
func (e *Engine) Selector() *plan.Selector { return e.selector }

// NewGroup builds a group handle, taking the poll budget from the
// configuration when cfg leaves it unset.
func (e *Engine) NewGroup(cfg coll.GroupConfig) (*coll.Group, error) {
	if cfg.Polls == 0 {
		cfg.Polls = e.cfg.Polls
	}
	return coll.NewGroup(cfg)
}

// Prepare selects a plan for args on g without triggering it.
func (e *Engine) Prepare(g *coll.Group, args coll.Args) (*plan.Plan, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if g == nil || args == nil {
		return nil, status.Errorf(status.InvalidParam, "collective engine: nil group or args")
	}
	return e.selector.Prepare(g, args)
}

// Run prepares, drives and discards one collective call.
func (e *Engine) Run(ctx context.Context, g *coll.Group, args coll.Args) (err error) {
	if g == nil || args == nil {
		return status.Errorf(status.InvalidParam, "collective engine: nil group or args")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t := args.Type()
	span := e.hooks.StartSpan("collective."+t.String(),
		telemetry.KV(telemetry.LabelCollective, t.String()),
		telemetry.KV("rank", g.Rank()),
		telemetry.KV("size", g.Size()),
		telemetry.KV("bytes", args.MessageSize()))
	defer func() {
		telemetry.SpanError(span, err)
		telemetry.SpanEnd(span, err)
	}()

	p, err := e.Prepare(g, args)
	if err != nil {
		e.opFailed(t, "", err)
		return err
	}
	telemetry.SpanEvent(span, "planned",
		telemetry.KV(telemetry.LabelAlgorithm, p.Algorithm.Name),
		telemetry.KV("skipped", len(p.Skipped)))
	return e.drive(ctx, g, t, p, e.enqueue(g.Endpoint()))
}

// drive waits for the turn taken by enqueue, then runs p to completion.
func (e *Engine) drive(ctx context.Context, g *coll.Group, t coll.Type, p *plan.Plan, turn ticket) error {
	if err := turn.wait(ctx); err != nil {
		_ = p.Op.Discard()
		e.opFailed(t, p.Algorithm.Name, err)
		return err
	}
	defer turn.release()

	name := p.Algorithm.Name
	e.stats.started.Add(1)
	e.metric(func(m telemetry.MetricHook) { m.OpStarted(opAttrs(t, name)) })
	e.log("start", telemetry.KV("collective", t), telemetry.KV("algorithm", name), telemetry.KV("rank", g.Rank()))

	err := coll.Drive(ctx, p.Op)
	if derr := p.Op.Discard(); err == nil {
		err = derr
	}
	if err != nil {
		e.opFailed(t, name, err)
		return err
	}
	e.stats.completed.Add(1)
	e.metric(func(m telemetry.MetricHook) { m.OpCompleted(opAttrs(t, name)) })
	e.log("complete", telemetry.KV("collective", t), telemetry.KV("algorithm", name), telemetry.KV("rank", g.Rank()))
	return nil
}

// Start prepares args on g and drives the plan on its own goroutine.
func (e *Engine) Start(ctx context.Context, g *coll.Group, args coll.Args) (*Request, error) {
	if g == nil || args == nil {
		return nil, status.Errorf(status.InvalidParam, "collective engine: nil group or args")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := e.Prepare(g, args)
	if err != nil {
		e.opFailed(args.Type(), "", err)
		return nil, err
	}
	r := newRequest(p)
	turn := e.enqueue(g.Endpoint())
	go func() {
		r.complete(e.drive(ctx, g, args.Type(), p, turn))
	}()
	return r, nil
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return Stats{
		Started:   e.stats.started.Load(),
		Completed: e.stats.completed.Load(),
		Failed:    e.stats.failed.Load(),
		Fallbacks: e.stats.fallbacks.Load(),
	}
}

// Close rejects later calls. Runs in progress finish normally.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return ErrClosed
	}
	e.log("closed")
	return nil
}

// ticket is a place in an endpoint's lane. The run holding it may start once
// prev is closed and must close next when it is done.
type ticket struct {
	prev <-chan struct{}
	next chan struct{}
}

// enqueue takes the next place in ep's lane. It must be called on the
// caller's goroutine so the lane follows issue order.
func (e *Engine) enqueue(ep *p2p.Endpoint) ticket {
	next := make(chan struct{})
	e.mu.Lock()
	prev, ok := e.lanes[ep]
	e.lanes[ep] = next
	e.mu.Unlock()
	if !ok {
		ready := make(chan struct{})
		close(ready)
		prev = ready
	}
	return ticket{prev: prev, next: next}
}

// wait blocks until the previous run on the lane finished. When ctx ends
// first the place is handed on once the previous run is done.
func (t ticket) wait(ctx context.Context) error {
	select {
	case <-t.prev:
		return nil
	default:
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-t.prev
			t.release()
		}()
		return ctx.Err()
	}
}

func (t ticket) release() { close(t.next) }

func (e *Engine) opFailed(t coll.Type, algorithm string, err error) {
	e.stats.failed.Add(1)
	attrs := opAttrs(t, algorithm)
	attrs[telemetry.LabelStatus] = status.Of(err).String()
	e.metric(func(m telemetry.MetricHook) { m.OpFailed(err, attrs) })
	e.log("failed", telemetry.KV("collective", t), telemetry.KV("algorithm", algorithm), telemetry.KV("error", err))
}

func (e *Engine) metric(fn func(telemetry.MetricHook)) {
	if e.hooks.Metrics != nil {
		fn(e.hooks.Metrics)
	}
}

func (e *Engine) log(event string, fields ...telemetry.Field) {
	if e.hooks.Logger == nil && e.hooks.StructuredLogger == nil {
		return
	}
	e.hooks.Log("collective engine", event, fields...)
}

func opAttrs(t coll.Type, algorithm string) map[string]string {
	return map[string]string{
		telemetry.LabelCollective: t.String(),
		telemetry.LabelAlgorithm:  algorithm,
	}
}

// fallbackCounter counts selector fallbacks and forwards them to the
// engine's metric hook.
type fallbackCounter struct{ e *Engine }

func (f fallbackCounter) PlanFallback(attrs map[string]string) {
	f.e.stats.fallbacks.Add(1)
	f.e.metric(func(m telemetry.MetricHook) { m.PlanFallback(attrs) })
}

func (fallbackCounter) SendCompleted(map[string]string)        {}
func (fallbackCounter) SendFailed(error, map[string]string)    {}
func (fallbackCounter) ReceiveCompleted(map[string]string)     {}
func (fallbackCounter) ReceiveFailed(error, map[string]string) {}
func (fallbackCounter) OpStarted(map[string]string)            {}
func (fallbackCounter) OpCompleted(map[string]string)          {}
func (fallbackCounter) OpFailed(error, map[string]string)      {}
