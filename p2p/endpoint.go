// Package p2p is the point-to-point layer under the collective algorithms:
// tag packing, in-flight accounting, an Endpoint over a pluggable Transport
// and an in-process loopback Fabric.
package p2p

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/telemetry"
)

// ErrClosed indicates the endpoint has already been closed.
var ErrClosed = errors.New("collective p2p: endpoint closed")

// Config controls NewEndpoint.
type Config struct {
	// Name labels logs and metrics; defaults to "rank-<n>".
	Name             string
	Logger           telemetry.Logger
	StructuredLogger telemetry.StructuredLogger
	Tracer           telemetry.Tracer
	Metrics          telemetry.MetricHook
}

// Stats contains counters for endpoint operations.
type Stats struct {
	SendPosted     uint64
	SendCompleted  uint64
	SendErrored    uint64
	ReceivePosted  uint64
	ReceiveMatched uint64
	ReceiveErrored uint64
	Polls          uint64
}

type endpointStats struct {
	sendPosted    atomic.Uint64
	sendCompleted atomic.Uint64
	sendErrored   atomic.Uint64
	recvPosted    atomic.Uint64
	recvMatched   atomic.Uint64
	recvErrored   atomic.Uint64
	polls         atomic.Uint64
}

// Endpoint posts non-blocking transfers on a Transport and accounts for them
// in a caller-owned State. It is driven by a single goroutine.
type Endpoint struct {
	tr     Transport
	name   string
	hooks  telemetry.Hooks
	base   map[string]string
	stats  endpointStats
	closed atomic.Bool
}

// NewEndpoint wraps tr.
func NewEndpoint(tr Transport, cfg Config) *Endpoint {
	name := cfg.Name
	if name == "" {
		name = "rank-" + strconv.Itoa(tr.Rank())
	}
	hooks := telemetry.Hooks{
		Logger:           cfg.Logger,
		StructuredLogger: cfg.StructuredLogger,
		Tracer:           cfg.Tracer,
		Metrics:          cfg.Metrics,
	}.Normalize()
	return &Endpoint{
		tr:    tr,
		name:  name,
		hooks: hooks,
		base:  map[string]string{telemetry.LabelEndpoint: name},
	}
}

// Rank is the context rank of this endpoint.
func (e *Endpoint) Rank() int { return e.tr.Rank() }

// Size is the number of context ranks reachable.
func (e *Endpoint) Size() int { return e.tr.Size() }

// Name is the label used in logs and metrics.
func (e *Endpoint) Name() string { return e.name }

// Hooks exposes the endpoint's observers so ops can log through them.
func (e *Endpoint) Hooks() *telemetry.Hooks { return &e.hooks }

// Close rejects later posts. In-flight transfers still complete.
func (e *Endpoint) Close() error {
	e.closed.Store(true)
	return nil
}

// Isend posts buf to dest. Zero-length sends are not posted.
func (e *Endpoint) Isend(buf []byte, dest int, tag uint64, st *State) error {
	if len(buf) == 0 {
		return nil
	}
	if e.closed.Load() {
		return ErrClosed
	}
	req := &SendRequest{Buffer: buf, Dest: dest, Tag: tag}
	req.OnComplete = func(err error) {
		st.inflightSend--
		if err != nil {
			terr := &TransferError{Kind: OperationSend, Peer: dest, Tag: tag, Err: err}
			st.fail(terr)
			e.stats.sendErrored.Add(1)
			e.log("error", telemetry.KV("op", "send"), telemetry.KV("peer", dest), telemetry.KV("error", err))
			e.metricFailed(OperationSend, terr)
			return
		}
		e.stats.sendCompleted.Add(1)
		e.metricCompleted(OperationSend)
	}
	if err := e.tr.PostTaggedSend(req); err != nil {
		return fmt.Errorf("%w: post send to %d: %v", status.NoResource, dest, err)
	}
	st.inflightSend++
	e.stats.sendPosted.Add(1)
	e.log("isend", telemetry.KV("peer", dest), telemetry.KV("bytes", len(buf)), telemetry.KV("tag", tagField(tag)))
	return nil
}

// Irecv posts buf for a message from src carrying exactly tag. Zero-length
// receives are not posted.
func (e *Endpoint) Irecv(buf []byte, src int, tag uint64, st *State) error {
	return e.irecv(buf, src, tag, 0, st)
}

// IrecvAny posts a receive matching any sequence from src within tag's group.
func (e *Endpoint) IrecvAny(buf []byte, src int, tag uint64, st *State) error {
	return e.irecv(buf, src, tag, SenderMask, st)
}

func (e *Endpoint) irecv(buf []byte, src int, tag, ignore uint64, st *State) error {
	if len(buf) == 0 {
		return nil
	}
	if e.closed.Load() {
		return ErrClosed
	}
	req := &RecvRequest{Buffer: buf, Source: src, Tag: tag, Ignore: ignore}
	req.OnComplete = func(n int, err error) {
		st.inflightRecv--
		if err != nil {
			terr := &TransferError{Kind: OperationReceive, Peer: src, Tag: tag, Err: err}
			st.fail(terr)
			e.stats.recvErrored.Add(1)
			e.log("error", telemetry.KV("op", "receive"), telemetry.KV("peer", src), telemetry.KV("error", err))
			e.metricFailed(OperationReceive, terr)
			return
		}
		e.stats.recvMatched.Add(1)
		e.log("completion", telemetry.KV("op", "receive"), telemetry.KV("peer", src), telemetry.KV("bytes", n))
		e.metricCompleted(OperationReceive)
	}
	if err := e.tr.PostTaggedRecv(req); err != nil {
		return fmt.Errorf("%w: post receive from %d: %v", status.NoResource, src, err)
	}
	st.inflightRecv++
	e.stats.recvPosted.Add(1)
	e.log("irecv", telemetry.KV("peer", src), telemetry.KV("bytes", len(buf)), telemetry.KV("tag", tagField(tag)))
	return nil
}

// Progress drives the transport once.
func (e *Endpoint) Progress() int {
	e.stats.polls.Add(1)
	return e.tr.Progress()
}

// Test drives the transport once and reports st: nil when every transfer
// completed, the first error once all transfers finished, status.InProgress
// otherwise.
func (e *Endpoint) Test(st *State) error {
	if st.Pending() == 0 {
		return st.err
	}
	e.Progress()
	return st.result()
}

// TestAll polls up to polls times (at least once) until st drains.
func (e *Endpoint) TestAll(st *State, polls int) error {
	if polls < 1 {
		polls = 1
	}
	var err error
	for i := 0; i < polls; i++ {
		err = e.Test(st)
		if !status.IsInProgress(err) {
			return err
		}
	}
	return err
}

// Stats returns a snapshot of endpoint counters.
func (e *Endpoint) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return Stats{
		SendPosted:     e.stats.sendPosted.Load(),
		SendCompleted:  e.stats.sendCompleted.Load(),
		SendErrored:    e.stats.sendErrored.Load(),
		ReceivePosted:  e.stats.recvPosted.Load(),
		ReceiveMatched: e.stats.recvMatched.Load(),
		ReceiveErrored: e.stats.recvErrored.Load(),
		Polls:          e.stats.polls.Load(),
	}
}

func (e *Endpoint) log(event string, fields ...telemetry.Field) {
	if e.hooks.Logger == nil && e.hooks.StructuredLogger == nil {
		return
	}
	e.hooks.Log("collective p2p", event, append(fields, telemetry.KV("endpoint", e.name))...)
}

func (e *Endpoint) metricCompleted(kind OperationKind) {
	if e.hooks.Metrics == nil {
		return
	}
	attrs := telemetry.Attrs(e.base, telemetry.KV(telemetry.LabelOperation, kind))
	if kind == OperationSend {
		e.hooks.Metrics.SendCompleted(attrs)
		return
	}
	e.hooks.Metrics.ReceiveCompleted(attrs)
}

func (e *Endpoint) metricFailed(kind OperationKind, err error) {
	if e.hooks.Metrics == nil {
		return
	}
	attrs := telemetry.Attrs(e.base, telemetry.KV(telemetry.LabelOperation, kind))
	if kind == OperationSend {
		e.hooks.Metrics.SendFailed(err, attrs)
		return
	}
	e.hooks.Metrics.ReceiveFailed(err, attrs)
}

func tagField(tag uint64) string {
	return "0x" + strconv.FormatUint(tag, 16)
}
