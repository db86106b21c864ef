package coll

import (
	"context"
	"runtime"

	"github.com/rocketbitz/collective/p2p"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/telemetry"
)

// Op is a prepared collective. The life cycle is Trigger once, Progress until
// the result is no longer status.InProgress, then either Trigger again to
// rerun with the same arguments or Discard.
//
// Trigger, Progress and Status return nil on success, an error wrapping
// status.InProgress while transfers are outstanding, and any other error on
// failure.
type Op interface {
	Name() string
	Trigger() error
	Progress() error
	Status() error
	Discard() error
}

var errNotTriggered = status.Errorf(status.InvalidParam, "op not triggered")

// Base carries the state shared by leaf ops: the group, the sequence number
// drawn at trigger and the in-flight transfer accounting.
type Base struct {
	G   *Group
	Seq uint32
	St  p2p.State

	name      string
	result    error
	triggered bool
	discarded bool
}

// NewBase returns the base of a leaf op named name on g.
func NewBase(name string, g *Group) Base {
	return Base{G: g, name: name}
}

func (b *Base) Name() string { return b.name }

// Reset starts a new run: it draws a sequence number and marks the op in
// progress. It fails if the previous run has not finished.
func (b *Base) Reset() error {
	if b.discarded {
		return status.Errorf(status.InvalidParam, "%s: trigger after discard", b.name)
	}
	if b.triggered && status.IsInProgress(b.result) {
		return status.Errorf(status.InvalidParam, "%s: trigger while in progress", b.name)
	}
	b.St.Reset()
	b.Seq = b.G.NextRequestID()
	b.result = status.InProgress
	b.triggered = true
	if h := b.G.ep.Hooks(); h.Logger != nil || h.StructuredLogger != nil {
		h.Log("collective op", "trigger", telemetry.KV("op", b.name), telemetry.KV("seq", b.Seq), telemetry.KV("rank", b.G.rank))
	}
	return nil
}

func (b *Base) tag(sender int) uint64 {
	return p2p.MakeTag(b.Seq, b.G.ContextRank(sender), b.G.id)
}

// Isend posts buf to group rank peer under the op's sequence number.
func (b *Base) Isend(buf []byte, peer int) error {
	return b.G.ep.Isend(buf, b.G.ContextRank(peer), b.tag(b.G.rank), &b.St)
}

// Irecv posts buf for a message from group rank peer.
func (b *Base) Irecv(buf []byte, peer int) error {
	return b.G.ep.Irecv(buf, b.G.ContextRank(peer), b.tag(peer), &b.St)
}

// Wait polls the transport and reports whether every posted transfer has
// finished: nil when they all succeeded, InProgress while some are pending.
func (b *Base) Wait() error {
	return b.G.ep.TestAll(&b.St, b.G.polls)
}

// Advance runs step unless the op already finished and records a terminal
// result. A finished op returns its result without touching the network.
func (b *Base) Advance(step func() error) error {
	if !b.triggered {
		return errNotTriggered
	}
	if !status.IsInProgress(b.result) {
		return b.result
	}
	err := step()
	if status.IsInProgress(err) {
		return err
	}
	b.result = err
	return err
}

// Fail ends the run with err.
func (b *Base) Fail(err error) error {
	b.result = err
	return err
}

func (b *Base) Status() error {
	if !b.triggered {
		return errNotTriggered
	}
	return b.result
}

// Discard releases the op. Transfers cannot be cancelled, so an op with
// posted transfers still pending cannot be discarded.
func (b *Base) Discard() error {
	if b.St.Pending() > 0 {
		return status.Errorf(status.InvalidParam, "%s: discard with %d transfers in flight", b.name, b.St.Pending())
	}
	b.discarded = true
	return nil
}

// Drive triggers op and progresses it until it finishes or ctx is done.
func Drive(ctx context.Context, op Op) error {
	err := op.Trigger()
	for status.IsInProgress(err) {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		runtime.Gosched()
		err = op.Progress()
	}
	return err
}

// EmptyOp completes at trigger. It still draws a sequence number so that ranks
// with nothing to do in a stage stay aligned with ranks that do.
type EmptyOp struct {
	Base
}

// Empty returns a no-op on g.
func Empty(g *Group) *EmptyOp {
	return &EmptyOp{Base: NewBase("empty", g)}
}

func (o *EmptyOp) Trigger() error {
	if err := o.Reset(); err != nil {
		return err
	}
	return o.Advance(func() error { return nil })
}

func (o *EmptyOp) Progress() error { return o.Status() }

// FuncOp runs a local function at trigger, for copies between stages.
type FuncOp struct {
	Base
	fn func() error
}

// Func wraps fn as an op on g.
func Func(g *Group, name string, fn func() error) *FuncOp {
	return &FuncOp{Base: NewBase(name, g), fn: fn}
}

func (o *FuncOp) Trigger() error {
	if err := o.Reset(); err != nil {
		return err
	}
	return o.Advance(o.fn)
}

func (o *FuncOp) Progress() error { return o.Status() }
