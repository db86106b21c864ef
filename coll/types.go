// Package coll defines the building blocks every collective algorithm is made
// of: argument descriptors, groups, the op lifecycle and meta-ops that run
// several ops back to back.
package coll

import (
	"fmt"
	"strings"

	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/status"
)

// Type names a collective.
type Type int

const (
	Bcast Type = iota
	Allreduce
	Allgatherv
	Scatterv
	Gatherv
	Reduce
	Barrier
)

var typeNames = [...]string{
	Bcast:      "bcast",
	Allreduce:  "allreduce",
	Allgatherv: "allgatherv",
	Scatterv:   "scatterv",
	Gatherv:    "gatherv",
	Reduce:     "reduce",
	Barrier:    "barrier",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// Types lists every collective in declaration order.
func Types() []Type {
	return []Type{Bcast, Allreduce, Allgatherv, Scatterv, Gatherv, Reduce, Barrier}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(s, name) {
			return Type(i), nil
		}
	}
	return 0, status.Errorf(status.InvalidParam, "unknown collective %q", s)
}

// Args describes one collective call. Buffers are raw bytes laid out as
// contiguous elements of the call's datatype; counts and displacements are in
// elements.
type Args interface {
	Type() Type
	// MessageSize is the byte size used for algorithm selection. It must be
	// the same on every rank; scatterv and gatherv, whose per-rank counts
	// differ, report 0.
	MessageSize() int
}

// Rooted is implemented by the args of rooted collectives.
type Rooted interface {
	RootRank() int
}

// BcastArgs broadcasts Count elements of Buf from Root.
type BcastArgs struct {
	Buf   []byte
	Count int
	Dtype dt.Datatype
	Root  int
}

func (a *BcastArgs) Type() Type       { return Bcast }
func (a *BcastArgs) MessageSize() int { return a.Dtype.Bytes(a.Count) }
func (a *BcastArgs) RootRank() int    { return a.Root }

// AllreduceArgs reduces Count elements across the group into every RecvBuf.
// A nil SendBuf means the input is already in RecvBuf.
type AllreduceArgs struct {
	SendBuf []byte
	RecvBuf []byte
	Count   int
	Dtype   dt.Datatype
	Op      dt.Op
}

func (a *AllreduceArgs) Type() Type       { return Allreduce }
func (a *AllreduceArgs) MessageSize() int { return a.Dtype.Bytes(a.Count) }
func (a *AllreduceArgs) InPlace() bool    { return a.SendBuf == nil }

// AllgathervArgs gathers SendCount elements from every rank into RecvBuf at
// Displs[rank]. A nil SendBuf means the local block already sits in RecvBuf.
type AllgathervArgs struct {
	SendBuf    []byte
	SendCount  int
	RecvBuf    []byte
	RecvCounts []int
	Displs     []int
	Dtype      dt.Datatype
}

func (a *AllgathervArgs) Type() Type       { return Allgatherv }
func (a *AllgathervArgs) MessageSize() int { return a.Dtype.Bytes(sum(a.RecvCounts)) }
func (a *AllgathervArgs) InPlace() bool    { return a.SendBuf == nil }

// ScattervArgs distributes SendCounts[i] elements at Displs[i] of the root's
// SendBuf to rank i. A nil RecvBuf on the root leaves its block in place.
type ScattervArgs struct {
	SendBuf    []byte
	SendCounts []int
	Displs     []int
	RecvBuf    []byte
	RecvCount  int
	Dtype      dt.Datatype
	Root       int
}

func (a *ScattervArgs) Type() Type       { return Scatterv }
func (a *ScattervArgs) MessageSize() int { return 0 }
func (a *ScattervArgs) RootRank() int    { return a.Root }

// GathervArgs collects SendCount elements from every rank into the root's
// RecvBuf at Displs[rank]. A nil SendBuf on the root leaves its block in place.
type GathervArgs struct {
	SendBuf    []byte
	SendCount  int
	RecvBuf    []byte
	RecvCounts []int
	Displs     []int
	Dtype      dt.Datatype
	Root       int
}

func (a *GathervArgs) Type() Type       { return Gatherv }
func (a *GathervArgs) MessageSize() int { return 0 }
func (a *GathervArgs) RootRank() int    { return a.Root }

// ReduceArgs reduces Count elements into the root's RecvBuf. A nil SendBuf
// means the input is in RecvBuf; non-root ranks may then find RecvBuf
// overwritten with partial results.
type ReduceArgs struct {
	SendBuf []byte
	RecvBuf []byte
	Count   int
	Dtype   dt.Datatype
	Op      dt.Op
	Root    int
}

func (a *ReduceArgs) Type() Type       { return Reduce }
func (a *ReduceArgs) MessageSize() int { return a.Dtype.Bytes(a.Count) }
func (a *ReduceArgs) RootRank() int    { return a.Root }
func (a *ReduceArgs) InPlace() bool    { return a.SendBuf == nil }

// BarrierArgs carries nothing.
type BarrierArgs struct{}

func (a *BarrierArgs) Type() Type       { return Barrier }
func (a *BarrierArgs) MessageSize() int { return 0 }

// Expect asserts args to the concrete type an algorithm handles.
func Expect[T Args](args Args) (T, error) {
	a, ok := args.(T)
	if !ok {
		var zero T
		return zero, status.Errorf(status.InvalidParam, "unexpected args %T", args)
	}
	return a, nil
}

// CheckRoot validates a root rank against a group.
func CheckRoot(g *Group, root int) error {
	if root < 0 || root >= g.Size() {
		return status.Errorf(status.InvalidParam, "root %d outside group of %d", root, g.Size())
	}
	return nil
}

// CheckBuffer validates that buf holds count elements of d.
func CheckBuffer(name string, buf []byte, count int, d dt.Datatype) error {
	if count < 0 {
		return status.Errorf(status.InvalidParam, "%s: negative count %d", name, count)
	}
	if err := d.Validate(buf, count); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// CheckVector validates per-rank counts and displacements against buf.
func CheckVector(name string, buf []byte, counts, displs []int, size int, d dt.Datatype) error {
	if len(counts) != size || len(displs) != size {
		return status.Errorf(status.InvalidParam, "%s: want %d counts and displacements, got %d and %d", name, size, len(counts), len(displs))
	}
	for i := range counts {
		if counts[i] < 0 || displs[i] < 0 {
			return status.Errorf(status.InvalidParam, "%s: negative count or displacement for rank %d", name, i)
		}
		if d.Bytes(displs[i]+counts[i]) > len(buf) {
			return status.Errorf(status.InvalidParam, "%s: block %d ends past the buffer", name, i)
		}
	}
	return nil
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
