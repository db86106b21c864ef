// Package reduce implements rooted reductions.
package reduce

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/status"
)

// IDKnomial is the k-nomial tree reduction.
const IDKnomial = 1

// Config tunes the reductions.
type Config struct {
	KntreeDegree int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{KntreeDegree: 2}
}

// Algorithms lists the reduce implementations tuned by cfg.
func Algorithms(cfg Config) []coll.Algorithm {
	return []coll.Algorithm{
		{Type: coll.Reduce, ID: IDKnomial, Name: "knomial", Prepare: func(g *coll.Group, a coll.Args) (coll.Op, error) {
			return prepareKnomial(g, a, cfg.KntreeDegree)
		}},
	}
}

func prepareKnomial(g *coll.Group, a coll.Args, degree int) (coll.Op, error) {
	args, err := coll.Expect[*coll.ReduceArgs](a)
	if err != nil {
		return nil, err
	}
	if err := coll.CheckRoot(g, args.Root); err != nil {
		return nil, err
	}
	if args.Op == nil {
		return nil, status.Errorf(status.InvalidParam, "reduce: nil operator")
	}
	if !args.Op.Commutative() {
		return nil, status.Errorf(status.Unsupported, "k-nomial reduce needs a commutative operator, %s is not", args.Op.Name())
	}
	isRoot := g.Rank() == args.Root
	if isRoot || args.InPlace() {
		if err := coll.CheckBuffer("reduce recv", args.RecvBuf, args.Count, args.Dtype); err != nil {
			return nil, err
		}
	}
	if !args.InPlace() {
		if err := coll.CheckBuffer("reduce send", args.SendBuf, args.Count, args.Dtype); err != nil {
			return nil, err
		}
	}

	var work []byte
	switch {
	case isRoot || args.InPlace():
		work = args.Dtype.Slice(args.RecvBuf, 0, args.Count)
	default:
		work = make([]byte, args.Dtype.Bytes(args.Count))
	}
	op := newKnomial(g, work, args.Count, args.Dtype, args.Op, args.Root, degree)
	if !args.InPlace() {
		op.before = func() error {
			return dt.Copy(work, args.Dtype, args.Count, args.SendBuf, args.Dtype, args.Count)
		}
	}
	return op, nil
}

type knPhase int

const (
	knRecv knPhase = iota
	knWaitRecv
	knSend
	knWaitSend
)

// knomial combines the contributions of a k-nomial subtree into buf and
// forwards the partial result to the parent. The root ends with the result.
type knomial struct {
	coll.Base
	buf     []byte
	count   int
	dtype   dt.Datatype
	op      dt.Op
	tree    *algo.KnTree
	scratch [][]byte
	before  func() error
	phase   knPhase
}

// NewKnomial returns a k-nomial tree reduction of count elements of buf
// towards root. buf is used as the accumulator on every rank.
func NewKnomial(g *coll.Group, buf []byte, count int, dtype dt.Datatype, op dt.Op, root, degree int) coll.Op {
	return newKnomial(g, buf, count, dtype, op, root, degree)
}

func newKnomial(g *coll.Group, buf []byte, count int, dtype dt.Datatype, op dt.Op, root, degree int) *knomial {
	tree := algo.NewKnTree(algo.Rotate(root, g.Size()), degree, g.Rank())
	children := tree.Children()
	scratch := make([][]byte, len(children))
	for i := range scratch {
		scratch[i] = make([]byte, dtype.Bytes(count))
	}
	return &knomial{
		Base:    coll.NewBase("reduce_knomial", g),
		buf:     buf,
		count:   count,
		dtype:   dtype,
		op:      op,
		tree:    tree,
		scratch: scratch,
	}
}

func (r *knomial) Trigger() error {
	if err := r.Reset(); err != nil {
		return err
	}
	r.phase = knRecv
	if r.before != nil {
		if err := r.before(); err != nil {
			return r.Fail(err)
		}
	}
	return r.Progress()
}

func (r *knomial) Progress() error {
	return r.Advance(r.step)
}

func (r *knomial) step() error {
	for {
		switch r.phase {
		case knRecv:
			for i, child := range r.tree.Children() {
				if err := r.Irecv(r.scratch[i], child); err != nil {
					return err
				}
			}
			r.phase = knWaitRecv
		case knWaitRecv:
			if err := r.Wait(); err != nil {
				return err
			}
			for _, part := range r.scratch {
				if err := r.op.Reduce(r.buf, part, r.count, r.dtype); err != nil {
					return err
				}
			}
			r.phase = knSend
		case knSend:
			if !r.tree.IsRoot() {
				if err := r.Isend(r.buf, r.tree.Parent()); err != nil {
					return err
				}
			}
			r.phase = knWaitSend
		case knWaitSend:
			return r.Wait()
		}
	}
}
