package bcast

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
)

type knPhase int

const (
	knRecv knPhase = iota
	knWaitRecv
	knSend
	knWaitSend
)

// knomial forwards buf down a k-nomial tree: receive from the parent, then
// send to every child.
type knomial struct {
	coll.Base
	buf   []byte
	tree  *algo.KnTree
	phase knPhase
}

// NewKnomial returns a k-nomial tree broadcast of buf from root over g.
func NewKnomial(g *coll.Group, buf []byte, root, degree int) coll.Op {
	return &knomial{
		Base: coll.NewBase("bcast_knomial", g),
		buf:  buf,
		tree: algo.NewKnTree(algo.Rotate(root, g.Size()), degree, g.Rank()),
	}
}

func (op *knomial) Trigger() error {
	if err := op.Reset(); err != nil {
		return err
	}
	op.phase = knRecv
	return op.Progress()
}

func (op *knomial) Progress() error {
	return op.Advance(op.step)
}

func (op *knomial) step() error {
	for {
		switch op.phase {
		case knRecv:
			if !op.tree.IsRoot() {
				if err := op.Irecv(op.buf, op.tree.Parent()); err != nil {
					return err
				}
			}
			op.phase = knWaitRecv
		case knWaitRecv:
			if err := op.Wait(); err != nil {
				return err
			}
			op.phase = knSend
		case knSend:
			for _, child := range op.tree.Children() {
				if err := op.Isend(op.buf, child); err != nil {
					return err
				}
			}
			op.phase = knWaitSend
		case knWaitSend:
			return op.Wait()
		}
	}
}
