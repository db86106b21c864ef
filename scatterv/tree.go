package scatterv

import (
	"encoding/binary"

	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/status"
)

// payload is a run of consecutive leaves: their element counts and their data
// packed back to back.
type payload struct {
	counts []int
	data   []byte
}

func (p payload) offset(dtype dt.Datatype, leaf int) int {
	off := 0
	for _, c := range p.counts[:leaf] {
		off += c
	}
	return dtype.Bytes(off)
}

// slice returns the leaves [lo, hi).
func (p payload) slice(dtype dt.Datatype, lo, hi int) payload {
	return payload{counts: p.counts[lo:hi], data: p.data[p.offset(dtype, lo):p.offset(dtype, hi)]}
}

func encodeCounts(counts []int) []byte {
	b := make([]byte, 4*len(counts))
	for i, c := range counts {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(int32(c)))
	}
	return b
}

func decodeCounts(b []byte) []int {
	out := make([]int, len(b)/4)
	for i := range out {
		out[i] = int(int32(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return out
}

// treeSpec describes a k-nomial scatter over g in which group rank u stands
// for leaves(u) consecutive leaves.
type treeSpec struct {
	g      *coll.Group
	m      algo.RankMap
	degree int
	dtype  dt.Datatype
	leaves func(unit int) int
	// pack runs on the root at trigger and returns all leaves in virtual
	// rank order of their units.
	pack func() (payload, error)
	// deliver receives the caller's own leaves once they arrived.
	deliver func(payload) error
}

// newTreeScatter returns a leaf op that sends every subtree its leaves: first
// the element counts of the leaves, then their data under the same tag.
func newTreeScatter(name string, spec treeSpec) coll.Op {
	tree := algo.NewKnTree(spec.m, spec.degree, spec.g.Rank())
	me := tree.VRank()
	size := tree.SubtreeSize(me)

	// leafAt[i] is the first leaf of the i-th unit of the caller's subtree
	leafAt := make([]int, size+1)
	for i := 0; i < size; i++ {
		leafAt[i+1] = leafAt[i] + spec.leaves(spec.m.ToReal(me+i))
	}
	params := make([]byte, 4*leafAt[size])
	var held payload

	children := tree.VChildren()
	sendRound := func() coll.Round {
		r := coll.Round{After: func() error {
			return spec.deliver(held.slice(spec.dtype, 0, leafAt[1]))
		}}
		for _, c := range children {
			sub := held.slice(spec.dtype, leafAt[c-me], leafAt[c-me+tree.SubtreeSize(c)])
			peer := spec.m.ToReal(c)
			r.Sends = append(r.Sends,
				coll.Transfer{Peer: peer, Buf: encodeCounts(sub.counts)},
				coll.Transfer{Peer: peer, Buf: sub.data},
			)
		}
		return r
	}

	op := coll.NewRounds(spec.g, name, func(i int) (coll.Round, bool) {
		if tree.IsRoot() {
			if i == 0 {
				return sendRound(), true
			}
			return coll.Round{}, false
		}
		switch i {
		case 0:
			return coll.Round{Recvs: []coll.Transfer{{Peer: tree.Parent(), Buf: params}}}, true
		case 1:
			held.counts = decodeCounts(params)
			total := 0
			for _, c := range held.counts {
				total += c
			}
			held.data = make([]byte, spec.dtype.Bytes(total))
			return coll.Round{Recvs: []coll.Transfer{{Peer: tree.Parent(), Buf: held.data}}}, true
		case 2:
			return sendRound(), true
		}
		return coll.Round{}, false
	})
	if tree.IsRoot() {
		op.Before(func() error {
			p, err := spec.pack()
			if err != nil {
				return err
			}
			if len(p.counts) != leafAt[size] {
				return status.Errorf(status.InvalidParam, "scatter of %d leaves over a tree of %d", len(p.counts), leafAt[size])
			}
			held = p
			return nil
		})
	}
	return op
}
