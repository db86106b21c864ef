// Package gatherv implements the gatherv algorithms.
package gatherv

import (
	"encoding/binary"
	"slices"

	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/status"
)

// Algorithm ids.
const (
	IDLinear  = 1
	IDKnomial = 2
)

// Config tunes the gatherv algorithms.
type Config struct {
	KntreeDegree int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{KntreeDegree: 2}
}

// Algorithms lists the gatherv implementations tuned by cfg.
func Algorithms(cfg Config) []coll.Algorithm {
	return []coll.Algorithm{
		{Type: coll.Gatherv, ID: IDLinear, Name: "linear", Prepare: prepare(newLinear)},
		{Type: coll.Gatherv, ID: IDKnomial, Name: "knomial", Prepare: prepare(func(c *call) (coll.Op, error) {
			return newKnomial(c, cfg.KntreeDegree), nil
		})},
	}
}

type call struct {
	g     *coll.Group
	args  *coll.GathervArgs
	dtype dt.Datatype
	root  int
}

func (c *call) isRoot() bool { return c.g.Rank() == c.root }

// inPlace is true on a root whose own block already sits in RecvBuf.
func (c *call) inPlace() bool { return c.isRoot() && c.args.SendBuf == nil }

func prepare(build func(c *call) (coll.Op, error)) coll.PrepareFunc {
	return func(g *coll.Group, a coll.Args) (coll.Op, error) {
		args, err := coll.Expect[*coll.GathervArgs](a)
		if err != nil {
			return nil, err
		}
		if err := coll.CheckRoot(g, args.Root); err != nil {
			return nil, err
		}
		c := &call{g: g, args: args, dtype: args.Dtype, root: args.Root}
		if c.isRoot() {
			if err := coll.CheckVector("gatherv recv", args.RecvBuf, args.RecvCounts, args.Displs, g.Size(), args.Dtype); err != nil {
				return nil, err
			}
			if !c.inPlace() && args.SendCount != args.RecvCounts[g.Rank()] {
				return nil, status.Errorf(status.InvalidParam, "gatherv: root send count %d, receive count %d", args.SendCount, args.RecvCounts[g.Rank()])
			}
		}
		if !c.inPlace() {
			if err := coll.CheckBuffer("gatherv send", args.SendBuf, args.SendCount, args.Dtype); err != nil {
				return nil, err
			}
		}
		return build(c)
	}
}

// block is rank's block of the root's receive buffer.
func (c *call) block(rank int) []byte {
	return c.dtype.Slice(c.args.RecvBuf, c.args.Displs[rank], c.args.RecvCounts[rank])
}

// own is the caller's contribution.
func (c *call) own() []byte {
	if c.inPlace() {
		return c.block(c.root)
	}
	return c.dtype.Slice(c.args.SendBuf, 0, c.args.SendCount)
}

func (c *call) ownCount() int {
	if c.inPlace() {
		return c.args.RecvCounts[c.root]
	}
	return c.args.SendCount
}

func newLinear(c *call) (coll.Op, error) {
	if !c.isRoot() {
		return coll.NewRounds(c.g, "gatherv_linear", coll.Rounds(coll.Round{
			Sends: []coll.Transfer{{Peer: c.root, Buf: c.own()}},
		})), nil
	}
	var r coll.Round
	for peer := 0; peer < c.g.Size(); peer++ {
		if peer != c.root {
			r.Recvs = append(r.Recvs, coll.Transfer{Peer: peer, Buf: c.block(peer)})
		}
	}
	op := coll.NewRounds(c.g, "gatherv_linear", coll.Rounds(r))
	return op.Before(func() error {
		if c.inPlace() {
			return nil
		}
		return dt.Copy(c.block(c.root), c.dtype, c.args.RecvCounts[c.root], c.own(), c.dtype, c.ownCount())
	}), nil
}

func encodeCounts(counts []int) []byte {
	b := make([]byte, 4*len(counts))
	for i, n := range counts {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(int32(n)))
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

// newKnomial is the inverse of the k-nomial scatterv: every rank collects the
// counts and then the data of its children's subtrees, stages them after its
// own block in virtual rank order and passes the lot to its parent. The root
// unpacks into the receive buffer.
func newKnomial(c *call, degree int) coll.Op {
	n := c.g.Size()
	m := algo.Rotate(c.root, n)
	tree := algo.NewKnTree(m, degree, c.g.Rank())

	// children in ascending virtual rank, matching the staging order
	children := tree.VChildren()
	slices.Reverse(children)
	params := make([][]byte, len(children))
	for i, ch := range children {
		params[i] = make([]byte, 4*tree.SubtreeSize(ch))
	}
	var counts []int
	var staged []byte

	next := func(i int) (coll.Round, bool) {
		switch i {
		case 0:
			var r coll.Round
			for k, ch := range children {
				r.Recvs = append(r.Recvs, coll.Transfer{Peer: m.ToReal(ch), Buf: params[k]})
			}
			return r, true
		case 1:
			counts = append(counts[:0], c.ownCount())
			for _, p := range params {
				counts = append(counts, decodeCounts(p)...)
			}
			total := 0
			for _, n := range counts {
				total += n
			}
			staged = make([]byte, c.dtype.Bytes(total))
			copy(staged, c.own())
			var r coll.Round
			off := c.dtype.Bytes(c.ownCount())
			for k, ch := range children {
				size := 0
				for _, n := range decodeCounts(params[k]) {
					size += c.dtype.Bytes(n)
				}
				r.Recvs = append(r.Recvs, coll.Transfer{Peer: m.ToReal(ch), Buf: staged[off : off+size]})
				off += size
			}
			return r, true
		case 2:
			if tree.IsRoot() {
				return coll.Round{After: func() error { return c.unpack(m, counts, staged) }}, true
			}
			return coll.Round{Sends: []coll.Transfer{
				{Peer: tree.Parent(), Buf: encodeCounts(counts)},
				{Peer: tree.Parent(), Buf: staged},
			}}, true
		}
		return coll.Round{}, false
	}
	return coll.NewRounds(c.g, "gatherv_knomial", next)
}

// unpack scatters the staged blocks, in virtual rank order, to their
// displacements in the receive buffer.
func (c *call) unpack(m algo.RankMap, counts []int, staged []byte) error {
	if len(counts) != c.g.Size() {
		return status.Errorf(status.IOError, "gatherv: collected %d blocks for a group of %d", len(counts), c.g.Size())
	}
	off := 0
	for v, n := range counts {
		r := m.ToReal(v)
		if n != c.args.RecvCounts[r] {
			return status.Errorf(status.InvalidParam, "gatherv: rank %d sent %d elements, root expects %d", r, n, c.args.RecvCounts[r])
		}
		b := c.dtype.Bytes(n)
		if !(c.inPlace() && r == c.root) {
			copy(c.block(r), staged[off:off+b])
		}
		off += b
	}
	return nil
}
