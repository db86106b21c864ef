package bcast

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
)

// newChain passes the buffer hop by hop around the ring starting at the root.
func newChain(c *call) (coll.Op, error) {
	m := algo.Rotate(c.root, c.g.Size())
	v := m.ToVirtual(c.g.Rank())
	n := c.g.Size()
	var r coll.Round
	if v > 0 {
		r.Recvs = []coll.Transfer{{Peer: m.ToReal(v - 1), Buf: c.buf}}
	}
	var fwd coll.Round
	if v+1 < n {
		fwd.Sends = []coll.Transfer{{Peer: m.ToReal(v + 1), Buf: c.buf}}
	}
	return coll.NewRounds(c.g, "bcast_ring", coll.Rounds(r, fwd)), nil
}

// newIncRing splits the ring into two chains, seeded by the root at its
// right neighbour and at the middle rank.
func newIncRing(c *call) (coll.Op, error) {
	n := c.g.Size()
	seeds := []int{1}
	if n >= 4 {
		seeds = append(seeds, n/2)
	}
	return seededRing(c, "bcast_inc_ring", 1, seeds), nil
}

// newInc2Ring runs chains with stride two, seeded at offsets 1 and 2, with a
// third chain starting at the middle rank for larger groups.
func newInc2Ring(c *call) (coll.Op, error) {
	n := c.g.Size()
	seeds := []int{1}
	if n >= 3 {
		seeds = append(seeds, 2)
	}
	if n >= 6 {
		seeds = append(seeds, n/2)
	}
	return seededRing(c, "bcast_inc_2ring", 2, seeds), nil
}

// seededRing works on offsets from the root. The root sends to every seed;
// every other rank receives from the seed root or from offset-stride, and
// forwards to offset+stride unless that rank is a seed.
func seededRing(c *call, name string, stride int, seeds []int) coll.Op {
	n := c.g.Size()
	m := algo.Rotate(c.root, n)
	o := m.ToVirtual(c.g.Rank())
	isSeed := func(x int) bool {
		for _, s := range seeds {
			if s == x {
				return true
			}
		}
		return false
	}

	var recv, send coll.Round
	switch {
	case n == 1:
	case o == 0:
		for _, s := range seeds {
			if s < n {
				send.Sends = append(send.Sends, coll.Transfer{Peer: m.ToReal(s), Buf: c.buf})
			}
		}
	default:
		from := o - stride
		if isSeed(o) {
			from = 0
		}
		recv.Recvs = []coll.Transfer{{Peer: m.ToReal(from), Buf: c.buf}}
		if next := o + stride; next < n && !isSeed(next) {
			send.Sends = []coll.Transfer{{Peer: m.ToReal(next), Buf: c.buf}}
		}
	}
	return coll.NewRounds(c.g, name, coll.Rounds(recv, send))
}
