package allgatherv

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
)

// newNeighbor pairs every rank alternately with its two neighbours, moving two
// blocks per round after the first. Only even group sizes are supported.
func newNeighbor(c *call) (coll.Op, error) {
	n, me := c.g.Size(), c.g.Rank()
	if n%2 != 0 {
		return nil, status.Errorf(status.Unsupported, "allgatherv neighbor exchange needs an even group, got %d", n)
	}
	var nb, rdf, off [2]int
	if me%2 == 0 {
		nb = [2]int{mod(me+1, n), mod(me-1, n)}
		rdf = [2]int{me, me}
		off = [2]int{2, -2}
	} else {
		nb = [2]int{mod(me-1, n), mod(me+1, n)}
		rdf = [2]int{nb[0], nb[0]}
		off = [2]int{-2, 2}
	}
	var sdf int
	var from [2]int
	return c.rounds("allgatherv_neighbor", func(i int) (coll.Round, bool) {
		if i == 0 {
			from, sdf = rdf, rdf[0]
			return coll.Round{
				Recvs: []coll.Transfer{{Peer: nb[0], Buf: c.block(nb[0])}},
				Sends: []coll.Transfer{{Peer: nb[0], Buf: c.block(me)}},
			}, true
		}
		if i >= n/2 {
			return coll.Round{}, false
		}
		p := i % 2
		from[p] = mod(from[p]+off[p], n)
		r := coll.Round{
			Recvs: c.blocks(nb[p], from[p], 2),
			Sends: c.blocks(nb[p], sdf, 2),
		}
		sdf = from[p]
		return r, true
	}), nil
}

// newRingHPL circulates blocks in both directions at once, halving the number
// of rounds of the plain ring.
func newRingHPL(c *call) (coll.Op, error) {
	n, me := c.g.Size(), c.g.Rank()
	left, right := mod(me-1, n), mod(me+1, n)
	last := n / 2 // rounds 1..last
	return c.rounds("allgatherv_ring_hpl", func(i int) (coll.Round, bool) {
		s := i + 1
		if n < 2 || s > last {
			return coll.Round{}, false
		}
		r := coll.Round{
			Recvs: []coll.Transfer{{Peer: left, Buf: c.block(mod(me-s, n))}},
			Sends: []coll.Transfer{{Peer: right, Buf: c.block(mod(me-s+1, n))}},
		}
		if n%2 == 0 && s == n/2 {
			return r, true
		}
		r.Recvs = append(r.Recvs, coll.Transfer{Peer: right, Buf: c.block(mod(me+s, n))})
		r.Sends = append(r.Sends, coll.Transfer{Peer: left, Buf: c.block(mod(me+s-1, n))})
		return r, true
	}), nil
}

// newBruck doubles the number of held blocks each round, placing received
// blocks directly at their final displacement.
func newBruck(c *call) (coll.Op, error) {
	n, me := c.g.Size(), c.g.Rank()
	steps := algo.BruckSteps(me, n)
	return c.rounds("allgatherv_bruck", func(i int) (coll.Round, bool) {
		if i >= len(steps) {
			return coll.Round{}, false
		}
		st := steps[i]
		return coll.Round{
			Recvs: c.blocks(st.RecvFrom, st.RecvFrom, st.Blocks),
			Sends: c.blocks(st.SendTo, me, st.Blocks),
		}, true
	}), nil
}
