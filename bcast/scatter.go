package bcast

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/allgatherv"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
)

// layout splits count elements into n blocks in virtual rank order; the first
// count%n blocks hold one extra element.
func layout(count, n int) (counts, displs []int) {
	counts = make([]int, n)
	displs = make([]int, n)
	base, rem := count/n, count%n
	off := 0
	for v := range counts {
		counts[v] = base
		if v < rem {
			counts[v]++
		}
		displs[v] = off
		off += counts[v]
	}
	return counts, displs
}

// blockScatter distributes the blocks of a binomial tree's subtrees: every
// rank receives the contiguous range of its subtree from its parent and
// forwards the ranges of its children's subtrees.
func blockScatter(g *coll.Group, c *call, m algo.RankMap, counts, displs []int, batch bool) coll.Op {
	tree := algo.NewKnTree(m, 2, g.Rank())
	span := func(v int) []byte {
		last := v + tree.SubtreeSize(v) - 1
		return c.args.Dtype.Slice(c.buf, displs[v], displs[last]+counts[last]-displs[v])
	}
	var rounds []coll.Round
	if !tree.IsRoot() {
		rounds = append(rounds, coll.Round{Recvs: []coll.Transfer{{Peer: tree.Parent(), Buf: span(tree.VRank())}}})
	}
	var sends []coll.Transfer
	for _, v := range tree.VChildren() {
		sends = append(sends, coll.Transfer{Peer: m.ToReal(v), Buf: span(v)})
	}
	if batch {
		rounds = append(rounds, coll.Round{Sends: sends})
	} else {
		for _, s := range sends {
			rounds = append(rounds, coll.Round{Sends: []coll.Transfer{s}})
		}
	}
	return coll.NewRounds(g, "bcast_scatter", coll.Rounds(rounds...))
}

// newVanDeGeijn scatters the buffer down a binomial tree and reassembles it
// with a ring allgather.
func newVanDeGeijn(c *call, batch coll.BatchConfig) (coll.Op, error) {
	n := c.g.Size()
	if c.args.Count < n {
		return nil, status.Errorf(status.Unsupported, "van de Geijn bcast needs count >= %d, got %d", n, c.args.Count)
	}
	m := algo.Rotate(c.root, n)
	counts, displs := layout(c.args.Count, n)
	meta := coll.NewMeta("bcast_van_de_geijn", c.g)
	meta.Add(blockScatter(c.g, c, m, counts, displs, batch.UseBatch(c.g, len(c.buf))))
	meta.Add(allgatherv.NewRing(c.g, c.buf, counts, displs, c.args.Dtype, m))
	return meta, nil
}

// newLong scatters like van de Geijn and completes with a pairwise exchange of
// blocks.
func newLong(c *call) (coll.Op, error) {
	n := c.g.Size()
	if c.args.Count < n {
		return nil, status.Errorf(status.Unsupported, "long bcast needs count >= %d, got %d", n, c.args.Count)
	}
	m := algo.Rotate(c.root, n)
	counts, displs := layout(c.args.Count, n)
	meta := coll.NewMeta("bcast_long", c.g)
	meta.Add(blockScatter(c.g, c, m, counts, displs, true))
	meta.Add(pairwise(c.g, c, m, counts, displs))
	return meta, nil
}

// newLongModified hands the whole buffer to the root's right neighbour first,
// then runs the long algorithm among the remaining ranks.
func newLongModified(c *call) (coll.Op, error) {
	n := c.g.Size()
	if n == 1 {
		return coll.Empty(c.g), nil
	}
	if c.args.Count < n-1 {
		return nil, status.Errorf(status.Unsupported, "modified long bcast needs count >= %d, got %d", n-1, c.args.Count)
	}
	m := algo.SkipNeighbor{Root: c.root, N: n}
	counts, displs := layout(c.args.Count, n-1)
	me := c.g.Rank()
	meta := coll.NewMeta("bcast_long_modified", c.g)
	switch me {
	case c.root:
		meta.Add(coll.SendRecv(c.g, "bcast_neighbor", c.buf, m.Neighbor(), nil, -1))
	case m.Neighbor():
		meta.Add(coll.SendRecv(c.g, "bcast_neighbor", nil, -1, c.buf, c.root))
	default:
		meta.AddEmpty()
	}
	if me == m.Neighbor() {
		meta.AddEmpty().AddEmpty()
		return meta, nil
	}
	meta.Add(blockScatter(c.g, c, m, counts, displs, true))
	meta.Add(pairwise(c.g, c, m, counts, displs))
	return meta, nil
}

// pairwise exchanges blocks so that every pair of virtual ranks meets exactly
// once. With an even count of ranks the last rank takes the place each other
// rank would otherwise pair with itself.
func pairwise(g *coll.Group, c *call, m algo.RankMap, counts, displs []int) coll.Op {
	n := m.Size()
	v := m.ToVirtual(g.Rank())
	block := func(b int) []byte { return c.args.Dtype.Slice(c.buf, displs[b], counts[b]) }
	rounds, peerAt := n, func(r int) int { return ((r-v)%n + n) % n }
	if n%2 == 0 {
		k := n - 1
		rounds = k
		peerAt = func(r int) int {
			if v == k {
				return (r * (n / 2)) % k
			}
			p := ((r-v)%k + k) % k
			if p == v {
				return k
			}
			return p
		}
	}
	return coll.NewRounds(g, "bcast_pairwise", func(r int) (coll.Round, bool) {
		if r >= rounds {
			return coll.Round{}, false
		}
		p := peerAt(r)
		if p == v {
			return coll.Round{}, true
		}
		return coll.Round{
			Recvs: []coll.Transfer{{Peer: m.ToReal(p), Buf: block(p)}},
			Sends: []coll.Transfer{{Peer: m.ToReal(p), Buf: block(v)}},
		}, true
	})
}
