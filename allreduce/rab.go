package allreduce

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/allgatherv"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// newRabenseifner reduce-scatters by recursive halving and allgathers by
// recursive doubling over the largest power of two ranks, folding the others
// in before and out after.
func newRabenseifner(c *call) (coll.Op, error) {
	if err := c.needCount("rabenseifner"); err != nil {
		return nil, err
	}
	if err := c.needCommutative("rabenseifner"); err != nil {
		return nil, err
	}
	rd := algo.NewRecursiveDoubling(c.g.Rank(), c.g.Size())
	counts, displs := layout(c.count, rd.Pow2)
	tmp := make([]byte, len(c.buf))
	span := func(b []byte, lo, hi int) []byte {
		if lo >= hi {
			return nil
		}
		return c.dtype.Slice(b, displs[lo], displs[hi-1]+counts[hi-1]-displs[lo])
	}
	elems := func(lo, hi int) int { return displs[hi-1] + counts[hi-1] - displs[lo] }

	var rounds []coll.Round
	switch rd.Role {
	case algo.Extra:
		rounds = append(rounds,
			coll.Round{Sends: []coll.Transfer{{Peer: rd.Partner(), Buf: c.buf}}},
			coll.Round{Recvs: []coll.Transfer{{Peer: rd.Partner(), Buf: c.buf}}},
		)
		return coll.NewRounds(c.g, "allreduce_rabenseifner", coll.Rounds(rounds...)).Before(c.copyIn), nil
	case algo.Proxy:
		rounds = append(rounds, coll.Round{
			Recvs: []coll.Transfer{{Peer: rd.Partner(), Buf: tmp}},
			After: func() error { return c.op.Reduce(c.buf, tmp, c.count, c.dtype) },
		})
	}

	// recursive halving: keep the half of the current range on our side of
	// the mask bit
	lo, hi := 0, rd.Pow2
	for mask := rd.Pow2 / 2; mask >= 1; mask /= 2 {
		mid := (lo + hi) / 2
		keepLo, keepHi, sendLo, sendHi := lo, mid, mid, hi
		if rd.NewRank&mask != 0 {
			keepLo, keepHi, sendLo, sendHi = mid, hi, lo, mid
		}
		peer := rd.Real(rd.NewRank ^ mask)
		keep, in := span(c.buf, keepLo, keepHi), span(tmp, keepLo, keepHi)
		n := elems(keepLo, keepHi)
		rounds = append(rounds, coll.Round{
			Recvs: []coll.Transfer{{Peer: peer, Buf: in}},
			Sends: []coll.Transfer{{Peer: peer, Buf: span(c.buf, sendLo, sendHi)}},
			After: func() error { return c.op.Reduce(keep, in, n, c.dtype) },
		})
		lo, hi = keepLo, keepHi
	}

	// recursive doubling allgather of the reduced blocks
	for mask := 1; mask < rd.Pow2; mask *= 2 {
		base := rd.NewRank &^ (mask - 1)
		peerBase := base ^ mask
		peer := rd.Real(rd.NewRank ^ mask)
		rounds = append(rounds, coll.Round{
			Recvs: []coll.Transfer{{Peer: peer, Buf: span(c.buf, peerBase, peerBase+mask)}},
			Sends: []coll.Transfer{{Peer: peer, Buf: span(c.buf, base, base+mask)}},
		})
	}

	if rd.Role == algo.Proxy {
		rounds = append(rounds, coll.Round{Sends: []coll.Transfer{{Peer: rd.Partner(), Buf: c.buf}}})
	}
	return coll.NewRounds(c.g, "allreduce_rabenseifner", coll.Rounds(rounds...)).Before(c.copyIn), nil
}

// newNARabenseifner reduce-scatters inside each node, allreduces each chunk
// across nodes and allgathers the chunks inside each node.
func newNARabenseifner(c *call) (coll.Op, error) {
	t := c.g.Topology()
	if err := c.needCount("node-aware rabenseifner"); err != nil {
		return nil, err
	}
	if err := c.needCommutative("node-aware rabenseifner"); err != nil {
		return nil, err
	}
	ppn := t.PPN()
	switch {
	case ppn < 0:
		return nil, status.Errorf(status.Unsupported, "node-aware rabenseifner needs a balanced topology")
	case ppn == 1:
		return nil, status.Errorf(status.Unsupported, "node-aware rabenseifner needs more than one rank per node")
	case c.count%ppn != 0:
		return nil, status.Errorf(status.Unsupported, "node-aware rabenseifner needs count divisible by %d ranks per node", ppn)
	}
	return chunked(c, "allreduce_na_rabenseifner", ppn, topo.Node, []topo.Kind{topo.NodeColumn}), nil
}

// newSARabenseifner is newNARabenseifner at socket granularity: chunks are
// reduced across the sockets of a node, then across nodes.
func newSARabenseifner(c *call) (coll.Op, error) {
	t := c.g.Topology()
	if err := c.needCount("socket-aware rabenseifner"); err != nil {
		return nil, err
	}
	if err := c.needCommutative("socket-aware rabenseifner"); err != nil {
		return nil, err
	}
	pps := t.PPS()
	switch {
	case pps < 0 || t.PPN() < 0:
		return nil, status.Errorf(status.Unsupported, "socket-aware rabenseifner needs a balanced topology")
	case c.count%pps != 0:
		return nil, status.Errorf(status.Unsupported, "socket-aware rabenseifner needs count divisible by %d ranks per socket", pps)
	}
	return chunked(c, "allreduce_sa_rabenseifner", pps, topo.Socket, []topo.Kind{topo.SocketColumn, topo.NodeColumn}), nil
}

// chunked splits the buffer into equal chunks, one per member of the local
// subgroup; reduce-scatters them locally, allreduces the owned chunk over
// each column subgroup in turn and allgathers the chunks locally.
func chunked(c *call, name string, parts int, local topo.Kind, columns []topo.Kind) coll.Op {
	counts, displs := layout(c.count, parts)
	chunk := func(sub *coll.Group) []byte {
		// the local rank index owns the chunk of the same index
		return c.dtype.Slice(c.buf, displs[sub.Rank()], counts[sub.Rank()])
	}
	loc, _ := c.g.Sub(local)
	mine := c.buf
	if loc != nil {
		mine = chunk(loc)
	}
	chunkCount := c.count / parts

	meta := coll.NewMeta(name, c.g)
	meta.Add(coll.Func(c.g, "allreduce_copy_in", c.copyIn))
	meta.AddOn(loc, func(sub *coll.Group) (coll.Op, error) {
		return NewReduceScatter(sub, c.buf, counts, displs, c.dtype, c.op), nil
	})
	for _, kind := range columns {
		col, _ := c.g.Sub(kind)
		meta.AddOn(col, func(sub *coll.Group) (coll.Op, error) {
			return NewRecursiveDoubling(sub, mine, chunkCount, c.dtype, c.op), nil
		})
	}
	meta.AddOn(loc, func(sub *coll.Group) (coll.Op, error) {
		return allgatherv.NewRing(sub, c.buf, counts, displs, c.dtype, algo.Rotate(0, sub.Size())), nil
	})
	return meta
}
