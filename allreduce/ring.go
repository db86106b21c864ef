package allreduce

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/allgatherv"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
)

// newRing reduce-scatters the buffer around the ring so that rank i owns the
// reduced block i, then circulates the reduced blocks.
func newRing(c *call) (coll.Op, error) {
	if err := c.needCommutative("ring"); err != nil {
		return nil, err
	}
	n := c.g.Size()
	counts, displs := layout(c.count, n)
	meta := coll.NewMeta("allreduce_ring", c.g)
	meta.Add(reduceScatter(c.g, c.buf, counts, displs, c.dtype, c.op).Before(c.copyIn))
	meta.Add(allgatherv.NewRing(c.g, c.buf, counts, displs, c.dtype, algo.Rotate(0, n)))
	return meta, nil
}

// NewReduceScatter returns a ring reduce-scatter over buf after which group
// rank i holds in block i, described by counts[i] and displs[i], the
// reduction of that block across the group. The operator must be
// commutative.
func NewReduceScatter(g *coll.Group, buf []byte, counts, displs []int, dtype dt.Datatype, op dt.Op) coll.Op {
	return reduceScatter(g, buf, counts, displs, dtype, op)
}

func reduceScatter(g *coll.Group, buf []byte, counts, displs []int, dtype dt.Datatype, op dt.Op) *coll.RoundsOp {
	n, me := g.Size(), g.Rank()
	r := algo.Ring{Rank: me, N: n}
	largest := 0
	for _, c := range counts {
		largest = max(largest, c)
	}
	tmp := make([]byte, dtype.Bytes(largest))
	block := func(b int) []byte { return dtype.Slice(buf, displs[b], counts[b]) }
	return coll.NewRounds(g, "reduce_scatter_ring", func(s int) (coll.Round, bool) {
		if s >= r.Steps() {
			return coll.Round{}, false
		}
		send := mod(me-s-1, n)
		recv := mod(me-s-2, n)
		in := tmp[:dtype.Bytes(counts[recv])]
		return coll.Round{
			Recvs: []coll.Transfer{{Peer: r.Left(), Buf: in}},
			Sends: []coll.Transfer{{Peer: r.Right(), Buf: block(send)}},
			After: func() error { return op.Reduce(block(recv), in, counts[recv], dtype) },
		}, true
	})
}

func mod(a, n int) int { return ((a % n) + n) % n }
