package allreduce

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
)

func newRecursiveDoubling(c *call) (coll.Op, error) {
	return recursiveDoubling(c.g, c.buf, c.count, c.dtype, c.op).Before(c.copyIn), nil
}

// NewRecursiveDoubling returns an in-place allreduce of count elements of buf
// over g. Partial results are always combined in rank order, so the operator
// need not be commutative.
func NewRecursiveDoubling(g *coll.Group, buf []byte, count int, dtype dt.Datatype, op dt.Op) coll.Op {
	return recursiveDoubling(g, buf, count, dtype, op)
}

func recursiveDoubling(g *coll.Group, buf []byte, count int, dtype dt.Datatype, op dt.Op) *coll.RoundsOp {
	rd := algo.NewRecursiveDoubling(g.Rank(), g.Size())
	tmp := make([]byte, len(buf))
	var rounds []coll.Round

	switch rd.Role {
	case algo.Extra:
		rounds = append(rounds,
			coll.Round{Sends: []coll.Transfer{{Peer: rd.Partner(), Buf: buf}}},
			coll.Round{Recvs: []coll.Transfer{{Peer: rd.Partner(), Buf: buf}}},
		)
		return coll.NewRounds(g, "allreduce_rd", coll.Rounds(rounds...))
	case algo.Proxy:
		// the extra rank is the lower one
		rounds = append(rounds, coll.Round{
			Recvs: []coll.Transfer{{Peer: rd.Partner(), Buf: tmp}},
			After: func() error { return op.Reduce(buf, tmp, count, dtype) },
		})
	}

	for s := 0; s < rd.Steps(); s++ {
		lower := rd.PeerNew(s) < rd.NewRank
		peer := rd.Peer(s)
		rounds = append(rounds, coll.Round{
			Recvs: []coll.Transfer{{Peer: peer, Buf: tmp}},
			Sends: []coll.Transfer{{Peer: peer, Buf: buf}},
			After: func() error {
				if lower {
					return op.Reduce(buf, tmp, count, dtype)
				}
				if err := op.Reduce(tmp, buf, count, dtype); err != nil {
					return err
				}
				copy(buf, tmp)
				return nil
			},
		})
	}

	if rd.Role == algo.Proxy {
		rounds = append(rounds, coll.Round{Sends: []coll.Transfer{{Peer: rd.Partner(), Buf: buf}}})
	}
	return coll.NewRounds(g, "allreduce_rd", coll.Rounds(rounds...))
}
