// Package allgatherv implements the allgatherv algorithms: every rank ends up
// with the blocks of all ranks laid out by RecvCounts and Displs.
package allgatherv

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/status"
)

// Algorithm ids.
const (
	IDNeighbor  = 1
	IDRing      = 2
	IDRingHPL   = 3
	IDBruck     = 4
	IDLinear    = 5
	IDNARolling = 6
)

// Algorithms lists the allgatherv implementations.
func Algorithms() []coll.Algorithm {
	return []coll.Algorithm{
		{Type: coll.Allgatherv, ID: IDNeighbor, Name: "neighbor", Prepare: prepare(newNeighbor)},
		{Type: coll.Allgatherv, ID: IDRing, Name: "ring", Prepare: prepare(newRing)},
		{Type: coll.Allgatherv, ID: IDRingHPL, Name: "ring_hpl", Prepare: prepare(newRingHPL)},
		{Type: coll.Allgatherv, ID: IDBruck, Name: "bruck", Prepare: prepare(newBruck)},
		{Type: coll.Allgatherv, ID: IDLinear, Name: "linear", Prepare: prepare(newLinear)},
		{Type: coll.Allgatherv, ID: IDNARolling, Name: "na_rolling", Prepare: prepare(newNARolling)},
	}
}

// call is a validated allgatherv.
type call struct {
	g      *coll.Group
	args   *coll.AllgathervArgs
	counts []int
	displs []int
	dtype  dt.Datatype
}

func prepare(build func(c *call) (coll.Op, error)) coll.PrepareFunc {
	return func(g *coll.Group, a coll.Args) (coll.Op, error) {
		args, err := coll.Expect[*coll.AllgathervArgs](a)
		if err != nil {
			return nil, err
		}
		if err := validate(g, args); err != nil {
			return nil, err
		}
		return build(&call{g: g, args: args, counts: args.RecvCounts, displs: args.Displs, dtype: args.Dtype})
	}
}

func validate(g *coll.Group, a *coll.AllgathervArgs) error {
	if err := coll.CheckVector("allgatherv recv", a.RecvBuf, a.RecvCounts, a.Displs, g.Size(), a.Dtype); err != nil {
		return err
	}
	if a.InPlace() {
		return nil
	}
	if a.SendCount != a.RecvCounts[g.Rank()] {
		return status.Errorf(status.InvalidParam, "allgatherv: send count %d, receive count %d", a.SendCount, a.RecvCounts[g.Rank()])
	}
	return coll.CheckBuffer("allgatherv send", a.SendBuf, a.SendCount, a.Dtype)
}

// block returns the bytes of rank's block.
func (c *call) block(rank int) []byte {
	return c.dtype.Slice(c.args.RecvBuf, c.displs[rank], c.counts[rank])
}

// blocks returns one transfer per merged segment of num blocks from first.
func (c *call) blocks(peer, first, num int) []coll.Transfer {
	segs := algo.MergeSegments(c.counts, c.displs, first, num)
	out := make([]coll.Transfer, len(segs))
	for i, s := range segs {
		out[i] = coll.Transfer{Peer: peer, Buf: c.dtype.Slice(c.args.RecvBuf, s.Offset, s.Count)}
	}
	return out
}

// copyLocal moves the caller's contribution into place.
func (c *call) copyLocal() error {
	if c.args.InPlace() {
		return nil
	}
	me := c.g.Rank()
	return dt.Copy(c.block(me), c.dtype, c.counts[me], c.args.SendBuf, c.dtype, c.args.SendCount)
}

func (c *call) rounds(name string, next coll.RoundFunc) coll.Op {
	return coll.NewRounds(c.g, name, next).Before(c.copyLocal)
}

func newLinear(c *call) (coll.Op, error) {
	n, me := c.g.Size(), c.g.Rank()
	var r coll.Round
	for peer := 0; peer < n; peer++ {
		if peer == me {
			continue
		}
		r.Recvs = append(r.Recvs, coll.Transfer{Peer: peer, Buf: c.block(peer)})
		r.Sends = append(r.Sends, coll.Transfer{Peer: peer, Buf: c.block(me)})
	}
	return c.rounds("allgatherv_linear", coll.Rounds(r)), nil
}

func newRing(c *call) (coll.Op, error) {
	return ring(c.g, "allgatherv_ring", c.args.RecvBuf, c.counts, c.displs, c.dtype, algo.Rotate(0, c.g.Size())).Before(c.copyLocal), nil
}

// NewRing returns a ring allgather over buf in which block b, described by
// counts[b] and displs[b], starts on the rank with virtual rank b under m.
// The caller's block must already be in place.
func NewRing(g *coll.Group, buf []byte, counts, displs []int, dtype dt.Datatype, m algo.RankMap) coll.Op {
	return ring(g, "allgatherv_ring", buf, counts, displs, dtype, m)
}

func ring(g *coll.Group, name string, buf []byte, counts, displs []int, dtype dt.Datatype, m algo.RankMap) *coll.RoundsOp {
	r := algo.Ring{Rank: m.ToVirtual(g.Rank()), N: m.Size()}
	left, right := m.ToReal(r.Left()), m.ToReal(r.Right())
	seg := func(b int) []byte { return dtype.Slice(buf, displs[b], counts[b]) }
	return coll.NewRounds(g, name, func(i int) (coll.Round, bool) {
		if i >= r.Steps() {
			return coll.Round{}, false
		}
		return coll.Round{
			Recvs: []coll.Transfer{{Peer: left, Buf: seg(r.RecvBlock(i))}},
			Sends: []coll.Transfer{{Peer: right, Buf: seg(r.SendBlock(i))}},
		}, true
	})
}

func mod(a, n int) int { return ((a % n) + n) % n }
