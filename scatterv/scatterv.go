// Package scatterv implements the scatterv algorithms.
package scatterv

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// Algorithm ids.
const (
	IDLinear    = 1
	IDKnomial   = 2
	IDNAKnomial = 3
)

// Config tunes the scatterv algorithms.
type Config struct {
	KntreeDegree int
	// Batch controls how the linear root posts its sends.
	Batch coll.BatchConfig
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{KntreeDegree: 2, Batch: coll.DefaultBatch()}
}

// Algorithms lists the scatterv implementations tuned by cfg.
func Algorithms(cfg Config) []coll.Algorithm {
	return []coll.Algorithm{
		{Type: coll.Scatterv, ID: IDLinear, Name: "linear", Prepare: prepare(func(c *call) (coll.Op, error) { return newLinear(c, cfg.Batch) })},
		{Type: coll.Scatterv, ID: IDKnomial, Name: "knomial", Prepare: prepare(func(c *call) (coll.Op, error) { return newKnomial(c, cfg.KntreeDegree) })},
		{Type: coll.Scatterv, ID: IDNAKnomial, Name: "na_knomial", Prepare: prepare(func(c *call) (coll.Op, error) { return newNodeAware(c, cfg.KntreeDegree) })},
	}
}

type call struct {
	g     *coll.Group
	args  *coll.ScattervArgs
	dtype dt.Datatype
	root  int
}

func (c *call) isRoot() bool { return c.g.Rank() == c.root }

func prepare(build func(c *call) (coll.Op, error)) coll.PrepareFunc {
	return func(g *coll.Group, a coll.Args) (coll.Op, error) {
		args, err := coll.Expect[*coll.ScattervArgs](a)
		if err != nil {
			return nil, err
		}
		if err := coll.CheckRoot(g, args.Root); err != nil {
			return nil, err
		}
		c := &call{g: g, args: args, dtype: args.Dtype, root: args.Root}
		if c.isRoot() {
			if err := coll.CheckVector("scatterv send", args.SendBuf, args.SendCounts, args.Displs, g.Size(), args.Dtype); err != nil {
				return nil, err
			}
			if args.RecvBuf != nil && args.RecvCount != args.SendCounts[g.Rank()] {
				return nil, status.Errorf(status.InvalidParam, "scatterv: root receive count %d, send count %d", args.RecvCount, args.SendCounts[g.Rank()])
			}
		}
		if !c.inPlace() {
			if err := coll.CheckBuffer("scatterv recv", args.RecvBuf, args.RecvCount, args.Dtype); err != nil {
				return nil, err
			}
		}
		return build(c)
	}
}

// inPlace is true on a root that keeps its block in the send buffer.
func (c *call) inPlace() bool { return c.isRoot() && c.args.RecvBuf == nil }

// block is rank's block of the root's send buffer.
func (c *call) block(rank int) []byte {
	return c.dtype.Slice(c.args.SendBuf, c.args.Displs[rank], c.args.SendCounts[rank])
}

func (c *call) recvBuf() []byte {
	return c.dtype.Slice(c.args.RecvBuf, 0, c.args.RecvCount)
}

// keep stores the caller's own block.
func (c *call) keep(data []byte) error {
	if c.inPlace() {
		return nil
	}
	if len(data) != len(c.recvBuf()) {
		return status.Errorf(status.InvalidParam, "scatterv: received %d bytes for a %d byte buffer", len(data), len(c.recvBuf()))
	}
	copy(c.recvBuf(), data)
	return nil
}

// newLinear has the root send every block directly, all at once or one at a
// time depending on the average block size.
func newLinear(c *call, batch coll.BatchConfig) (coll.Op, error) {
	if !c.isRoot() {
		return coll.NewRounds(c.g, "scatterv_linear", coll.Rounds(coll.Round{
			Recvs: []coll.Transfer{{Peer: c.root, Buf: c.recvBuf()}},
		})), nil
	}
	total := 0
	for _, n := range c.args.SendCounts {
		total += c.dtype.Bytes(n)
	}
	var sends []coll.Transfer
	for r := 0; r < c.g.Size(); r++ {
		if r != c.root {
			sends = append(sends, coll.Transfer{Peer: r, Buf: c.block(r)})
		}
	}
	var rounds []coll.Round
	if batch.UseBatch(c.g, total) {
		rounds = append(rounds, coll.Round{Sends: sends})
	} else {
		for _, s := range sends {
			rounds = append(rounds, coll.Round{Sends: []coll.Transfer{s}})
		}
	}
	op := coll.NewRounds(c.g, "scatterv_linear", coll.Rounds(rounds...))
	return op.Before(func() error { return c.keep(c.block(c.root)) }), nil
}

// packRanks stages the blocks of ranks, in order, from the root's send buffer.
func (c *call) packRanks(ranks []int) payload {
	var p payload
	for _, r := range ranks {
		p.counts = append(p.counts, c.args.SendCounts[r])
		p.data = append(p.data, c.block(r)...)
	}
	return p
}

func newKnomial(c *call, degree int) (coll.Op, error) {
	n := c.g.Size()
	m := algo.Rotate(c.root, n)
	return newTreeScatter("scatterv_knomial", treeSpec{
		g:      c.g,
		m:      m,
		degree: degree,
		dtype:  c.dtype,
		leaves: func(int) int { return 1 },
		pack: func() (payload, error) {
			order := make([]int, n)
			for v := range order {
				order[v] = m.ToReal(v)
			}
			return c.packRanks(order), nil
		},
		deliver: func(p payload) error { return c.keep(p.data) },
	}), nil
}

// newNodeAware hands the root's packed buffer to its node leader, scatters
// node-sized portions among node leaders and finishes inside every node.
func newNodeAware(c *call, degree int) (coll.Op, error) {
	t := c.g.Topology()
	if t.PPN() == topo.PPXUnknown {
		return nil, status.Errorf(status.Unsupported, "node-aware scatterv needs a topology")
	}
	me := c.g.Rank()
	nodes := t.Nodes()
	rootNode := t.NodeIndex(c.root)
	leader := t.NodeLeaderOf(c.root)
	leaderMap := algo.Rotate(rootNode, len(nodes))

	// the portion of the packed buffer held by this rank between stages
	var held payload
	pack := func() payload {
		var order []int
		for v := 0; v < len(nodes); v++ {
			order = append(order, nodes[leaderMap.ToReal(v)]...)
		}
		return c.packRanks(order)
	}

	meta := coll.NewMeta("scatterv_node_aware", c.g)
	switch {
	case me == c.root && me == leader:
		meta.Add(coll.Func(c.g, "scatterv_pack", func() error { held = pack(); return nil }))
	case me == c.root:
		var p payload
		meta.Add(coll.NewRounds(c.g, "scatterv_root_adjust", func(i int) (coll.Round, bool) {
			if i > 0 {
				return coll.Round{}, false
			}
			p = pack()
			return coll.Round{Sends: []coll.Transfer{
				{Peer: leader, Buf: encodeCounts(p.counts)},
				{Peer: leader, Buf: p.data},
			}}, true
		}))
	case me == leader:
		params := make([]byte, 4*c.g.Size())
		meta.Add(coll.NewRounds(c.g, "scatterv_root_adjust", func(i int) (coll.Round, bool) {
			switch i {
			case 0:
				return coll.Round{Recvs: []coll.Transfer{{Peer: c.root, Buf: params}}}, true
			case 1:
				held.counts = decodeCounts(params)
				total := 0
				for _, n := range held.counts {
					total += n
				}
				held.data = make([]byte, c.dtype.Bytes(total))
				return coll.Round{Recvs: []coll.Transfer{{Peer: c.root, Buf: held.data}}}, true
			}
			return coll.Round{}, false
		}))
	default:
		meta.AddEmpty()
	}

	leaders, _ := c.g.Sub(topo.NodeLeader)
	meta.AddOn(leaders, func(sub *coll.Group) (coll.Op, error) {
		return newTreeScatter("scatterv_knomial_leaders", treeSpec{
			g:       sub,
			m:       leaderMap,
			degree:  degree,
			dtype:   c.dtype,
			leaves:  func(u int) int { return len(nodes[u]) },
			pack:    func() (payload, error) { return held, nil },
			deliver: func(p payload) error { held = p; return nil },
		}), nil
	})

	node, _ := c.g.Sub(topo.Node)
	if node == nil {
		// alone on the node: the held portion is the caller's own block
		meta.Add(coll.Func(c.g, "scatterv_keep", func() error { return c.keep(held.data) }))
		return meta, nil
	}
	meta.AddStage(func() (coll.Op, error) {
		return newTreeScatter("scatterv_knomial_node", treeSpec{
			g:       node,
			m:       algo.Rotate(0, node.Size()),
			degree:  degree,
			dtype:   c.dtype,
			leaves:  func(int) int { return 1 },
			pack:    func() (payload, error) { return held, nil },
			deliver: func(p payload) error { return c.keep(p.data) },
		}), nil
	})
	return meta, nil
}
