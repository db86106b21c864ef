package allgatherv

import (
	"github.com/rocketbitz/collective/algo"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// newNARolling first runs a rolling exchange among the ranks sharing a local
// index across nodes, then one inside every node in which member j forwards
// the blocks of its whole column.
func newNARolling(c *call) (coll.Op, error) {
	t := c.g.Topology()
	switch {
	case t == nil || t.PPN() < 0:
		return nil, status.Errorf(status.Unsupported, "allgatherv na rolling needs a balanced topology")
	case t.NodeCount() == 1:
		return nil, status.Errorf(status.Unsupported, "allgatherv na rolling needs more than one node")
	case t.PPN() == 1:
		return nil, status.Errorf(status.Unsupported, "allgatherv na rolling needs more than one rank per node")
	}
	nodes := t.Nodes()

	col, colDesc := c.g.Sub(topo.NodeColumn)
	node, _ := c.g.Sub(topo.Node)

	meta := coll.NewMeta("allgatherv_na_rolling", c.g)
	meta.Add(coll.Func(c.g, "allgatherv_copy_local", c.copyLocal))
	meta.AddOn(col, func(sub *coll.Group) (coll.Op, error) {
		return rolling(sub, c, func(b int) []int { return []int{colDesc.Ranks[b]} }), nil
	})
	meta.AddOn(node, func(sub *coll.Group) (coll.Op, error) {
		return rolling(sub, c, func(j int) []int {
			ranks := make([]int, len(nodes))
			for k, nd := range nodes {
				ranks[k] = nd[j]
			}
			return ranks
		}), nil
	})
	return meta, nil
}

// rolling runs a rolling exchange on sub in which block b is made of the
// blocks of the parent group ranks owners(b).
func rolling(sub *coll.Group, c *call, owners func(b int) []int) coll.Op {
	roll := algo.NewRolling(sub.Rank(), sub.Size())
	xfers := func(peer, b int) []coll.Transfer {
		var out []coll.Transfer
		for _, r := range owners(b) {
			out = append(out, c.blocks(peer, r, 1)...)
		}
		return out
	}
	return coll.NewRounds(sub, "allgatherv_rolling", func(i int) (coll.Round, bool) {
		if i == 0 {
			roll.Reset()
		}
		st, ok := roll.Next()
		if !ok {
			return coll.Round{}, false
		}
		return coll.Round{
			Recvs: xfers(st.RecvFrom, st.RecvBlock),
			Sends: xfers(st.SendTo, st.SendBlock),
		}, true
	})
}
