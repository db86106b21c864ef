package bcast

import (
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// newNodeAware moves the payload to the root's node leader, broadcasts it
// among node leaders and then inside every node.
func newNodeAware(c *call, inter, intra int) (coll.Op, error) {
	t := c.g.Topology()
	if t.PPN() == topo.PPXUnknown {
		return nil, status.Errorf(status.Unsupported, "node-aware bcast needs a topology")
	}
	me := c.g.Rank()
	leader := t.NodeLeaderOf(c.root)

	meta := coll.NewMeta("bcast_node_aware", c.g)
	switch {
	case c.root == leader:
		meta.AddEmpty()
	case me == c.root:
		meta.Add(coll.SendRecv(c.g, "bcast_root_adjust", c.buf, leader, nil, -1))
	case me == leader:
		meta.Add(coll.SendRecv(c.g, "bcast_root_adjust", nil, -1, c.buf, c.root))
	default:
		meta.AddEmpty()
	}

	leaders, _ := c.g.Sub(topo.NodeLeader)
	meta.AddOn(leaders, func(sub *coll.Group) (coll.Op, error) {
		return NewKnomial(sub, c.buf, t.NodeIndex(c.root), inter), nil
	})
	node, _ := c.g.Sub(topo.Node)
	meta.AddOn(node, func(sub *coll.Group) (coll.Op, error) {
		return NewKnomial(sub, c.buf, 0, intra), nil
	})
	return meta, nil
}
