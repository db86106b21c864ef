package allreduce

import (
	"github.com/rocketbitz/collective/bcast"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/reduce"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// newHierarchical reduces towards node leaders, allreduces among them and
// broadcasts the result back down. With socket set the reduction goes
// through socket leaders first. Among node leaders it uses recursive doubling
// when rdInter is set and a k-nomial reduce followed by a k-nomial broadcast
// otherwise.
func newHierarchical(c *call, socket, rdInter bool, d degrees) (coll.Op, error) {
	t := c.g.Topology()
	level := "node"
	if socket {
		level = "socket"
	}
	if t.PPN() == topo.PPXUnknown {
		return nil, status.Errorf(status.Unsupported, "%s-aware allreduce needs a topology", level)
	}
	if err := c.needCommutative(level + "-aware"); err != nil {
		return nil, err
	}

	down := []topo.Kind{topo.Node}
	if socket {
		down = []topo.Kind{topo.Socket, topo.SocketLeader}
	}
	reduceOn := func(sub *coll.Group, root, degree int) (coll.Op, error) {
		return reduce.NewKnomial(sub, c.buf, c.count, c.dtype, c.op, root, degree), nil
	}
	bcastOn := func(sub *coll.Group, root, degree int) (coll.Op, error) {
		return bcast.NewKnomial(sub, c.buf, root, degree), nil
	}

	meta := coll.NewMeta("allreduce_"+level+"_aware", c.g)
	meta.Add(coll.Func(c.g, "allreduce_copy_in", c.copyIn))
	for _, kind := range down {
		sub, _ := c.g.Sub(kind)
		meta.AddOn(sub, func(sub *coll.Group) (coll.Op, error) { return reduceOn(sub, 0, d.faninIntra) })
	}

	leaders, _ := c.g.Sub(topo.NodeLeader)
	if rdInter {
		meta.AddOn(leaders, func(sub *coll.Group) (coll.Op, error) {
			return NewRecursiveDoubling(sub, c.buf, c.count, c.dtype, c.op), nil
		})
	} else {
		meta.AddOn(leaders, func(sub *coll.Group) (coll.Op, error) { return reduceOn(sub, 0, d.faninInter) })
		meta.AddOn(leaders, func(sub *coll.Group) (coll.Op, error) { return bcastOn(sub, 0, d.fanoutInter) })
	}

	for i := len(down) - 1; i >= 0; i-- {
		sub, _ := c.g.Sub(down[i])
		meta.AddOn(sub, func(sub *coll.Group) (coll.Op, error) { return bcastOn(sub, 0, d.fanoutIntra) })
	}
	return meta, nil
}
