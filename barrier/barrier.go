// Package barrier implements the barrier algorithms. Every algorithm moves a
// one byte token: zero-length transfers are never posted, so an empty
// message could not carry the synchronisation.
package barrier

import (
	"github.com/rocketbitz/collective/allreduce"
	"github.com/rocketbitz/collective/bcast"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/reduce"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// Algorithm ids.
const (
	IDRecursiveDoubling = 1
	IDNARDBinomial      = 2
	IDSARDBinomial      = 3
	IDNARDKnomial       = 4
	IDSARDKnomial       = 5
	IDNAKnomial         = 6
	IDSAKnomial         = 7
)

// Config holds the fan-in and fan-out tree degrees.
type Config struct {
	FaninInterDegree  int
	FanoutInterDegree int
	FaninIntraDegree  int
	FanoutIntraDegree int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		FaninInterDegree:  8,
		FanoutInterDegree: 8,
		FaninIntraDegree:  4,
		FanoutIntraDegree: 2,
	}
}

// Algorithms lists the barrier implementations tuned by cfg.
func Algorithms(cfg Config) []coll.Algorithm {
	binomial := cfg
	binomial.FaninIntraDegree, binomial.FanoutIntraDegree = 2, 2
	hier := func(socket, rdInter bool, d Config) coll.PrepareFunc {
		return prepare(func(g *coll.Group) (coll.Op, error) { return newHierarchical(g, socket, rdInter, d) })
	}
	return []coll.Algorithm{
		{Type: coll.Barrier, ID: IDRecursiveDoubling, Name: "recursive_doubling", Prepare: prepare(newRecursiveDoubling)},
		{Type: coll.Barrier, ID: IDNARDBinomial, Name: "na_rd_binomial", Prepare: hier(false, true, binomial)},
		{Type: coll.Barrier, ID: IDSARDBinomial, Name: "sa_rd_binomial", Prepare: hier(true, true, binomial)},
		{Type: coll.Barrier, ID: IDNARDKnomial, Name: "na_rd_knomial", Prepare: hier(false, true, cfg)},
		{Type: coll.Barrier, ID: IDSARDKnomial, Name: "sa_rd_knomial", Prepare: hier(true, true, cfg)},
		{Type: coll.Barrier, ID: IDNAKnomial, Name: "na_knomial", Prepare: hier(false, false, cfg)},
		{Type: coll.Barrier, ID: IDSAKnomial, Name: "sa_knomial", Prepare: hier(true, false, cfg)},
	}
}

func prepare(build func(g *coll.Group) (coll.Op, error)) coll.PrepareFunc {
	return func(g *coll.Group, a coll.Args) (coll.Op, error) {
		if _, err := coll.Expect[*coll.BarrierArgs](a); err != nil {
			return nil, err
		}
		return build(g)
	}
}

func token() []byte { return make([]byte, 1) }

// newRecursiveDoubling is a dummy allreduce of the token.
func newRecursiveDoubling(g *coll.Group) (coll.Op, error) {
	return allreduce.NewRecursiveDoubling(g, token(), 1, dt.Uint8, dt.Max), nil
}

// newHierarchical fans in towards node leaders, synchronises them and fans
// back out. Among node leaders it runs recursive doubling when rdInter is set
// and a k-nomial fan-in and fan-out otherwise.
func newHierarchical(g *coll.Group, socket, rdInter bool, d Config) (coll.Op, error) {
	t := g.Topology()
	level := "node"
	if socket {
		level = "socket"
	}
	if t.PPN() == topo.PPXUnknown {
		return nil, status.Errorf(status.Unsupported, "%s-aware barrier needs a topology", level)
	}
	if socket && t.PPS() == topo.PPXUnknown {
		return nil, status.Errorf(status.Unsupported, "socket-aware barrier needs socket placement")
	}

	buf := token()
	fanin := func(degree int) func(*coll.Group) (coll.Op, error) {
		return func(sub *coll.Group) (coll.Op, error) {
			return reduce.NewKnomial(sub, buf, 1, dt.Uint8, dt.Max, 0, degree), nil
		}
	}
	fanout := func(degree int) func(*coll.Group) (coll.Op, error) {
		return func(sub *coll.Group) (coll.Op, error) {
			return bcast.NewKnomial(sub, buf, 0, degree), nil
		}
	}

	down := []topo.Kind{topo.Node}
	if socket {
		down = []topo.Kind{topo.Socket, topo.SocketLeader}
	}
	meta := coll.NewMeta("barrier_"+level+"_aware", g)
	for _, kind := range down {
		sub, _ := g.Sub(kind)
		meta.AddOn(sub, fanin(d.FaninIntraDegree))
	}
	leaders, _ := g.Sub(topo.NodeLeader)
	if rdInter {
		meta.AddOn(leaders, func(sub *coll.Group) (coll.Op, error) { return newRecursiveDoubling(sub) })
	} else {
		meta.AddOn(leaders, fanin(d.FaninInterDegree))
		meta.AddOn(leaders, fanout(d.FanoutInterDegree))
	}
	for i := len(down) - 1; i >= 0; i-- {
		sub, _ := g.Sub(down[i])
		meta.AddOn(sub, fanout(d.FanoutIntraDegree))
	}
	return meta, nil
}
