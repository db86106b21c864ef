// Package bcast implements the broadcast algorithms.
package bcast

import (
	"github.com/rocketbitz/collective/coll"
)

// Algorithm ids.
const (
	IDBinomial     = 1
	IDNABinomial   = 2
	IDNAKnomialBin = 3
	IDNAKnomial    = 4
	IDRing         = 6
	IDVanDeGeijn   = 8
	IDKnomial      = 10
	IDLong         = 11
	IDIncRing      = 12
	IDInc2Ring     = 13
	IDLongModified = 14
)

// Config tunes the broadcast algorithms.
type Config struct {
	// KntreeDegree is the tree degree of the k-nomial broadcast and of the
	// inter-node tree of the node-aware k-nomial plus binomial variant.
	KntreeDegree int
	// NAInterDegree and NAIntraDegree shape the node-aware k-nomial variant.
	NAInterDegree int
	NAIntraDegree int
	// Batch controls how the van de Geijn root posts its scatter.
	Batch coll.BatchConfig
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		KntreeDegree:  4,
		NAInterDegree: 8,
		NAIntraDegree: 2,
		Batch:         coll.DefaultBatch(),
	}
}

// Algorithms lists the broadcast implementations tuned by cfg.
func Algorithms(cfg Config) []coll.Algorithm {
	tree := func(degree int) func(*call) (coll.Op, error) {
		return func(c *call) (coll.Op, error) {
			return NewKnomial(c.g, c.buf, c.root, degree), nil
		}
	}
	na := func(inter, intra int) func(*call) (coll.Op, error) {
		return func(c *call) (coll.Op, error) { return newNodeAware(c, inter, intra) }
	}
	return []coll.Algorithm{
		{Type: coll.Bcast, ID: IDBinomial, Name: "binomial", Prepare: prepare(tree(2))},
		{Type: coll.Bcast, ID: IDNABinomial, Name: "na_binomial", Prepare: prepare(na(2, 2))},
		{Type: coll.Bcast, ID: IDNAKnomialBin, Name: "na_knomial_binomial", Prepare: prepare(na(cfg.KntreeDegree, 2))},
		{Type: coll.Bcast, ID: IDNAKnomial, Name: "na_knomial", Prepare: prepare(na(cfg.NAInterDegree, cfg.NAIntraDegree))},
		{Type: coll.Bcast, ID: IDRing, Name: "ring", Prepare: prepare(newChain)},
		{Type: coll.Bcast, ID: IDVanDeGeijn, Name: "van_de_geijn", Prepare: prepare(func(c *call) (coll.Op, error) { return newVanDeGeijn(c, cfg.Batch) })},
		{Type: coll.Bcast, ID: IDKnomial, Name: "knomial", Prepare: prepare(tree(cfg.KntreeDegree))},
		{Type: coll.Bcast, ID: IDLong, Name: "long", Prepare: prepare(newLong)},
		{Type: coll.Bcast, ID: IDIncRing, Name: "inc_ring", Prepare: prepare(newIncRing)},
		{Type: coll.Bcast, ID: IDInc2Ring, Name: "inc_2ring", Prepare: prepare(newInc2Ring)},
		{Type: coll.Bcast, ID: IDLongModified, Name: "long_modified", Prepare: prepare(newLongModified)},
	}
}

// call is a validated broadcast.
type call struct {
	g    *coll.Group
	args *coll.BcastArgs
	buf  []byte
	root int
}

func prepare(build func(c *call) (coll.Op, error)) coll.PrepareFunc {
	return func(g *coll.Group, a coll.Args) (coll.Op, error) {
		args, err := coll.Expect[*coll.BcastArgs](a)
		if err != nil {
			return nil, err
		}
		if err := coll.CheckRoot(g, args.Root); err != nil {
			return nil, err
		}
		if err := coll.CheckBuffer("bcast", args.Buf, args.Count, args.Dtype); err != nil {
			return nil, err
		}
		return build(&call{g: g, args: args, buf: args.Dtype.Slice(args.Buf, 0, args.Count), root: args.Root})
	}
}
