package engine

import (
	"github.com/rocketbitz/collective/allgatherv"
	"github.com/rocketbitz/collective/allreduce"
	"github.com/rocketbitz/collective/barrier"
	"github.com/rocketbitz/collective/bcast"
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/config"
	"github.com/rocketbitz/collective/gatherv"
	"github.com/rocketbitz/collective/reduce"
	"github.com/rocketbitz/collective/scatterv"
)

// Builtin returns every built-in algorithm tuned by cfg, one set per
// collective.
func Builtin(cfg config.Config) [][]coll.Algorithm {
	return [][]coll.Algorithm{
		bcast.Algorithms(bcast.Config{
			KntreeDegree:  cfg.Bcast.KntreeDegree,
			NAInterDegree: cfg.Bcast.NAInterDegree,
			NAIntraDegree: cfg.Bcast.NAIntraDegree,
			Batch:         cfg.Bcast.Batch.Coll(),
		}),
		allreduce.Algorithms(allreduce.Config{
			FaninInterDegree:  cfg.Allreduce.FaninInterDegree,
			FanoutInterDegree: cfg.Allreduce.FanoutInterDegree,
			FaninIntraDegree:  cfg.Allreduce.FaninIntraDegree,
			FanoutIntraDegree: cfg.Allreduce.FanoutIntraDegree,
		}),
		allgatherv.Algorithms(),
		scatterv.Algorithms(scatterv.Config{
			KntreeDegree: cfg.Scatterv.KntreeDegree,
			Batch:        cfg.Scatterv.Batch.Coll(),
		}),
		gatherv.Algorithms(gatherv.Config{KntreeDegree: cfg.Gatherv.KntreeDegree}),
		reduce.Algorithms(reduce.Config{KntreeDegree: cfg.Reduce.KntreeDegree}),
		barrier.Algorithms(barrier.Config{
			FaninInterDegree:  cfg.Barrier.FaninInterDegree,
			FanoutInterDegree: cfg.Barrier.FanoutInterDegree,
			FaninIntraDegree:  cfg.Barrier.FaninIntraDegree,
			FanoutIntraDegree: cfg.Barrier.FanoutIntraDegree,
		}),
	}
}
