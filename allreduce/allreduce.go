// Package allreduce implements the allreduce algorithms and the reduce-scatter
// and recursive doubling building blocks they share.
package allreduce

import (
	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/status"
)

// Algorithm ids.
const (
	IDRecursiveDoubling = 1
	IDNARDBinomial      = 2
	IDSARDBinomial      = 3
	IDRing              = 4
	IDNARDKnomial       = 5
	IDSARDKnomial       = 6
	IDNAKnomial         = 7
	IDSAKnomial         = 8
	IDRabenseifner      = 12
	IDNARabenseifner    = 13
	IDSARabenseifner    = 14
)

// Config holds the tree degrees of the hierarchical variants.
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
		FaninIntraDegree:  2,
		FanoutIntraDegree: 2,
	}
}

// Algorithms lists the allreduce implementations tuned by cfg.
func Algorithms(cfg Config) []coll.Algorithm {
	binomial := degrees{2, 2, 2, 2}
	knomial := degrees{cfg.FaninInterDegree, cfg.FanoutInterDegree, cfg.FaninIntraDegree, cfg.FanoutIntraDegree}
	hier := func(socket, rdInter bool, d degrees) func(*call) (coll.Op, error) {
		return func(c *call) (coll.Op, error) { return newHierarchical(c, socket, rdInter, d) }
	}
	return []coll.Algorithm{
		{Type: coll.Allreduce, ID: IDRecursiveDoubling, Name: "recursive_doubling", Prepare: prepare(newRecursiveDoubling)},
		{Type: coll.Allreduce, ID: IDNARDBinomial, Name: "na_rd_binomial", Prepare: prepare(hier(false, true, binomial))},
		{Type: coll.Allreduce, ID: IDSARDBinomial, Name: "sa_rd_binomial", Prepare: prepare(hier(true, true, binomial))},
		{Type: coll.Allreduce, ID: IDRing, Name: "ring", Prepare: prepare(newRing)},
		{Type: coll.Allreduce, ID: IDNARDKnomial, Name: "na_rd_knomial", Prepare: prepare(hier(false, true, knomial))},
		{Type: coll.Allreduce, ID: IDSARDKnomial, Name: "sa_rd_knomial", Prepare: prepare(hier(true, true, knomial))},
		{Type: coll.Allreduce, ID: IDNAKnomial, Name: "na_knomial", Prepare: prepare(hier(false, false, knomial))},
		{Type: coll.Allreduce, ID: IDSAKnomial, Name: "sa_knomial", Prepare: prepare(hier(true, false, knomial))},
		{Type: coll.Allreduce, ID: IDRabenseifner, Name: "rabenseifner", Prepare: prepare(newRabenseifner)},
		{Type: coll.Allreduce, ID: IDNARabenseifner, Name: "na_rabenseifner", Prepare: prepare(newNARabenseifner)},
		{Type: coll.Allreduce, ID: IDSARabenseifner, Name: "sa_rabenseifner", Prepare: prepare(newSARabenseifner)},
	}
}

type degrees struct {
	faninInter, fanoutInter, faninIntra, fanoutIntra int
}

// call is a validated allreduce working in place on buf.
type call struct {
	g     *coll.Group
	args  *coll.AllreduceArgs
	buf   []byte
	count int
	dtype dt.Datatype
	op    dt.Op
}

func prepare(build func(c *call) (coll.Op, error)) coll.PrepareFunc {
	return func(g *coll.Group, a coll.Args) (coll.Op, error) {
		args, err := coll.Expect[*coll.AllreduceArgs](a)
		if err != nil {
			return nil, err
		}
		if args.Op == nil {
			return nil, status.Errorf(status.InvalidParam, "allreduce: nil operator")
		}
		if err := coll.CheckBuffer("allreduce recv", args.RecvBuf, args.Count, args.Dtype); err != nil {
			return nil, err
		}
		if !args.InPlace() {
			if err := coll.CheckBuffer("allreduce send", args.SendBuf, args.Count, args.Dtype); err != nil {
				return nil, err
			}
		}
		return build(&call{
			g:     g,
			args:  args,
			buf:   args.Dtype.Slice(args.RecvBuf, 0, args.Count),
			count: args.Count,
			dtype: args.Dtype,
			op:    args.Op,
		})
	}
}

// copyIn loads the send buffer into the working buffer.
func (c *call) copyIn() error {
	if c.args.InPlace() {
		return nil
	}
	return dt.Copy(c.buf, c.dtype, c.count, c.args.SendBuf, c.dtype, c.count)
}

func (c *call) needCommutative(name string) error {
	if !c.op.Commutative() {
		return status.Errorf(status.Unsupported, "%s allreduce needs a commutative operator, %s is not", name, c.op.Name())
	}
	return nil
}

func (c *call) needCount(name string) error {
	if c.count < c.g.Size() {
		return status.Errorf(status.Unsupported, "%s allreduce needs count >= %d, got %d", name, c.g.Size(), c.count)
	}
	return nil
}

// layout splits count elements into n blocks; the first count%n blocks hold
// one extra element.
func layout(count, n int) (counts, displs []int) {
	counts = make([]int, n)
	displs = make([]int, n)
	base, rem := count/n, count%n
	off := 0
	for i := range counts {
		counts[i] = base
		if i < rem {
			counts[i]++
		}
		displs[i] = off
		off += counts[i]
	}
	return counts, displs
}
