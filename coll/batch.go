package coll

import "math"

// Threshold sentinels for BatchConfig.
const (
	// Auto derives the threshold from the group's node layout.
	Auto = -1
	// Unlimited disables the threshold.
	Unlimited = math.MaxInt
)

// BatchConfig bounds the average per-rank message size for which a root posts
// all of its transfers at once. Outside [Min, Max] it posts them one by one.
type BatchConfig struct {
	Min int
	Max int
}

// DefaultBatch derives both thresholds.
func DefaultBatch() BatchConfig {
	return BatchConfig{Min: Auto, Max: Auto}
}

// autoBatchMin and autoBatchMax were tuned per node count and ranks per node.
func autoBatchMin(nnode, ppn int) int {
	switch {
	case nnode == 1:
		return 8256
	case ppn == 1:
		return 4096
	case nnode <= 4:
		return 32768
	case nnode <= 8 && ppn <= 32:
		return 16384
	case nnode <= 8:
		return 32768
	case nnode <= 16 && ppn <= 4:
		return 16384
	}
	return 32768
}

func autoBatchMax(nnode, ppn int) int {
	switch {
	case nnode == 1:
		return Unlimited
	case ppn == 1:
		return 65536
	case nnode <= 4:
		return Unlimited
	case nnode <= 8 && ppn <= 4:
		return 32768
	case nnode <= 8 && ppn <= 8:
		return 65536
	case nnode <= 8 && ppn <= 32:
		return 16384
	case nnode <= 8:
		return Unlimited
	case nnode <= 16 && ppn <= 4:
		return 16384
	}
	return 131072
}

// Resolve replaces Auto thresholds using the layout of g.
func (c BatchConfig) Resolve(g *Group) BatchConfig {
	nnode, ppn := Layout(g)
	if c.Min == Auto {
		c.Min = autoBatchMin(nnode, ppn)
	}
	if c.Max == Auto {
		c.Max = autoBatchMax(nnode, ppn)
	}
	return c
}

// UseBatch reports whether a root moving total bytes to or from the group
// should post every transfer at once.
func (c BatchConfig) UseBatch(g *Group, total int) bool {
	c = c.Resolve(g)
	avg := total / g.Size()
	return avg >= c.Min && avg <= c.Max
}

// Layout returns the node count and ranks per node of g. Without a usable
// topology every rank counts as its own node.
func Layout(g *Group) (nnode, ppn int) {
	t := g.Topology()
	if t == nil || t.PPN() <= 0 {
		return g.Size(), 1
	}
	return t.NodeCount(), t.PPN()
}
