package algo

// BruckStep is one round of the Bruck allgather: Blocks consecutive blocks
// starting at the caller's own go to SendTo, and as many starting at RecvFrom's
// arrive from RecvFrom.
type BruckStep struct {
	Dist     int
	SendTo   int
	RecvFrom int
	Blocks   int
}

// BruckSteps lists the rounds for rank in a group of n. Distances double until
// every block has been received.
func BruckSteps(rank, n int) []BruckStep {
	var out []BruckStep
	for d := 1; d < n; d *= 2 {
		blocks := d
		if d > n/2 {
			blocks = n - d
		}
		out = append(out, BruckStep{
			Dist:     d,
			SendTo:   mod(rank-d, n),
			RecvFrom: mod(rank+d, n),
			Blocks:   blocks,
		})
	}
	return out
}

// Segment is a contiguous element range of a buffer.
type Segment struct {
	Offset int
	Count  int
}

// MergeSegments returns the element ranges covering num blocks starting at
// first (wrapping modulo len(counts)). Adjacent blocks whose displacements
// touch are merged; empty blocks are dropped.
func MergeSegments(counts, displs []int, first, num int) []Segment {
	n := len(counts)
	var out []Segment
	for i := 0; i < num; i++ {
		b := mod(first+i, n)
		if counts[b] == 0 {
			continue
		}
		if k := len(out) - 1; k >= 0 && out[k].Offset+out[k].Count == displs[b] {
			out[k].Count += counts[b]
			continue
		}
		out = append(out, Segment{Offset: displs[b], Count: counts[b]})
	}
	return out
}
