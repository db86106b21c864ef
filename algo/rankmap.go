// Package algo contains the traversal cursors shared by the collective
// algorithms: k-nomial trees, rings, recursive doubling, Bruck and rolling
// exchanges, plus the one real/virtual rank mapping they all use.
package algo

// RankMap converts between real ranks and a virtual numbering in which a
// chosen root is 0.
type RankMap interface {
	// Size is the number of ranks in the virtual numbering.
	Size() int
	// ToVirtual returns -1 for ranks excluded from the numbering.
	ToVirtual(rank int) int
	ToReal(vrank int) int
}

// Rotation numbers ranks relative to Root: v = (r - root) mod size.
type Rotation struct {
	Root int
	N    int
}

// Rotate returns the rotation of n ranks rooted at root.
func Rotate(root, n int) Rotation {
	return Rotation{Root: root, N: n}
}

func (m Rotation) Size() int { return m.N }

func (m Rotation) ToVirtual(rank int) int {
	return (rank - m.Root + m.N) % m.N
}

func (m Rotation) ToReal(vrank int) int {
	return (vrank + m.Root) % m.N
}

// SkipNeighbor is a rotation that leaves out the rank right after the root;
// it numbers the remaining N-1 ranks 0..N-2.
type SkipNeighbor struct {
	Root int
	N    int
}

func (m SkipNeighbor) Size() int { return m.N - 1 }

func (m SkipNeighbor) ToVirtual(rank int) int {
	o := (rank - m.Root + m.N) % m.N
	switch {
	case o == 0:
		return 0
	case o == 1:
		return -1
	default:
		return o - 1
	}
}

func (m SkipNeighbor) ToReal(vrank int) int {
	if vrank == 0 {
		return m.Root
	}
	return (m.Root + vrank + 1) % m.N
}

// Neighbor is the rank skipped by m.
func (m SkipNeighbor) Neighbor() int {
	return (m.Root + 1) % m.N
}
