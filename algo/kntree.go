package algo

// KnTree is a k-nomial tree over the virtual numbering of a RankMap. The
// parent of v clears the lowest non-zero base-k digit of v; the descendants of
// every node occupy a contiguous virtual range starting at the node, which
// lets scatter and gather split and merge buffers by subtree.
type KnTree struct {
	m      RankMap
	degree int
	vrank  int

	// child cursor
	dist int // current place value
	j    int // current digit at dist
}

// NewKnTree builds the tree seen by rank. rank must be part of m.
func NewKnTree(m RankMap, degree, rank int) *KnTree {
	if degree < 2 {
		degree = 2
	}
	t := &KnTree{m: m, degree: degree, vrank: m.ToVirtual(rank)}
	t.ResetChildren()
	return t
}

// VRank is the caller's virtual rank.
func (t *KnTree) VRank() int { return t.vrank }

// Degree of the tree.
func (t *KnTree) Degree() int { return t.degree }

// Map is the rank mapping the tree is built on.
func (t *KnTree) Map() RankMap { return t.m }

// span is the place value of the lowest non-zero digit of v, or the first
// power of the degree not below size for the root. Children of v live at
// place values strictly below span.
func (t *KnTree) span(v int) int {
	if v == 0 {
		p := 1
		for p < t.m.Size() {
			p *= t.degree
		}
		return p
	}
	p := 1
	for v%(p*t.degree) == 0 {
		p *= t.degree
	}
	return p
}

// IsRoot reports whether the caller is the root.
func (t *KnTree) IsRoot() bool { return t.vrank == 0 }

// Parent returns the real rank of the parent, or -1 at the root.
func (t *KnTree) Parent() int {
	if t.vrank == 0 {
		return -1
	}
	p := t.span(t.vrank)
	digit := (t.vrank / p) % t.degree
	return t.m.ToReal(t.vrank - digit*p)
}

// ResetChildren rewinds the child cursor.
func (t *KnTree) ResetChildren() {
	t.dist = t.span(t.vrank) / t.degree
	t.j = t.degree - 1
}

// NextChild returns the next child's real rank, largest subtree first. ok is
// false when the enumeration is exhausted.
func (t *KnTree) NextChild() (child int, ok bool) {
	v, ok := t.NextVChild()
	if !ok {
		return -1, false
	}
	return t.m.ToReal(v), true
}

// NextVChild is NextChild in virtual ranks.
func (t *KnTree) NextVChild() (int, bool) {
	n := t.m.Size()
	for t.dist >= 1 {
		c := t.vrank + t.j*t.dist
		t.j--
		if t.j == 0 {
			t.j = t.degree - 1
			t.dist /= t.degree
		}
		if c < n {
			return c, true
		}
	}
	return -1, false
}

// Children lists every child's real rank in enumeration order.
func (t *KnTree) Children() []int {
	saved := *t
	t.ResetChildren()
	var out []int
	for c, ok := t.NextChild(); ok; c, ok = t.NextChild() {
		out = append(out, c)
	}
	*t = saved
	return out
}

// VChildren lists every child's virtual rank in enumeration order.
func (t *KnTree) VChildren() []int {
	saved := *t
	t.ResetChildren()
	var out []int
	for c, ok := t.NextVChild(); ok; c, ok = t.NextVChild() {
		out = append(out, c)
	}
	*t = saved
	return out
}

// SubtreeSize is the number of ranks in the subtree rooted at vrank,
// including vrank itself. Its members are vrank .. vrank+size-1.
func (t *KnTree) SubtreeSize(vrank int) int {
	n := t.m.Size()
	if vrank == 0 {
		return n
	}
	s := t.span(vrank)
	if vrank+s > n {
		return n - vrank
	}
	return s
}
