package algo

// Ring is the cursor of a unidirectional ring over n ranks. At step s
// (0 <= s < n-1) rank r sends block r-s to its right neighbour and receives
// block r-s-1 from its left neighbour.
type Ring struct {
	Rank int
	N    int
}

// Left is the neighbour a ring rank receives from.
func (r Ring) Left() int { return (r.Rank - 1 + r.N) % r.N }

// Right is the neighbour a ring rank sends to.
func (r Ring) Right() int { return (r.Rank + 1) % r.N }

// Steps is the number of exchanges needed to circulate every block.
func (r Ring) Steps() int {
	if r.N < 2 {
		return 0
	}
	return r.N - 1
}

// SendBlock is the block forwarded at step.
func (r Ring) SendBlock(step int) int { return mod(r.Rank-step, r.N) }

// RecvBlock is the block arriving at step.
func (r Ring) RecvBlock(step int) int { return mod(r.Rank-step-1, r.N) }

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
