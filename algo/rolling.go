package algo

// RollStep is one round of a rolling exchange.
type RollStep struct {
	RecvFrom  int
	RecvBlock int
	SendTo    int
	SendBlock int
}

// Rolling grows a window of owned blocks around Rank one block per round,
// alternating sides: odd rounds extend to the left, even rounds to the right.
// After n-1 rounds every rank holds every block.
type Rolling struct {
	Rank int
	N    int

	left, right, round int
}

// NewRolling starts a rolling exchange for rank among n.
func NewRolling(rank, n int) *Rolling {
	return &Rolling{Rank: rank, N: n}
}

// Done reports whether the window covers the whole group.
func (r *Rolling) Done() bool {
	return r.left+r.right+1 >= r.N
}

// Next returns the next round and widens the window. ok is false once Done.
func (r *Rolling) Next() (step RollStep, ok bool) {
	if r.Done() {
		return RollStep{}, false
	}
	r.round++
	me := r.Rank
	if r.round%2 == 1 {
		step = RollStep{
			RecvFrom:  mod(me-1, r.N),
			RecvBlock: mod(me-r.left-1, r.N),
			SendTo:    mod(me+1, r.N),
			SendBlock: mod(me-r.left, r.N),
		}
		r.left++
	} else {
		step = RollStep{
			RecvFrom:  mod(me+1, r.N),
			RecvBlock: mod(me+r.right+1, r.N),
			SendTo:    mod(me-1, r.N),
			SendBlock: mod(me+r.right, r.N),
		}
		r.right++
	}
	return step, true
}

// Reset rewinds the exchange.
func (r *Rolling) Reset() {
	r.left, r.right, r.round = 0, 0, 0
}
