package algo

import "math/bits"

// Role of a rank in a recursive doubling exchange over a non power of two
// group.
type Role int

const (
	// Core ranks take part in every exchange step.
	Core Role = iota
	// Proxy ranks fold in an extra rank's data before the exchange and hand
	// the result back afterwards.
	Proxy
	// Extra ranks sit the exchange out.
	Extra
)

func (r Role) String() string {
	switch r {
	case Proxy:
		return "proxy"
	case Extra:
		return "extra"
	}
	return "core"
}

// RecursiveDoubling pairs ranks at doubling distances inside the largest power
// of two not above N. The first 2*Rem ranks are folded pairwise: even ones are
// extras, odd ones their proxies.
type RecursiveDoubling struct {
	Rank    int
	N       int
	Pow2    int
	Rem     int
	NewRank int
	Role    Role
}

// NewRecursiveDoubling computes the layout seen by rank.
func NewRecursiveDoubling(rank, n int) RecursiveDoubling {
	pow2 := 1
	if n > 0 {
		pow2 = 1 << (bits.Len(uint(n)) - 1)
	}
	rd := RecursiveDoubling{Rank: rank, N: n, Pow2: pow2, Rem: n - pow2}
	switch {
	case rank < 2*rd.Rem && rank%2 == 0:
		rd.Role = Extra
		rd.NewRank = -1
	case rank < 2*rd.Rem:
		rd.Role = Proxy
		rd.NewRank = rank / 2
	default:
		rd.NewRank = rank - rd.Rem
	}
	return rd
}

// Steps is log2(Pow2).
func (rd RecursiveDoubling) Steps() int {
	return bits.Len(uint(rd.Pow2)) - 1
}

// Partner is the proxy of an extra rank or the extra of a proxy; -1 for core
// ranks.
func (rd RecursiveDoubling) Partner() int {
	switch rd.Role {
	case Extra:
		return rd.Rank + 1
	case Proxy:
		return rd.Rank - 1
	}
	return -1
}

// Real maps a rank of the power of two numbering back to the group.
func (rd RecursiveDoubling) Real(newRank int) int {
	if newRank < rd.Rem {
		return 2*newRank + 1
	}
	return newRank + rd.Rem
}

// PeerNew is the exchange partner at step in the power of two numbering.
func (rd RecursiveDoubling) PeerNew(step int) int {
	return rd.NewRank ^ (1 << step)
}

// Peer is the exchange partner at step as a group rank.
func (rd RecursiveDoubling) Peer(step int) int {
	return rd.Real(rd.PeerNew(step))
}
