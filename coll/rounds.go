package coll

// Transfer is one message of a round, to or from a group rank.
type Transfer struct {
	Peer int
	Buf  []byte
}

// Round is a set of transfers posted together. Receives are posted before
// sends. After runs once every transfer of the round has completed.
type Round struct {
	Sends []Transfer
	Recvs []Transfer
	After func() error
}

// RoundFunc returns round i, or false when there are no more rounds. It is
// called once per round, after round i-1 completed.
type RoundFunc func(i int) (Round, bool)

// RoundsOp is a leaf op made of dependent rounds. All rounds share the op's
// sequence number; messages between a pair of ranks are matched in order.
type RoundsOp struct {
	Base
	next   RoundFunc
	before func() error

	i      int
	cur    Round
	posted bool
}

// NewRounds returns a leaf op running the rounds produced by next.
func NewRounds(g *Group, name string, next RoundFunc) *RoundsOp {
	return &RoundsOp{Base: NewBase(name, g), next: next}
}

// Before sets a local step run at every trigger, before the first round.
func (o *RoundsOp) Before(fn func() error) *RoundsOp {
	o.before = fn
	return o
}

func (o *RoundsOp) Trigger() error {
	if err := o.Reset(); err != nil {
		return err
	}
	o.i = 0
	o.posted = false
	if o.before != nil {
		if err := o.before(); err != nil {
			return o.Fail(err)
		}
	}
	return o.Progress()
}

func (o *RoundsOp) Progress() error {
	return o.Advance(o.step)
}

func (o *RoundsOp) step() error {
	for {
		if !o.posted {
			r, ok := o.next(o.i)
			if !ok {
				return nil
			}
			o.cur = r
			for _, t := range r.Recvs {
				if err := o.Irecv(t.Buf, t.Peer); err != nil {
					return err
				}
			}
			for _, t := range r.Sends {
				if err := o.Isend(t.Buf, t.Peer); err != nil {
					return err
				}
			}
			o.posted = true
		}
		if err := o.Wait(); err != nil {
			return err
		}
		if o.cur.After != nil {
			if err := o.cur.After(); err != nil {
				return err
			}
		}
		o.i++
		o.posted = false
	}
}

// Rounds builds a RoundFunc over a fixed list.
func Rounds(rounds ...Round) RoundFunc {
	return func(i int) (Round, bool) {
		if i >= len(rounds) {
			return Round{}, false
		}
		return rounds[i], true
	}
}
