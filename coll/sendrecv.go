package coll

// SendRecvOp sends one buffer and receives another in a single step. Either
// side is skipped when its peer is negative.
type SendRecvOp struct {
	Base
	sendBuf, recvBuf []byte
	dst, src         int
	posted           bool
}

// SendRecv returns a leaf op that sends sendBuf to dst and receives recvBuf
// from src, both group ranks of g.
func SendRecv(g *Group, name string, sendBuf []byte, dst int, recvBuf []byte, src int) *SendRecvOp {
	return &SendRecvOp{Base: NewBase(name, g), sendBuf: sendBuf, recvBuf: recvBuf, dst: dst, src: src}
}

func (o *SendRecvOp) Trigger() error {
	if err := o.Reset(); err != nil {
		return err
	}
	o.posted = false
	return o.Progress()
}

func (o *SendRecvOp) Progress() error {
	return o.Advance(func() error {
		if !o.posted {
			if o.src >= 0 {
				if err := o.Irecv(o.recvBuf, o.src); err != nil {
					return err
				}
			}
			if o.dst >= 0 {
				if err := o.Isend(o.sendBuf, o.dst); err != nil {
					return err
				}
			}
			o.posted = true
		}
		return o.Wait()
	})
}
