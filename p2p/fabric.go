package p2p

import (
	"errors"
	"fmt"
	"sync"
)

// ErrFabricClosed is returned by ports of a closed fabric.
var ErrFabricClosed = errors.New("collective p2p: fabric closed")

type message struct {
	src     int
	tag     uint64
	payload []byte
}

// Fabric is an in-process transport connecting size ports. Sends are eager:
// the payload is copied at post time and the sender completes immediately.
// Messages between a pair of ports with the same tag are delivered in order.
type Fabric struct {
	mu     sync.Mutex
	ports  []*Port
	closed bool
}

// NewFabric creates a fabric with size ports.
func NewFabric(size int) *Fabric {
	f := &Fabric{ports: make([]*Port, size)}
	for i := range f.ports {
		f.ports[i] = &Port{fabric: f, rank: i}
	}
	return f
}

// Size is the number of ports.
func (f *Fabric) Size() int { return len(f.ports) }

// Port returns the transport of rank.
func (f *Fabric) Port(rank int) *Port { return f.ports[rank] }

// Close fails every later post.
func (f *Fabric) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Port is one rank's view of a Fabric.
type Port struct {
	fabric *Fabric
	rank   int

	// guarded by fabric.mu
	unexpected  []*message
	posted      []*RecvRequest
	completions []func()
	failSends   []error
	sends       int
	recvs       int
}

var _ Transport = (*Port)(nil)

func (p *Port) Rank() int { return p.rank }
func (p *Port) Size() int { return len(p.fabric.ports) }

// FailNextSend makes the next send posted on this port complete with err
// without delivering the payload.
func (p *Port) FailNextSend(err error) {
	p.fabric.mu.Lock()
	p.failSends = append(p.failSends, err)
	p.fabric.mu.Unlock()
}

// Posted returns the number of sends and receives posted on this port.
func (p *Port) Posted() (sends, recvs int) {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return p.sends, p.recvs
}

func (p *Port) PostTaggedSend(req *SendRequest) error {
	f := p.fabric
	if req.Dest < 0 || req.Dest >= len(f.ports) {
		return fmt.Errorf("collective p2p: send to rank %d outside fabric of %d", req.Dest, len(f.ports))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFabricClosed
	}
	p.sends++

	if len(p.failSends) > 0 {
		err := p.failSends[0]
		p.failSends = p.failSends[1:]
		p.queue(func() { complete(req.OnComplete, err) })
		return nil
	}

	msg := &message{src: p.rank, tag: req.Tag, payload: append([]byte(nil), req.Buffer...)}
	dst := f.ports[req.Dest]
	if i := dst.matchPosted(msg); i >= 0 {
		recv := dst.posted[i]
		dst.posted = append(dst.posted[:i], dst.posted[i+1:]...)
		dst.deliver(recv, msg)
	} else {
		dst.unexpected = append(dst.unexpected, msg)
	}
	p.queue(func() { complete(req.OnComplete, nil) })
	return nil
}

func (p *Port) PostTaggedRecv(req *RecvRequest) error {
	f := p.fabric
	if req.Source < 0 || req.Source >= len(f.ports) {
		return fmt.Errorf("collective p2p: receive from rank %d outside fabric of %d", req.Source, len(f.ports))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFabricClosed
	}
	p.recvs++
	for i, msg := range p.unexpected {
		if msg.src == req.Source && Match(msg.tag, req.Tag, req.Ignore) {
			p.unexpected = append(p.unexpected[:i], p.unexpected[i+1:]...)
			p.deliver(req, msg)
			return nil
		}
	}
	p.posted = append(p.posted, req)
	return nil
}

// Progress runs the completions queued for this port.
func (p *Port) Progress() int {
	p.fabric.mu.Lock()
	pending := p.completions
	p.completions = nil
	p.fabric.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return len(pending)
}

func (p *Port) matchPosted(msg *message) int {
	for i, recv := range p.posted {
		if recv.Source == msg.src && Match(msg.tag, recv.Tag, recv.Ignore) {
			return i
		}
	}
	return -1
}

func (p *Port) deliver(req *RecvRequest, msg *message) {
	n := copy(req.Buffer, msg.payload)
	var err error
	if len(msg.payload) > len(req.Buffer) {
		err = ErrTruncated
	}
	p.queue(func() {
		if req.OnComplete != nil {
			req.OnComplete(n, err)
		}
	})
}

func (p *Port) queue(fn func()) {
	p.completions = append(p.completions, fn)
}

func complete(fn func(error), err error) {
	if fn != nil {
		fn(err)
	}
}
