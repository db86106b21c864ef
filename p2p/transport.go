package p2p

// SendRequest describes a tagged send. OnComplete runs inside the sender's
// Progress call.
type SendRequest struct {
	Buffer     []byte
	Dest       int
	Tag        uint64
	OnComplete func(err error)
}

// RecvRequest describes a tagged receive from one source. Bits set in Ignore
// are not compared when matching. OnComplete runs inside the receiver's
// Progress call with the number of bytes delivered.
type RecvRequest struct {
	Buffer     []byte
	Source     int
	Tag        uint64
	Ignore     uint64
	OnComplete func(n int, err error)
}

// Transport is the consumed point-to-point interface. Implementations must
// only invoke completion callbacks from Progress, so a single goroutine that
// drives Progress observes every completion.
type Transport interface {
	Rank() int
	Size() int
	PostTaggedSend(req *SendRequest) error
	PostTaggedRecv(req *RecvRequest) error
	// Progress delivers pending completions and returns how many ran.
	Progress() int
}
