package p2p

import (
	"errors"
	"fmt"

	"github.com/rocketbitz/collective/status"
)

// ErrTruncated reports a message longer than the posted receive buffer.
var ErrTruncated = errors.New("collective p2p: message truncated")

// OperationKind identifies the side of a transfer.
type OperationKind int

const (
	OperationSend OperationKind = iota
	OperationReceive
)

func (k OperationKind) String() string {
	switch k {
	case OperationSend:
		return "send"
	case OperationReceive:
		return "receive"
	default:
		return "operation"
	}
}

// TransferError describes a failed send or receive. It matches both
// status.IOError and the transport's error.
type TransferError struct {
	Kind OperationKind
	Peer int
	Tag  uint64
	Err  error
}

func (e *TransferError) Error() string {
	seq, _, group := SplitTag(e.Tag)
	return fmt.Sprintf("collective p2p %s peer=%d seq=%#x group=%d: %v", e.Kind, e.Peer, seq, group, e.Err)
}

// Unwrap exposes the io status and the underlying cause to errors.Is / errors.As.
func (e *TransferError) Unwrap() []error {
	return []error{status.IOError, e.Err}
}

// State aggregates the in-flight transfers of one op step. The first error
// wins; later completions are still counted.
type State struct {
	inflightSend int
	inflightRecv int
	err          error
}

// Reset clears counters and the recorded error.
func (s *State) Reset() {
	*s = State{}
}

// Pending is the number of outstanding transfers.
func (s *State) Pending() int {
	return s.inflightSend + s.inflightRecv
}

// Err is the first recorded failure.
func (s *State) Err() error {
	return s.err
}

func (s *State) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// result is nil when all transfers completed, the merged error once all
// transfers are done, status.InProgress otherwise.
func (s *State) result() error {
	if s.Pending() > 0 {
		return status.InProgress
	}
	return s.err
}
