package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rocketbitz/collective/plan"
)

// Request tracks a collective started with Engine.Start.
type Request struct {
	plan *plan.Plan
	done chan struct{}

	mu        sync.Mutex
	completed bool
	err       error
	callbacks []func(error)
}

func newRequest(p *plan.Plan) *Request {
	return &Request{plan: p, done: make(chan struct{})}
}

func (r *Request) complete(err error) {
	r.mu.Lock()
	r.err = err
	r.completed = true
	callbacks := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()
	close(r.done)
	for _, cb := range callbacks {
		go cb(err)
	}
}

func (r *Request) result() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Plan is the plan being driven.
func (r *Request) Plan() *plan.Plan {
	if r == nil {
		return nil
	}
	return r.plan
}

// Await blocks until the collective finishes or ctx is done.
func (r *Request) Await(ctx context.Context) error {
	if r == nil {
		return errors.New("collective engine: nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		select {
		case <-r.done:
			return r.result()
		default:
		}
		return ctx.Err()
	case <-r.done:
		return r.result()
	}
}

// Done exposes a channel that closes when the collective finishes.
func (r *Request) Done() <-chan struct{} {
	if r == nil {
		return nil
	}
	return r.done
}

// OnComplete registers fn to run on its own goroutine once the collective
// finishes.
func (r *Request) OnComplete(fn func(error)) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	if r.completed {
		err := r.err
		r.mu.Unlock()
		go fn(err)
		return
	}
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}
