package environment

import (
	"context"
	"errors"
)

// ErrPending is returned by Future.Result before the future settles.
var ErrPending = errors.New("environment: result pending")

// State of a Future.
type State int

const (
	Pending State = iota
	Resolved
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Future is the result of Load. Hosts that cannot block poll State or
// select on Done; others call Wait.
type Future struct {
	done chan struct{}
	res  *Result
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func resolvedFuture(res *Result) *Future {
	f := newFuture()
	f.settle(res, nil)
	return f
}

func (f *Future) settle(res *Result, err error) {
	f.res, f.err = res, err
	close(f.done)
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) State() State {
	select {
	case <-f.done:
		if f.err != nil {
			return Rejected
		}
		return Resolved
	default:
		return Pending
	}
}

// Result returns the settled value without blocking.
func (f *Future) Result() (*Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	default:
		return nil, ErrPending
	}
}

// Wait blocks until the future settles or ctx is done. Giving up on a
// future does not stop the request behind it.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
