package scanner

import "context"

// Pool runs scans from a wrapped Invoker on at most size concurrent
// goroutines. Callers block on a result channel, never on the process.
type Pool struct {
	inner Invoker
	slots chan struct{}
}

// NewPool bounds inner to size concurrent scans. size < 1 is treated as 1.
func NewPool(inner Invoker, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{inner: inner, slots: make(chan struct{}, size)}
}

type scanOutcome struct {
	res Result
	err error
}

// Scan waits for a free slot, then runs the scan on a worker goroutine. A
// caller cancelled while queued returns without starting a scan; once
// started, the inner invoker is responsible for stopping the process and
// Scan returns only after it has exited.
func (p *Pool) Scan(ctx context.Context, req Request) (Result, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return Result{ExitCode: -1}, ctx.Err()
	}

	done := make(chan scanOutcome, 1)
	go func() {
		defer func() { <-p.slots }()
		res, err := p.inner.Scan(ctx, req)
		done <- scanOutcome{res: res, err: err}
	}()

	out := <-done
	return out.res, out.err
}

// InFlight reports how many scans currently hold a slot.
func (p *Pool) InFlight() int { return len(p.slots) }
