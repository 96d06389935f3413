package manager

import (
	"context"
	"sync"
	"time"
)

// gate admits one generation at a time with a bounded FIFO-ish queue.
type gate struct {
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots, held by waiting and running requests
	maxWait time.Duration
}

func newGate(maxQueueDepth int, maxWait time.Duration) *gate {
	return &gate{
		genCh:   make(chan struct{}, 1),
		queueCh: make(chan struct{}, maxQueueDepth),
		maxWait: maxWait,
	}
}

// begin reserves a queue slot and then the single in-flight slot, waiting at
// most maxWait for each. Returns a release func to be deferred.
func (g *gate) begin(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, newFailure(KindCanceled, err)
	}
	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()
	select {
	case g.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, newFailure(KindCanceled, ctx.Err())
	case <-timer.C:
		return func() {}, newFailure(KindBusy, nil)
	}

	acquired := false
	defer func() {
		if !acquired {
			<-g.queueCh
		}
	}()
	timer2 := time.NewTimer(g.maxWait)
	defer timer2.Stop()
	select {
	case g.genCh <- struct{}{}:
		acquired = true
		return g.releaser(), nil
	case <-ctx.Done():
		return func() {}, newFailure(KindCanceled, ctx.Err())
	case <-timer2.C:
		return func() {}, newFailure(KindBusy, nil)
	}
}

// tryBegin takes the in-flight slot without waiting.
func (g *gate) tryBegin() (func(), bool) {
	select {
	case g.queueCh <- struct{}{}:
	default:
		return nil, false
	}
	select {
	case g.genCh <- struct{}{}:
		return g.releaser(), true
	default:
		<-g.queueCh
		return nil, false
	}
}

func (g *gate) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-g.genCh; <-g.queueCh })
	}
}

func (g *gate) inflight() int { return len(g.genCh) }

func (g *gate) queued() int {
	if n := len(g.queueCh) - len(g.genCh); n > 0 {
		return n
	}
	return 0
}
