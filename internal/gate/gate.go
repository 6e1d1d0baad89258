// Package gate serializes outbound LLM calls through a single in-flight
// slot with a priority queue and a cooldown between dispatches, per
// spec.md §4.E. No teacher package covers this directly — the teacher's
// gateway/scheduler surface was multi-tenant channel routing, not a
// single-process call gate — so this is authored from the call-site
// contract alone, using golang.org/x/time/rate for the cooldown the way
// the rest of the pack reaches for it for outbound-request pacing.
package gate

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Priority orders pending requests; lower values run first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// ErrAborted is returned to a caller whose request was drained before it
// reached the front of the queue, and wraps the context error when the
// caller's context is cancelled while its request waits or runs.
var ErrAborted = errors.New("API_ABORTED")

type request struct {
	priority Priority
	seq      uint64 // FIFO tiebreaker within a priority tier
	run      func(ctx context.Context) (interface{}, error)
	result   chan outcome
	ctx      context.Context
}

type outcome struct {
	value interface{}
	err   error
}

// pqueue is a container/heap priority queue ordered by (priority, seq).
type pqueue []*request

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q pqueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x interface{}) { *q = append(*q, x.(*request)) }
func (q *pqueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Gate serializes calls into a single in-flight slot, admitting the
// highest-priority, then oldest, pending request once the previous call
// finishes and the cooldown limiter allows it.
type Gate struct {
	mu      sync.Mutex
	queue   pqueue
	nextSeq uint64
	wake    chan struct{}
	limiter *rate.Limiter
	closed  bool
}

// New builds a gate with a cooldown between dispatches (spec.md §4.E's
// 500-800ms window between consecutive LLM calls).
func New(cooldown rate.Limit, burst int) *Gate {
	g := &Gate{
		wake:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(cooldown, burst),
	}
	go g.loop()
	return g
}

// Submit enqueues fn at the given priority and blocks until it runs (or the
// gate is drained/the caller's context is cancelled).
func (g *Gate) Submit(ctx context.Context, priority Priority, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	req := &request{priority: priority, run: fn, result: make(chan outcome, 1), ctx: ctx}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrAborted
	}
	req.seq = g.nextSeq
	g.nextSeq++
	heap.Push(&g.queue, req)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-req.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}
}

// Drain cancels every pending (not yet dispatched) request with
// ErrAborted and stops accepting new submissions.
func (g *Gate) Drain() {
	g.mu.Lock()
	g.closed = true
	pending := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, req := range pending {
		req.result <- outcome{err: ErrAborted}
	}
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Gate) loop() {
	for range g.wake {
		for {
			g.mu.Lock()
			if len(g.queue) == 0 {
				g.mu.Unlock()
				break
			}
			req := heap.Pop(&g.queue).(*request)
			g.mu.Unlock()

			if err := g.limiter.Wait(req.ctx); err != nil {
				req.result <- outcome{err: err}
				continue
			}

			value, err := req.run(req.ctx)
			req.result <- outcome{value: value, err: err}
		}
	}
}
