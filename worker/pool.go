// Package worker implements presence.AsyncTaskSubmitter: a bounded pool
// of fire-and-forget goroutines draining a task queue under an
// errgroup.Group, with a channerics ticker driving periodic queue-depth
// reporting. Grounded on the teacher corpus's fastview.client publisher,
// which pairs errgroup.WithContext with channerics.NewTicker for its
// ping/publish loops.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"

	"presencecore/logging"
)

// Task is fire-and-forget work submitted to the pool.
type Task func(ctx context.Context)

// Pool is a bounded worker pool: Submit never blocks the caller beyond
// the queue's buffer, and dropped tasks are logged rather than
// propagated, since callers treat submission as best-effort (spec.md
// §4.7 reprioritise/neighbour-push dispatch).
type Pool struct {
	queue   chan Task
	group   *errgroup.Group
	groupCtx context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	dropped   atomic.Int64
	completed atomic.Int64
}

// New starts a Pool with concurrency workers draining a queue of the
// given depth. Call Close to stop all workers and release resources.
func New(ctx context.Context, concurrency, queueDepth int) *Pool {
	groupCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(groupCtx)

	p := &Pool{
		queue:    make(chan Task, queueDepth),
		group:    group,
		groupCtx: groupCtx,
		cancel:   cancel,
	}

	for i := 0; i < concurrency; i++ {
		group.Go(func() error {
			p.drain(groupCtx)
			return nil
		})
	}

	return p
}

func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			task(ctx)
			p.completed.Add(1)
		}
	}
}

// Submit enqueues task for execution by one of the pool's workers. If
// the queue is full, the task is dropped and logged rather than
// blocking the caller — the scheduler's reprioritise/neighbour-push
// calls are periodic and a dropped attempt is superseded by the next
// tick (spec.md §4.7).
func (p *Pool) Submit(task func(ctx context.Context)) {
	p.submitted.Add(1)
	select {
	case p.queue <- task:
	default:
		p.dropped.Add(1)
		logging.Warn("presence worker pool queue full, dropping task", map[string]interface{}{
			"submitted": p.submitted.Load(),
			"dropped":   p.dropped.Load(),
		})
	}
}

// Stats is a point-in-time snapshot of the pool's counters.
type Stats struct {
	Submitted int64
	Dropped   int64
	Completed int64
	QueueLen  int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Completed: p.completed.Load(),
		QueueLen:  len(p.queue),
	}
}

// WatchStats runs until ctx is cancelled, invoking report at the given
// cadence with the pool's current Stats — used by the host process to
// feed collab.Scene.Stats (spec.md §4.1 "Stats reports a named
// counter/gauge").
func (p *Pool) WatchStats(ctx context.Context, period time.Duration, report func(Stats)) {
	ticks := channerics.NewTicker(ctx.Done(), period)
	for range ticks {
		report(p.Stats())
	}
}

// Close cancels all running workers, stops accepting new tasks, and
// waits for in-flight tasks to observe cancellation.
func (p *Pool) Close() {
	p.cancel()
	close(p.queue)
	_ = p.group.Wait()
}
