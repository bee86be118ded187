// Package queue decouples webhook acknowledgment from event processing: the
// gateway enqueues a unit of work and returns immediately; workers run it on
// their own schedule. Enqueue never blocks — a full queue drops the job,
// which matches the platform's best-effort redelivery contract.
package queue

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of background work.
type Job func(ctx context.Context)

// Queue is a bounded job queue with a fixed worker pool.
type Queue struct {
	jobs    chan Job
	workers int
	dropped atomic.Int64
}

// New creates a queue holding up to size pending jobs, served by workers goroutines.
func New(size, workers int) *Queue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		jobs:    make(chan Job, size),
		workers: workers,
	}
}

// Enqueue schedules a job. It never blocks: when the queue is full the job
// is dropped and false is returned.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		n := q.dropped.Add(1)
		slog.Warn("work queue full, dropping job", "dropped_total", n)
		return false
	}
}

// Dropped returns the number of jobs dropped since startup.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Run serves jobs until ctx is cancelled, then drains whatever is already
// queued and returns. Panics in jobs are contained per run: a failed event
// must never take the process down.
func (q *Queue) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					q.drain()
					return nil
				case job := <-q.jobs:
					q.runJob(ctx, job)
				}
			}
		})
	}
	return g.Wait()
}

// drain runs the jobs still queued at shutdown, without blocking for new ones.
func (q *Queue) drain() {
	for {
		select {
		case job := <-q.jobs:
			q.runJob(context.Background(), job)
		default:
			return
		}
	}
}

func (q *Queue) runJob(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("work queue job panicked", "panic", r)
		}
	}()
	job(ctx)
}
