package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hookrouter/internal/types"
)

var _ types.Queue = (*MemoryQueue)(nil)

// readyHeap pops the highest priority first, then the lowest sequence.
type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x any) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}

// delayHeap pops the earliest ReadyAt first.
type delayHeap []*Job

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].ReadyAt.Before(h[j].ReadyAt) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)        { *h = append(*h, x.(*Job)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// MemoryQueue is an in-process priority queue with scheduled retries.
// Jobs are lost on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   readyHeap
	delayed delayHeap
	wake    chan struct{}
	seq     uint64

	handler     types.MessageHandler
	concurrency int

	active    int64
	completed int64
	failed    int64

	doneJobs   []*Job
	failedJobs []*Job

	retry           RetryConfig
	retainCompleted int
	retainFailed    int
	clock           types.Clock
	logger          types.Logger
}

// MemoryOption customizes a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithRetention sets how many finished job records Prune keeps.
func WithRetention(completed, failed int) MemoryOption {
	return func(q *MemoryQueue) {
		q.retainCompleted = completed
		q.retainFailed = failed
	}
}

// WithClock overrides the clock used for retry scheduling.
func WithClock(c types.Clock) MemoryOption {
	return func(q *MemoryQueue) { q.clock = c }
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(retry RetryConfig, logger types.Logger, opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		wake:            make(chan struct{}),
		concurrency:     1,
		retry:           retry,
		retainCompleted: DefaultRetainCompleted,
		retainFailed:    DefaultRetainFailed,
		clock:           types.RealClock{},
		logger:          logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// broadcastLocked wakes every idle worker.
func (q *MemoryQueue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Enqueue adds msg with the given priority and returns the job ID.
func (q *MemoryQueue) Enqueue(_ context.Context, msg *types.NotificationMessage, priority int) (string, error) {
	if msg == nil {
		return "", ErrNilMessage
	}
	job := &Job{
		ID:         uuid.NewString(),
		Message:    msg,
		Priority:   priority,
		EnqueuedAt: q.clock.Now(),
	}

	q.mu.Lock()
	q.seq++
	job.seq = q.seq
	heap.Push(&q.ready, job)
	q.broadcastLocked()
	q.mu.Unlock()

	q.logger.Debug("job enqueued", "job_id", job.ID, "message_id", msg.ID, "priority", priority)
	return job.ID, nil
}

// RegisterHandler installs the handler and worker count used by Start.
func (q *MemoryQueue) RegisterHandler(handler types.MessageHandler, concurrency int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
	q.concurrency = max(concurrency, 1)
}

// Start runs the workers until ctx is cancelled. In-flight handlers see the
// cancelled context and their jobs are finished normally.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	handler, n := q.handler, q.concurrency
	q.mu.Unlock()
	if handler == nil {
		return ErrNoHandler
	}

	q.logger.Info("memory queue started", "workers", n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				job, err := q.next(gctx)
				if err != nil {
					return nil
				}
				q.finish(job, invoke(gctx, handler, job.Message, q.logger))
			}
		})
	}
	return g.Wait()
}

// promoteLocked moves due delayed jobs to the ready heap.
func (q *MemoryQueue) promoteLocked(now time.Time) {
	for q.delayed.Len() > 0 && !q.delayed[0].ReadyAt.After(now) {
		job := heap.Pop(&q.delayed).(*Job)
		q.seq++
		job.seq = q.seq
		heap.Push(&q.ready, job)
	}
}

// next blocks until a job is ready or ctx is done.
func (q *MemoryQueue) next(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		q.promoteLocked(q.clock.Now())
		if q.ready.Len() > 0 {
			job := heap.Pop(&q.ready).(*Job)
			job.Attempts++
			q.active++
			q.mu.Unlock()
			return job, nil
		}
		wake := q.wake
		var timer *time.Timer
		var due <-chan time.Time
		if q.delayed.Len() > 0 {
			timer = time.NewTimer(q.delayed[0].ReadyAt.Sub(q.clock.Now()))
			due = timer.C
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-wake:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// finish records the outcome and schedules a retry when allowed.
func (q *MemoryQueue) finish(job *Job, err error) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--

	if err == nil {
		q.completed++
		job.FinishedAt = now
		job.LastError = ""
		q.doneJobs = append(q.doneJobs, job)
		return
	}

	job.LastError = err.Error()
	if delay, ok := q.retry.Backoff(job.Attempts, err); ok {
		job.ReadyAt = now.Add(delay)
		heap.Push(&q.delayed, job)
		q.broadcastLocked()
		q.logger.Info("job scheduled for retry", "job_id", job.ID, "attempts", job.Attempts, "delay", delay.String(), "error", err.Error())
		return
	}

	q.failed++
	job.FinishedAt = now
	q.failedJobs = append(q.failedJobs, job)
	q.logger.Warn("job failed permanently", "job_id", job.ID, "attempts", job.Attempts, "error", err.Error())
}

// Status returns current job counts. Completed and Failed are totals since
// the queue was created.
func (q *MemoryQueue) Status(context.Context) (types.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return types.QueueStatus{
		Waiting:   int64(q.ready.Len()),
		Active:    q.active,
		Completed: q.completed,
		Failed:    q.failed,
		Delayed:   int64(q.delayed.Len()),
	}, nil
}

// Prune drops the oldest finished job records beyond the retention limits
// and returns how many were removed.
func (q *MemoryQueue) Prune(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed int
	q.doneJobs, removed = keepLast(q.doneJobs, q.retainCompleted)
	var n int
	q.failedJobs, n = keepLast(q.failedJobs, q.retainFailed)
	return removed + n, nil
}

// Failed returns the retained permanently failed jobs, oldest first.
func (q *MemoryQueue) Failed() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.failedJobs))
	for i, j := range q.failedJobs {
		out[i] = *j
	}
	return out
}

func keepLast(jobs []*Job, n int) ([]*Job, int) {
	if len(jobs) <= n {
		return jobs, 0
	}
	drop := len(jobs) - n
	kept := make([]*Job, n)
	copy(kept, jobs[drop:])
	return kept, drop
}
