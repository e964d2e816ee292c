// Package queue implements the dispatch boundary between the routing engine
// and the notification processor: an in-process priority queue, a Redis
// backed queue for multi-instance deployments, and an enqueue-only SQS
// dispatcher consumed by the Lambda worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"hookrouter/internal/types"
)

var (
	// ErrNoHandler is returned by Start when RegisterHandler was never called.
	ErrNoHandler = errors.New("queue: no handler registered")

	// ErrNilMessage is returned by Enqueue for a nil message.
	ErrNilMessage = errors.New("queue: nil message")
)

// Retention limits for finished job records.
const (
	DefaultRetainCompleted = 100
	DefaultRetainFailed    = 50
)

// MaxRetryDelay caps the exponential backoff of plain handler errors.
const MaxRetryDelay = 5 * time.Minute

// Job is one queued message plus its scheduling state.
type Job struct {
	ID         string                     `json:"id"`
	Message    *types.NotificationMessage `json:"message"`
	Priority   int                        `json:"priority"`
	Attempts   int                        `json:"attempts"`
	EnqueuedAt time.Time                  `json:"enqueuedAt"`
	ReadyAt    time.Time                  `json:"readyAt,omitempty"`
	FinishedAt time.Time                  `json:"finishedAt,omitempty"`
	LastError  string                     `json:"lastError,omitempty"`

	seq   uint64
	index int
}

// RetryConfig is the deployment-wide retry policy for handler errors.
type RetryConfig struct {
	// Attempts is the total number of handler runs for plain errors.
	Attempts int
	// Delay is the backoff before the first retry; it doubles per attempt.
	Delay time.Duration
	// MaxDelay caps the backoff. Zero means MaxRetryDelay.
	MaxDelay time.Duration
}

// DefaultRetryConfig mirrors QUEUE_RETRY_ATTEMPTS and QUEUE_RETRY_DELAY
// defaults.
var DefaultRetryConfig = RetryConfig{Attempts: 3, Delay: 5 * time.Second, MaxDelay: MaxRetryDelay}

// Backoff reports whether a job that has run attempts times should run
// again after err, and after how long. A *types.RetryableError carries its
// own delay and is not limited by Attempts; the processor already applied
// the entry policy.
func (c RetryConfig) Backoff(attempts int, err error) (time.Duration, bool) {
	if re, ok := types.AsRetryable(err); ok {
		return max(re.Delay, 0), true
	}
	if attempts >= c.Attempts {
		return 0, false
	}
	limit := c.MaxDelay
	if limit <= 0 {
		limit = MaxRetryDelay
	}
	d := c.Delay
	for i := 1; i < attempts && d < limit; i++ {
		d *= 2
	}
	return min(d, limit), true
}

// Pruner trims retained job records. The scheduler calls it periodically.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// invoke runs handler, converting a panic into an error.
func invoke(ctx context.Context, handler types.MessageHandler, msg *types.NotificationMessage, logger types.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("queue handler panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// priorityScore orders waiting jobs: higher priority first, then FIFO.
func priorityScore(priority int, enqueuedAt time.Time) float64 {
	return float64(-priority)*1e13 + float64(enqueuedAt.UnixMilli())
}
