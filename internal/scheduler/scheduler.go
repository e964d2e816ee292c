// Package scheduler runs the periodic maintenance jobs of the router on a
// cron schedule: queue depth reporting, queue and status pruning, and the
// rule file reload safety net.
//
// Jobs never overlap with themselves and a panicking job is recovered and
// logged. Each run gets its own timeout derived from the scheduler's run
// context, so cancelling Run cancels in-flight jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hookrouter/internal/types"
)

// DefaultJobTimeout bounds a job run when Add is given a non-positive timeout.
const DefaultJobTimeout = 30 * time.Second

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	timeout time.Duration
	fn      JobFunc
	entryID cron.EntryID
}

// Scheduler wraps a cron instance whose jobs receive a cancellable context.
type Scheduler struct {
	mu     sync.Mutex
	c      *cron.Cron
	parser cron.Parser
	jobs   map[string]*job
	runCtx context.Context
	logger types.Logger
	clock  types.Clock
}

// New creates a scheduler. Schedules are evaluated in UTC.
func New(logger types.Logger, clock types.Clock) *Scheduler {
	if clock == nil {
		clock = types.RealClock{}
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	adapter := cronLogger{logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	return &Scheduler{
		c:      c,
		parser: parser,
		jobs:   make(map[string]*job),
		runCtx: context.Background(),
		logger: logger,
		clock:  clock,
	}
}

// Add registers fn under name. An empty spec disables the job and is not an
// error; an unparseable spec is.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	if spec == "" {
		s.logger.Info("scheduled job disabled", "job", name)
		return nil
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: spec, timeout: timeout, fn: fn}
	id, err := s.c.AddFunc(spec, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	j.entryID = id
	s.jobs[name] = j
	return nil
}

// Jobs returns the registered job names with their next fire time. The time
// is zero until Run has started the scheduler.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = s.c.Entry(j.entryID).Next
	}
	return out
}

// RunNow executes the named job once, synchronously, outside the schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.run(j)
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.c.Start()
	s.logger.Info("scheduler started", "jobs", n)
	<-ctx.Done()
	<-s.c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) run(j *job) error {
	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()

	start := s.clock.Now()
	err := j.fn(ctx)
	took := s.clock.Now().Sub(start)
	if err != nil {
		s.logger.Error("scheduled job failed", "job", j.name, "duration", took.String(), "error", err.Error())
		return err
	}
	s.logger.Debug("scheduled job finished", "job", j.name, "duration", took.String())
	return nil
}

// cronLogger adapts types.Logger to cron.Logger.
type cronLogger struct {
	l types.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", fmt.Sprint(err))...)
}
