package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hookrouter/internal/types"
)

// Job names as they appear in logs.
const (
	JobQueueDepth = "queue_depth"
	JobPrune      = "prune"
	JobRuleReload = "rule_reload"
)

// QueueStatusReader reports queue counters.
type QueueStatusReader interface {
	Status(ctx context.Context) (types.QueueStatus, error)
}

// QueuePruner trims retained job records.
type QueuePruner interface {
	Prune(ctx context.Context) (int, error)
}

// StatusPruner removes terminal message statuses older than a cutoff.
// Implemented by the in-memory tracker and the Postgres repository.
type StatusPruner interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RuleReloader re-reads a rule source, reporting whether the set changed.
type RuleReloader interface {
	Reload(ctx context.Context) (bool, error)
}

// Schedules holds the cron spec of each maintenance job. Empty disables.
type Schedules struct {
	QueueDepth string
	Prune      string
	RuleReload string
}

// Maintenance bundles the periodic jobs. Any dependency may be nil; the jobs
// that need it are then not registered.
type Maintenance struct {
	Queue     QueueStatusReader
	Metrics   types.MetricsRecorder
	Pruner    QueuePruner
	Statuses  StatusPruner
	Retention time.Duration
	Rules     RuleReloader
	Clock     types.Clock
	Logger    types.Logger
}

// Register adds every job whose dependencies are present to s.
func (m *Maintenance) Register(s *Scheduler, specs Schedules) error {
	if m.Queue != nil && m.Metrics != nil {
		if err := s.Add(JobQueueDepth, specs.QueueDepth, 10*time.Second, m.ReportQueueDepth); err != nil {
			return err
		}
	}
	if m.Pruner != nil || m.Statuses != nil {
		if err := s.Add(JobPrune, specs.Prune, time.Minute, m.Prune); err != nil {
			return err
		}
	}
	if m.Rules != nil {
		if err := s.Add(JobRuleReload, specs.RuleReload, 30*time.Second, m.ReloadRules); err != nil {
			return err
		}
	}
	return nil
}

// ReportQueueDepth publishes the current queue counters as gauges.
func (m *Maintenance) ReportQueueDepth(ctx context.Context) error {
	st, err := m.Queue.Status(ctx)
	if err != nil {
		return fmt.Errorf("queue status: %w", err)
	}
	m.Metrics.QueueDepth(ctx, st)
	return nil
}

// Prune trims the queue's retained jobs and then drops terminal statuses
// older than Retention. Both halves run even if the first fails.
func (m *Maintenance) Prune(ctx context.Context) error {
	var errs []error
	if m.Pruner != nil {
		n, err := m.Pruner.Prune(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune queue: %w", err))
		} else if n > 0 {
			m.Logger.Info("pruned retained jobs", "count", n)
		}
	}
	if m.Statuses != nil && m.Retention > 0 {
		cutoff := m.now().Add(-m.Retention)
		n, err := m.Statuses.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune statuses: %w", err))
		} else if n > 0 {
			m.Logger.Info("pruned message statuses", "count", n, "cutoff", cutoff.Format(time.RFC3339))
		}
	}
	return errors.Join(errs...)
}

// ReloadRules re-reads the rule file. The file watcher normally catches
// edits first; this covers missed events on network filesystems.
func (m *Maintenance) ReloadRules(ctx context.Context) error {
	changed, err := m.Rules.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}
	if changed {
		m.Logger.Info("rules reloaded by schedule")
	}
	return nil
}

func (m *Maintenance) now() time.Time {
	if m.Clock == nil {
		return time.Now().UTC()
	}
	return m.Clock.Now()
}
