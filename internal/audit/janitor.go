package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/pkg/logger"
)

const (
	defaultRetentionDays = 90
	defaultCleanupSpec   = "@daily"
)

// Janitor prunes aged decision records on a schedule.
type Janitor struct {
	recorder  *Recorder
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int
	schedule  string
}

// JanitorOption customises the Janitor.
type JanitorOption func(*Janitor)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) JanitorOption {
	return func(j *Janitor) {
		if c != nil {
			j.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling.
func WithNow(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// WithRetentionDays adjusts how long decision records are retained.
func WithRetentionDays(days int) JanitorOption {
	return func(j *Janitor) {
		if days > 0 {
			j.retention = days
		}
	}
}

// WithSchedule overrides the cron specification for cleanup runs.
func WithSchedule(spec string) JanitorOption {
	return func(j *Janitor) {
		if spec != "" {
			j.schedule = spec
		}
	}
}

// NewJanitor constructs a Janitor with sensible defaults.
func NewJanitor(recorder *Recorder, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		recorder:  recorder,
		now:       time.Now,
		retention: defaultRetentionDays,
		schedule:  defaultCleanupSpec,
		log:       logger.WithModule("audit.janitor"),
	}

	for _, opt := range opts {
		opt(j)
	}

	if j.cron == nil {
		j.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return j
}

// Start registers the cleanup job and launches the scheduler.
func (j *Janitor) Start() error {
	if j.recorder == nil || j.retention <= 0 {
		return nil
	}

	if _, err := j.cron.AddFunc(j.schedule, func() {
		if err := j.RunOnce(context.Background()); err != nil {
			j.log.Warn("decision record cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	j.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (j *Janitor) Stop() context.Context {
	if j.cron == nil {
		return context.Background()
	}
	return j.cron.Stop()
}

// RunOnce executes the cleanup routine immediately. Used by tests and during
// graceful shutdown.
func (j *Janitor) RunOnce(ctx context.Context) error {
	if j.recorder == nil || j.retention <= 0 {
		return nil
	}

	var errs error
	removed, err := j.recorder.CleanupOlderThan(ctx, j.retention)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if removed > 0 {
		j.log.Info("decision records pruned", zap.Int64("removed", removed))
	}
	return errs
}
