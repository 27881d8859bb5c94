package session

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Janitor periodically sweeps idle sessions out of a Store.
type Janitor struct {
	store     *Store
	maxIdle   time.Duration
	interval  time.Duration
	logger    *zap.Logger
	scheduler gocron.Scheduler
}

// NewJanitor creates a janitor that removes sessions idle for longer than
// maxIdle every interval.
func NewJanitor(store *Store, maxIdle, interval time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		store:    store,
		maxIdle:  maxIdle,
		interval: interval,
		logger:   logger,
	}
}

// Start sweeps once immediately and then schedules periodic sweeps.
func (j *Janitor) Start() error {
	j.Run()

	s, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}
	_, err = s.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(j.Run),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return errors.Wrap(err, "schedule session sweep")
	}
	s.Start()
	j.scheduler = s

	j.logger.Info("session janitor started",
		zap.Duration("max_idle", j.maxIdle),
		zap.Duration("interval", j.interval))
	return nil
}

// Run performs a single sweep and logs the outcome.
func (j *Janitor) Run() {
	removed, err := j.store.Sweep(j.maxIdle)
	if err != nil {
		j.logger.Warn("session sweep incomplete", zap.Error(err))
	}
	if len(removed) > 0 {
		j.logger.Info("expired sessions removed",
			zap.Int("count", len(removed)),
			zap.Strings("sessions", removed))
	}
}

// Stop shuts down the scheduler.
func (j *Janitor) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	return j.scheduler.Shutdown()
}
