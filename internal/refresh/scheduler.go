package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is run on every scheduler tick
type Job func(ctx context.Context) error

// Scheduler runs a refresh job on a cron schedule. A run that would start
// while another is still going, from a tick or from RunNow, is skipped.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	job     Job
	timeout time.Duration
	logger  *zap.Logger
	running sync.Mutex
}

// cronLogger adapts zap to the cron.Logger interface
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler validates spec and prepares the scheduler. Each run gets a
// context that expires after timeout.
func NewScheduler(spec string, timeout time.Duration, job Job, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	cl := cronLogger{s: logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		cron:    c,
		spec:    spec,
		job:     job,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Start schedules the job and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("scheduling refresh: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Next returns when the job runs next, or zero before Start
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop stops scheduling; the returned context is done once a running job
// has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// RunNow runs the job immediately on the caller's goroutine. It reports
// false without running when a run is already in progress.
func (s *Scheduler) RunNow() bool {
	return s.run()
}

func (s *Scheduler) tick() {
	s.run()
}

func (s *Scheduler) run() bool {
	if !s.running.TryLock() {
		s.logger.Warn("refresh still running, skipping")
		return false
	}
	defer s.running.Unlock()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled refresh failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return true
	}
	s.logger.Info("scheduled refresh finished", zap.Duration("took", time.Since(start)))
	return true
}
