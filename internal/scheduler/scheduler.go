package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ruralpay/ledgercore/internal/config"
	"go.uber.org/zap"
)

type HoldReleaser interface {
	ReleaseMaturedHolds(ctx context.Context, now time.Time) (int, error)
}

type InterestAccruer interface {
	AccrueInterest(ctx context.Context, now time.Time) (int, error)
}

type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// Jobs are the periodic ledger maintenance tasks.
type Jobs struct {
	Holds      HoldReleaser
	Interest   InterestAccruer
	Reconciler Reconciler
}

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron    *cron.Cron
	jobs    Jobs
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler registers every job whose spec is set. Specs carry a seconds
// field and are evaluated in loc.
func NewScheduler(cfg config.SchedulerConfig, loc *time.Location, jobs Jobs, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With(zap.String("component", "Scheduler"))
	cl := cronLogger{logger: logger.Sugar()}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:    jobs,
		logger:  logger,
		timeout: 10 * time.Minute,
		now:     time.Now,
	}

	register := []struct {
		name string
		spec string
		fn   func()
		ok   bool
	}{
		{"release_holds", cfg.ReleaseHolds, s.ReleaseHolds, jobs.Holds != nil},
		{"accrue_interest", cfg.AccrueInterest, s.AccrueInterest, jobs.Interest != nil},
		{"reconcile", cfg.Reconcile, s.Reconcile, jobs.Reconciler != nil},
	}
	for _, r := range register {
		if r.spec == "" || !r.ok {
			continue
		}
		if _, err := s.cron.AddFunc(r.spec, r.fn); err != nil {
			return nil, fmt.Errorf("failed to register %s job: %w", r.name, err)
		}
	}

	logger.Info("Cron jobs registered", zap.Int("jobs", len(s.cron.Entries())))
	return s, nil
}

func (s *Scheduler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// ReleaseHolds completes held deposits whose hold period has elapsed.
func (s *Scheduler) ReleaseHolds() {
	ctx, cancel := s.context()
	defer cancel()
	n, err := s.jobs.Holds.ReleaseMaturedHolds(ctx, s.now())
	s.report("release_holds", n, err)
}

// AccrueInterest credits daily interest to eligible accounts.
func (s *Scheduler) AccrueInterest() {
	ctx, cancel := s.context()
	defer cancel()
	n, err := s.jobs.Interest.AccrueInterest(ctx, s.now())
	s.report("accrue_interest", n, err)
}

// Reconcile recomputes every balance from the ledger.
func (s *Scheduler) Reconcile() {
	ctx, cancel := s.context()
	defer cancel()
	n, err := s.jobs.Reconciler.ReconcileAll(ctx)
	s.report("reconcile", n, err)
	if err == nil && n > 0 {
		s.logger.Warn("Balance drift corrected", zap.Int("accounts", n))
	}
}

func (s *Scheduler) report(job string, n int, err error) {
	if err != nil {
		s.logger.Error("Scheduled job failed", zap.String("job", job), zap.Int("processed", n), zap.Error(err))
		return
	}
	s.logger.Info("Scheduled job finished", zap.String("job", job), zap.Int("processed", n))
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
