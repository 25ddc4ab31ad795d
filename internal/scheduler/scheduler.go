package scheduler

import (
	"context"
	"fmt"
	"time"

	"dunning-service/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type AutomaticRunner interface {
	RunAutomatic(ctx context.Context) (service.Summary, error)
}

// Scheduler triggers the automatic reminder run on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	runner  AutomaticRunner
	timeout time.Duration
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(runner AutomaticRunner, loc *time.Location, timeout time.Duration) *Scheduler {
	log := zap.L().Named("scheduler")
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = time.Hour
	}

	cronLogger := cronLog{log: log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		// a run still in progress swallows the next tick
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    c,
		runner:  runner,
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers the reminder run. It does not start the scheduler.
func (s *Scheduler) Schedule(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return fmt.Errorf("schedule reminder run %q: %w", schedule, err)
	}
	s.log.Info("scheduled automatic reminder run", zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels a running reminder run and waits for it to return.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	if _, err := s.runner.RunAutomatic(ctx); err != nil {
		s.log.Error("automatic reminder run failed", zap.Error(err))
	}
}

type cronLog struct {
	log *zap.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
