// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TheEverestLab/coesg-data/internal/logger"
)

// ErrBusy is returned by RunNow while another run is in progress.
var ErrBusy = errors.New("a run is already in progress")

// RunFunc performs one complete run.
type RunFunc func(ctx context.Context) error

type Config struct {
	// Spec is a standard five-field cron expression or an @-descriptor.
	Spec       string
	RunOnStart bool
	// RunTimeout bounds a single scheduled run.
	RunTimeout time.Duration
}

type Scheduler struct {
	run RunFunc
	cfg Config
	log *logger.Logger

	busy sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func New(log *logger.Logger, run RunFunc, cfg Config) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = "0 */6 * * *"
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	return &Scheduler{run: run, cfg: cfg, log: log.With("component", "scheduler")}, nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("Already running")
		return nil
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cfg.Spec, s.scheduledRun); err != nil {
		return fmt.Errorf("add schedule: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.running = true
	c.Start()

	if s.cfg.RunOnStart {
		go s.scheduledRun()
	}

	s.log.Info("Started", "schedule", s.cfg.Spec, "next", c.Entries()[0].Next)
	return nil
}

// Stop cancels the in-flight run, if any, and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.cron.Stop()
	s.mu.Unlock()

	<-done.Done()
	// RunOnStart runs outside cron; wait for it too.
	s.busy.Lock()
	s.busy.Unlock()
	s.log.Info("Stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers a run outside the schedule. It does not wait for a
// scheduled run to finish; it returns ErrBusy instead.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.log.Info("Manual run triggered")
	return s.exec(ctx)
}

func (s *Scheduler) scheduledRun() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()
	if err := s.exec(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			s.log.Warn("Skipping scheduled run, previous run still in progress")
			return
		}
		s.log.Error("Scheduled run failed", "error", err)
	}
}

func (s *Scheduler) exec(ctx context.Context) error {
	if !s.busy.TryLock() {
		return ErrBusy
	}
	defer s.busy.Unlock()
	return s.run(ctx)
}

// cronLogger adapts the zap wrapper to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
