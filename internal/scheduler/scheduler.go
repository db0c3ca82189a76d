// Package scheduler triggers dispatch runs from inside the process on a
// fixed interval, for deployments without an external cron caller.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/logger"
)

// Job is one unit of work run on every tick, such as draining one channel.
type Job struct {
	Name string
	Run  func(context.Context) error
}

type Status struct {
	Running    bool              `json:"running"`
	Interval   string            `json:"interval"`
	Ticks      int64             `json:"ticks"`
	LastTickAt *time.Time        `json:"lastTickAt,omitempty"`
	LastErrors map[string]string `json:"lastErrors,omitempty"`
}

type Scheduler struct {
	interval    time.Duration
	tickTimeout time.Duration
	jobs        []Job

	running atomic.Bool
	ticks   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statusMu   sync.Mutex
	lastTickAt time.Time
	lastErrors map[string]string
}

func New(interval time.Duration, jobs ...Job) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if len(jobs) == 0 {
		return nil, errors.New("at least one job is required")
	}
	for i, j := range jobs {
		if j.Run == nil {
			return nil, fmt.Errorf("job %d (%q): run func must not be nil", i, j.Name)
		}
	}
	return &Scheduler{
		interval: interval,
		jobs:     jobs,
		done:     make(chan struct{}),
	}, nil
}

// WithTickTimeout bounds each tick. Jobs still running at the deadline see
// their context cancelled.
func (s *Scheduler) WithTickTimeout(d time.Duration) *Scheduler {
	if d > 0 {
		s.tickTimeout = d
	}
	return s
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log := logger.From(ctx)
		log.Info("scheduler started", "interval", s.interval.String(), "jobs", len(s.jobs))

		s.tick(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the running tick, waits for it to return and reports
// whether the scheduler was running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	logger.From(context.Background()).Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := Status{
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Ticks:    s.ticks.Load(),
	}
	if !s.lastTickAt.IsZero() {
		at := s.lastTickAt
		st.LastTickAt = &at
	}
	if len(s.lastErrors) > 0 {
		st.LastErrors = make(map[string]string, len(s.lastErrors))
		for k, v := range s.lastErrors {
			st.LastErrors[k] = v
		}
	}
	return st
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
		defer cancel()
	}

	start := time.Now()
	errs := make(map[string]string)
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		if err := s.runJob(ctx, j); err != nil {
			errs[j.Name] = err.Error()
		}
	}

	s.ticks.Add(1)
	s.statusMu.Lock()
	s.lastTickAt = start.UTC()
	s.lastErrors = errs
	s.statusMu.Unlock()

	logger.From(ctx).Info("scheduler tick completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"failed_jobs", len(errs),
	)
}

// runJob isolates a panicking job so the remaining jobs of the tick still run.
func (s *Scheduler) runJob(ctx context.Context, j Job) (err error) {
	log := logger.From(ctx).With("job", j.Name)
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduler job panic recovered", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err = j.Run(ctx); err != nil {
		log.Error("scheduler job failed", "error", err)
	}
	return err
}
