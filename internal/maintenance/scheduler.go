// Package maintenance runs periodic housekeeping jobs on cron schedules.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

// Job is a named unit of housekeeping
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Validate checks the job definition
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Run == nil {
		return fmt.Errorf("job %s has no run function", j.Name)
	}
	if _, err := ParseCron(j.Cron); err != nil {
		return fmt.Errorf("job %s: invalid cron expression: %w", j.Name, err)
	}
	return nil
}

// ParseCron parses a standard 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type jobState struct {
	job      Job
	schedule cron.Schedule
	lastRun  time.Time
	running  bool
}

// Scheduler fires jobs whose schedule has elapsed. A job never overlaps itself.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*jobState
	started time.Time
	tick    time.Duration
	now     func() time.Time
	log     *logger.Logger
	wg      sync.WaitGroup
}

// NewScheduler validates the jobs and returns an idle scheduler
func NewScheduler(jobs []Job, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Default()
	}
	s := &Scheduler{
		jobs: make(map[string]*jobState),
		tick: time.Minute,
		now:  time.Now,
		log:  log.WithComponent("maintenance"),
	}
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return nil, err
		}
		sched, _ := ParseCron(j.Cron)
		s.jobs[j.Name] = &jobState{job: j, schedule: sched}
	}
	s.started = s.now()
	return s, nil
}

// Jobs returns the job names in sorted order
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns when the job fires next, zero for an unknown job
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.jobs[name]
	if !ok {
		return time.Time{}
	}
	return st.schedule.Next(s.since(st))
}

// LastRun returns when the job last completed
func (s *Scheduler) LastRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.jobs[name]; ok {
		return st.lastRun
	}
	return time.Time{}
}

// since is the reference point for the next firing: last run, or scheduler start
func (s *Scheduler) since(st *jobState) time.Time {
	if st.lastRun.IsZero() {
		return s.started
	}
	return st.lastRun
}

// ShouldRun reports whether the job is due and not already running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.jobs[name]
	if !ok || st.running {
		return false
	}
	return !s.now().Before(st.schedule.Next(s.since(st)))
}

// RunNow executes a job synchronously, skipping it if it is already running
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown job %q", name)
	}
	if st.running {
		s.mu.Unlock()
		return nil
	}
	st.running = true
	s.mu.Unlock()

	start := s.now()
	err := st.job.Run(ctx)

	s.mu.Lock()
	st.running = false
	st.lastRun = s.now()
	s.mu.Unlock()

	log := s.log.WithFields(zap.String("job", name), zap.Duration("took", s.now().Sub(start)))
	if err != nil {
		log.Warn("maintenance job failed", zap.Error(err))
		return err
	}
	log.Info("maintenance job finished")
	return nil
}

// Start checks for due jobs every tick until ctx is cancelled, then waits for running jobs
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			for _, name := range s.Jobs() {
				if !s.ShouldRun(name) {
					continue
				}
				s.wg.Add(1)
				go func(name string) {
					defer s.wg.Done()
					_ = s.RunNow(ctx, name)
				}(name)
			}
		}
	}
}
