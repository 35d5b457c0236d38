// Package scheduler triggers periodic jobs from cron specs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"linkrelay/internal/eventbus"
	"linkrelay/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string
}

// Job is one registered cron job. Runs never overlap; a tick that finds the
// previous run still going is skipped.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	loc    *time.Location
	jobs   map[string]*entry
}

type entry struct {
	job     Job
	id      cron.EntryID
	running atomic.Bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]*entry{},
	}
}

// ValidateSpec reports whether spec parses with the service's parser.
func (s *Service) ValidateSpec(spec string) error {
	_, err := s.parser.Parse(strings.TrimSpace(spec))
	return err
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Add registers or replaces a job. When the service is running the job is scheduled immediately.
func (s *Service) Add(j Job) error {
	if strings.TrimSpace(j.Name) == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a func")
	}
	j.Spec = strings.TrimSpace(j.Spec)
	if err := s.ValidateSpec(j.Spec); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", j.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[j.Name]; ok && s.c != nil {
		s.c.Remove(old.id)
	}
	e := &entry{job: j}
	s.jobs[j.Name] = e
	if s.c != nil {
		return s.scheduleLocked(e)
	}
	return nil
}

// Remove unregisters a job. It reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.jobs, name)
	return true
}

// Apply updates the config. A timezone change restarts cron with every job re-registered.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		s.restartLocked()
	}
}

// Start begins triggering. Job contexts derive from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.loc = loadLocation(s.cfg.Timezone)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.jobs {
		if err := s.scheduleLocked(e); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", e.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	old := s.c
	s.startLocked()
	if old != nil {
		old.Stop()
	}
	s.log.Info("cron restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) scheduleLocked(e *entry) error {
	id, err := s.c.AddFunc(e.job.Spec, func() { s.run(e) })
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

func (s *Service) run(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.log.Debug("job skipped; previous run still active", logx.String("job", e.job.Name))
		return
	}
	defer e.running.Store(false)

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, e.job.Run)
	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed", logx.String("job", e.job.Name), logx.Duration("dur", dur), logx.Err(err))
	} else {
		s.log.Debug("job done", logx.String("job", e.job.Name), logx.Duration("dur", dur))
	}
	eventbus.Emit(s.bus, "scheduler.run", "job", e.job.Name, "ok", err == nil, "dur_ms", dur.Milliseconds())
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// RunNow executes a registered job synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	s.run(e)
	return nil
}

// Next returns the next activation of a running job.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok || s.c == nil {
		return time.Time{}, false
	}
	next := s.c.Entry(e.id).Next
	return next, !next.IsZero()
}

// Stop halts triggering and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
