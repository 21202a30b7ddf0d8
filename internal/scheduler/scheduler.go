// Package scheduler triggers periodic jobs on top of robfig/cron.
//
// Each trigger runs in its own goroutine, so a slow job never delays the next
// trigger. Jobs that must not overlap guard themselves.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "shopwatch/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Timezone string // IANA name; empty means local time
}

// Job is a scheduled function. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

type entry struct {
	name string
	spec ParsedSpec
	job  Job
	id   cron.EntryID
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, entries: map[string]*entry{}}
}

// Add registers (or replaces) the job called name. Adding after Start schedules
// it immediately.
func (s *Service) Add(name, rawSpec string, job Job) error {
	spec, err := ParseSchedule(rawSpec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.entries[name]; old != nil && s.c != nil {
		s.c.Remove(old.id)
	}
	e := &entry{name: name, spec: spec, job: job}
	s.entries[name] = e
	if s.c != nil {
		return s.scheduleLocked(e)
	}
	return nil
}

// Reschedule changes the schedule of an existing job. It is a no-op when the
// normalized schedule did not change.
func (s *Service) Reschedule(name, rawSpec string) error {
	spec, err := ParseSchedule(rawSpec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[name]
	if e == nil {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	if e.spec.String() == spec.String() {
		return nil
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	e.spec = spec
	if s.c != nil {
		if err := s.scheduleLocked(e); err != nil {
			return err
		}
	}
	s.log.Info("job rescheduled", logx.String("job", name), logx.String("schedule", spec.String()))
	return nil
}

// Start begins triggering. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc, err := s.location()
	if err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	for _, e := range s.entries {
		if err := s.scheduleLocked(e); err != nil {
			return err
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.entries)), logx.String("tz", loc.String()))
	return nil
}

// Stop halts triggering, cancels running jobs' context and waits for them or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for running jobs")
	}
	s.log.Info("scheduler stopped")
}

// RunNow triggers name once in its own goroutine, outside the schedule.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	e, ctx := s.entries[name], s.ctx
	s.mu.Unlock()
	if e == nil || ctx == nil {
		return false
	}
	go cron.NewChain(cron.Recover(cronLogger{s.log})).Then(wrap(ctx, e.job)).Run()
	return true
}

// Next reports the next trigger time of name (zero when not scheduled).
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[name]
	if e == nil || s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(e.id).Next
}

// Check parses rawSpec and, for cron expressions, makes sure it fires at least
// once from now in the scheduler's timezone.
func (s *Service) Check(rawSpec string) error {
	spec, err := ParseSchedule(rawSpec)
	if err != nil {
		return err
	}
	if spec.Kind == SpecInterval {
		return nil
	}
	sched, err := parser.Parse(spec.Cron)
	if err != nil {
		return err
	}
	loc, err := s.location()
	if err != nil {
		return err
	}
	if sched.Next(time.Now().In(loc)).IsZero() {
		return fmt.Errorf("schedule %q never fires", rawSpec)
	}
	return nil
}

func (s *Service) scheduleLocked(e *entry) error {
	var (
		id  cron.EntryID
		err error
	)
	switch e.spec.Kind {
	case SpecInterval:
		id = s.c.Schedule(cron.Every(e.spec.Every), wrap(s.ctx, e.job))
	default:
		id, err = s.c.AddJob(e.spec.Cron, wrap(s.ctx, e.job))
	}
	if err != nil {
		return fmt.Errorf("scheduler: add %q: %w", e.name, err)
	}
	e.id = id
	s.log.Debug("job scheduled", logx.String("job", e.name), logx.String("schedule", e.spec.String()))
	return nil
}

func wrap(ctx context.Context, job Job) cron.Job {
	return cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	})
}

func (s *Service) location() (*time.Location, error) {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron "+msg, logx.Err(err), logx.Any("kv", kv))
}
