package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hostpulse/pkg/logx"
)

// JobFunc is the body of a scheduled job. ctx carries the per-run timeout and is canceled on Stop.
type JobFunc func(ctx context.Context) error

// JobInfo is a point-in-time view of a registered job, intended for /health output.
type JobInfo struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
	LastErr  string    `json:"last_err,omitempty"`
	LastDur  string    `json:"last_duration,omitempty"`
}

type job struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	fn      JobFunc
	id      cron.EntryID

	runs     uint64
	failures uint64
	lastErr  string
	lastDur  time.Duration
}

var ErrUnknownJob = errors.New("scheduler: unknown job")

// Service owns one cron instance. Jobs never overlap with themselves.
type Service struct {
	mu      sync.Mutex
	c       *cron.Cron
	jobs    map[string]*job
	log     logx.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(log logx.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Service{
		c: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		jobs:   map[string]*job{},
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. Jobs may be added before or after Start.
func (s *Service) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("scheduler: name and fn are required")
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %s already registered", name)
	}
	j := &job{name: name, spec: ps, timeout: timeout, fn: fn}
	id, err := s.c.AddFunc(ps.Cron, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	j.id = id
	s.jobs[name] = j
	s.log.Debug("job scheduled", logx.String("job", name), logx.String("spec", ps.Cron))
	return nil
}

// Reschedule swaps the schedule of an existing job. Counters survive.
func (s *Service) Reschedule(name, spec string) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if j.spec.Cron == ps.Cron {
		return nil
	}
	id, err := s.c.AddFunc(ps.Cron, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	s.c.Remove(j.id)
	j.id, j.spec = id, ps
	s.log.Info("job rescheduled", logx.String("job", name), logx.String("spec", ps.Cron))
	return nil
}

// Remove unregisters a job. Unknown names are ignored.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		s.c.Remove(j.id)
		delete(s.jobs, name)
	}
}

// RunNow triggers a job outside its schedule and waits for it.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(j)
}

// Start begins ticking. Cancelling ctx has the same effect as Stop without the wait.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", s.count()))
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
}

// Stop cancels running jobs and waits for them to return, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()
	done := s.c.Stop().Done()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
		return ctx.Err()
	}
}

func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.c.Entry(j.id)
		info := JobInfo{
			Name:     j.name,
			Spec:     j.spec.Cron,
			Next:     e.Next,
			Prev:     e.Prev,
			Runs:     j.runs,
			Failures: j.failures,
			LastErr:  j.lastErr,
		}
		if j.lastDur > 0 {
			info.LastDur = j.lastDur.String()
		}
		out = append(out, info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Service) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Service) run(j *job) error {
	ctx := s.ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	err := j.fn(ctx)
	dur := time.Since(start)

	s.mu.Lock()
	j.runs++
	j.lastDur = dur
	if err != nil {
		j.failures++
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("job failed", logx.String("job", j.name), logx.Duration("took", dur), logx.Err(err))
	} else {
		s.log.Trace("job done", logx.String("job", j.name), logx.Duration("took", dur))
	}
	return err
}

// cronLogger adapts logx to cron.Logger. cron's info chatter goes to trace.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
