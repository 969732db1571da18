// Package speedtest runs on-demand speed tests in the background, one at a time, and
// records accepted results in the telemetry cache.
package speedtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"hostpulse/internal/eventbus"
	"hostpulse/pkg/logx"
	speedpkg "hostpulse/pkg/speedtest"
)

var ErrAlreadyRunning = errors.New("speedtest already running")

// Phase texts shown to clients.
const (
	PhaseStarting  = "Starting speed test..."
	PhaseSelecting = "Selecting server..."
	PhaseDownload  = "Testing download speed..."
	PhaseUpload    = "Testing upload speed..."
	PhaseUpdating  = "Updating network data..."
	PhaseCompleted = "Test completed"
)

// Status is the progress view polled by clients.
type Status struct {
	Running   bool       `json:"running"`
	Progress  int        `json:"progress"`
	Phase     string     `json:"phase"`
	StartTime *time.Time `json:"start_time"`
	JobID     string     `json:"job_id,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// RunEvent is the Data of every speedtest.* event.
type RunEvent struct {
	JobID  string           `json:"job_id"`
	Status Status           `json:"status"`
	Result *speedpkg.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Runner performs one measurement.
type Runner interface {
	Run(ctx context.Context) (*speedpkg.Result, error)
}

// RunnerFactory builds a runner for one job. progress must be passed through to the runner.
type RunnerFactory func(cfg speedpkg.RunConfig, progress speedpkg.ProgressFunc) Runner

// Recorder stores accepted results.
type Recorder interface {
	RecordSpeedTest(r *speedpkg.Result) error
}

// Launcher owns background goroutines. *supervisor.Supervisor satisfies it.
type Launcher interface {
	Go0(name string, fn func(ctx context.Context))
}

type Options struct {
	Run        speedpkg.RunConfig
	Timeout    time.Duration // whole job, default 2m
	StaleAfter time.Duration // status reset threshold, default 120s
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 120 * time.Second
	}
	return o
}

// Service serializes speed tests through a one-token gate.
type Service struct {
	log       logx.Logger
	bus       eventbus.Bus
	launcher  Launcher
	recorder  Recorder
	newRunner RunnerFactory
	// refresh runs after an accepted result so the snapshot picks it up.
	refresh func(ctx context.Context) error
	now     func() time.Time

	gate chan struct{}

	mu     sync.Mutex
	opts   Options
	status Status
	busy   bool
}

type Option func(*Service)

func WithRunnerFactory(f RunnerFactory) Option { return func(s *Service) { s.newRunner = f } }
func WithRefresh(fn func(ctx context.Context) error) Option {
	return func(s *Service) { s.refresh = fn }
}
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(opts Options, rec Recorder, launcher Launcher, bus eventbus.Bus, log logx.Logger, o ...Option) *Service {
	s := &Service{
		log:      log,
		bus:      bus,
		launcher: launcher,
		recorder: rec,
		now:      time.Now,
		gate:     make(chan struct{}, 1),
		opts:     opts.withDefaults(),
	}
	s.gate <- struct{}{}
	s.newRunner = func(cfg speedpkg.RunConfig, progress speedpkg.ProgressFunc) Runner {
		spawner := speedpkg.SpawnerFunc(func(name string, fn func()) {
			s.launcher.Go0(name, func(context.Context) { fn() })
		})
		return speedpkg.NewRunner(cfg, speedpkg.WithProgress(progress), speedpkg.WithSpawner(spawner))
	}
	for _, fn := range o {
		fn(s)
	}
	return s
}

// SetOptions applies to the next job.
func (s *Service) SetOptions(opts Options) {
	s.mu.Lock()
	s.opts = opts.withDefaults()
	s.mu.Unlock()
}

// Start launches a job in the background and returns its initial status. When a job is
// already running it returns ErrAlreadyRunning with the running job's status.
func (s *Service) Start() (Status, error) {
	select {
	case <-s.gate:
	default:
		s.publish(eventbus.SpeedtestRejected, RunEvent{Status: s.Status()})
		return s.Status(), ErrAlreadyRunning
	}

	start := s.now()
	id := uuid.NewString()
	s.mu.Lock()
	opts := s.opts
	s.status = Status{Running: true, Phase: PhaseStarting, StartTime: &start, JobID: id}
	s.busy = true
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("speed test started", logx.String("job", id))
	s.publish(eventbus.SpeedtestStarted, RunEvent{JobID: id, Status: st})
	s.launcher.Go0("speedtest.job", func(ctx context.Context) {
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
			s.gate <- struct{}{}
		}()
		s.run(ctx, id, opts)
	})
	return st, nil
}

func (s *Service) run(parent context.Context, id string, opts Options) {
	// The job is bound to the service lifetime, not to the request that started it.
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	runner := s.newRunner(opts.Run, func(phase string, pct int) {
		s.progress(id, phaseText(phase), pct*80/100)
	})
	res, err := runner.Run(ctx)
	if err == nil {
		s.progress(id, PhaseUpdating, 90)
		err = s.recorder.RecordSpeedTest(res)
	}
	if err != nil {
		s.fail(id, err)
		return
	}

	if s.refresh != nil {
		if rerr := s.refresh(ctx); rerr != nil {
			s.log.Warn("post speed test refresh failed", logx.String("job", id), logx.Err(rerr))
		}
	}

	s.mu.Lock()
	s.status = Status{Progress: 100, Phase: PhaseCompleted, JobID: id}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("speed test finished",
		logx.String("job", id),
		logx.Float64("download_mbps", res.Download),
		logx.Float64("upload_mbps", res.Upload),
		logx.Float64("ping_ms", res.Ping),
		logx.String("server", res.Server.Name),
		logx.Duration("took", res.Duration))
	s.publish(eventbus.SpeedtestFinished, RunEvent{JobID: id, Status: st, Result: res})
}

func (s *Service) fail(id string, err error) {
	s.mu.Lock()
	s.status = Status{JobID: id, LastError: err.Error()}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Warn("speed test failed", logx.String("job", id), logx.Err(err))
	s.publish(eventbus.SpeedtestFailed, RunEvent{JobID: id, Status: st, Error: err.Error()})
}

func (s *Service) progress(id, phase string, pct int) {
	s.mu.Lock()
	if s.status.JobID != id || !s.status.Running {
		s.mu.Unlock()
		return
	}
	s.status.Phase = phase
	s.status.Progress = max(s.status.Progress, pct)
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(eventbus.SpeedtestProgress, RunEvent{JobID: id, Status: st})
}

// Status returns the current job status. A job running longer than StaleAfter has its phase
// and progress reset. Running follows the gate, so it stays true until the job returns and a
// start is accepted exactly when Running is false.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Running && s.status.StartTime != nil && s.now().Sub(*s.status.StartTime) > s.opts.StaleAfter {
		if s.busy {
			s.status.Phase, s.status.Progress = "", 0
		} else {
			s.status = Status{JobID: s.status.JobID}
		}
	}
	return s.snapshotLocked()
}

// Running reports whether a job holds the gate.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Wait blocks until no job is running or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.gate:
		s.gate <- struct{}{}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) snapshotLocked() Status {
	st := s.status
	if st.StartTime != nil {
		t := *st.StartTime
		st.StartTime = &t
	}
	return st
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func phaseText(phase string) string {
	switch phase {
	case speedpkg.PhaseSelecting:
		return PhaseSelecting
	case speedpkg.PhaseDownload:
		return PhaseDownload
	case speedpkg.PhaseUpload:
		return PhaseUpload
	case speedpkg.PhaseDone:
		return PhaseUpdating
	}
	return phase
}
