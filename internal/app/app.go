package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"hostpulse/internal/alert"
	"hostpulse/internal/api"
	"hostpulse/internal/config"
	"hostpulse/internal/eventbus"
	"hostpulse/internal/network/probe"
	"hostpulse/internal/network/scan"
	"hostpulse/internal/network/speedtest"
	"hostpulse/internal/network/telemetry"
	"hostpulse/internal/observability/pprof"
	"hostpulse/internal/runtime/supervisor"
	"hostpulse/internal/sysinfo"
	"hostpulse/internal/task/scheduler"
	"hostpulse/internal/transport/telegram"
	"hostpulse/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	tg   *telegram.Client

	cache   *telemetry.Cache
	scanner *scan.Scanner
	speed   *speedtest.Service
	sys     *sysinfo.Collector
	sched   *scheduler.Service
	api     *api.Server
	alerts  *alert.Service

	srv *http.Server
	ln  net.Listener

	newProber func(cfg probe.Config, log logx.Logger) probe.Prober
	notify    func(state string) error
	watchdog  func() (time.Duration, error)

	mu     sync.Mutex
	set    settings
	prober probe.Prober
}

type Option func(*App)

// WithProber replaces the system prober, for tests and alternative platforms.
func WithProber(fn func(cfg probe.Config, log logx.Logger) probe.Prober) Option {
	return func(a *App) { a.newProber = fn }
}

// WithSystemd replaces the sd_notify hooks.
func WithSystemd(notify func(state string) error, watchdog func() (time.Duration, error)) Option {
	return func(a *App) {
		if notify != nil {
			a.notify = notify
		}
		if watchdog != nil {
			a.watchdog = watchdog
		}
	}
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{
		cfgPath: cfgPath,
		newProber: func(cfg probe.Config, log logx.Logger) probe.Prober {
			return probe.NewSystem(cfg, log)
		},
		notify:   sdNotify,
		watchdog: sdWatchdogInterval,
	}
	for _, o := range opts {
		o(a)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := mapSettings(cfg)
	if err != nil {
		return nil, err
	}
	a.cfgm, a.set = cfgm, set

	// The Telegram client exists before the logging service so the log sink can use it.
	var sender logx.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		bootLog := logx.NewConsole("info").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID}, bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.tg, sender = tg, tg
	}
	a.logs, a.log = logx.New(set.Log, sender)
	log := a.log
	a.log = log.With(logx.String("comp", "app"))

	a.bus = eventbus.New()

	a.prober = a.newProber(set.Probe, log.With(logx.String("comp", "probe")))
	a.cache = telemetry.New(a.prober, log.With(logx.String("comp", "telemetry")), set.Cache)
	a.scanner = scan.New(set.Scan.Config, log.With(logx.String("comp", "scan")), probe.ExecRunner, a.localMAC)
	a.speed = speedtest.New(set.Speedtest, a.cache, launcher{a}, a.bus,
		log.With(logx.String("comp", "speedtest")), speedtest.WithRefresh(a.refreshNetwork))
	a.sys = sysinfo.New(log.With(logx.String("comp", "sysinfo")))
	a.sched = scheduler.New(log.With(logx.String("comp", "scheduler")))

	pprof.ApplyRuntimeRates(set.Pprof)
	a.api = api.New(api.Deps{
		Telemetry:  a.cache,
		SpeedTests: a.speed,
		Scanner:    a.scanner,
		System:     a.sys,
		Bus:        a.bus,
		Health:     a.health,
	}, api.Options{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RatePerSec:  cfg.HTTP.RatePerSec,
		Burst:       cfg.HTTP.Burst,
		Pprof:       set.Pprof,
	}, log.With(logx.String("comp", "api")))

	switch {
	case a.tg != nil:
		a.alerts = alert.New(set.Alerts, a.tg, a.bus, log.With(logx.String("comp", "alert")))
	case set.Alerts.Enabled:
		a.log.Warn("alerts enabled but telegram.token is empty; alerts disabled")
	}
	return a, nil
}

// launcher runs speed test goroutines under the app supervisor once it exists.
type launcher struct{ a *App }

func (l launcher) Go0(name string, fn func(ctx context.Context)) {
	if sup := l.a.sup; sup != nil {
		sup.Go0(name, fn)
		return
	}
	go fn(context.Background())
}

func (a *App) currentProber() probe.Prober {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prober
}

func (a *App) localMAC(ctx context.Context) string { return a.currentProber().MACAddress(ctx) }

func (a *App) currentSettings() settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set
}

// Addr is the bound listen address; empty before Start.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	set := a.currentSettings()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	ln, err := net.Listen("tcp", set.HTTP.Addr)
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("listen %s: %w", set.HTTP.Addr, err)
	}
	a.ln = ln
	a.srv = &http.Server{
		Handler:           a.api.Handler(),
		ReadTimeout:       set.HTTP.ReadTimeout,
		ReadHeaderTimeout: set.HTTP.ReadTimeout,
		WriteTimeout:      set.HTTP.WriteTimeout,
		IdleTimeout:       set.HTTP.IdleTimeout,
		ErrorLog:          a.log.With(logx.String("comp", "http")).StdLog(logx.LevelWarn),
	}

	if err := a.registerJobs(set); err != nil {
		_ = ln.Close()
		a.sup.Cancel()
		return err
	}

	a.sup.Go("http.serve", func(context.Context) error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	a.sup.Go0("api.stream", a.api.Stream().Run)
	if a.alerts != nil {
		a.sup.Go0("alerts", a.alerts.Run)
	}

	a.sched.Start(a.sup.Context())
	a.sup.Go0("network.initial_refresh", func(c context.Context) {
		if err := a.sched.RunNow(jobRefresh); err != nil && c.Err() == nil {
			a.log.Warn("initial refresh failed", logx.Err(err))
		}
	})
	if set.Scan.Enabled {
		a.sup.Go0("devices.initial_scan", func(c context.Context) {
			if err := a.sched.RunNow(jobScan); err != nil && c.Err() == nil {
				a.log.Warn("initial device scan failed", logx.Err(err))
			}
		})
	}

	// Debug-level event trail; components subscribe on their own.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.startWatchdog()
	a.notifySystemd(sdReady)
	a.log.Info("app started", logx.String("addr", a.Addr()), logx.Duration("refresh_interval", set.Refresh))
	return nil
}

func (a *App) health() any {
	return map[string]any{
		"supervisor": a.sup.Snapshot(),
		"jobs":       a.sched.Snapshot(),
		"speedtest":  a.speed.Status(),
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(sdStopping)

	// Cancel first so background loops start unwinding while the listener drains.
	a.sup.Cancel()

	set := a.currentSettings()
	a.step(ctx, "http", set.HTTP.ShutdownTimeout, func(c context.Context) error {
		if a.srv == nil {
			return nil
		}
		return a.srv.Shutdown(c)
	})
	a.step(ctx, "scheduler", 3*time.Second, a.sched.Stop)
	a.step(ctx, "speedtest", 3*time.Second, a.speed.Wait)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline. A step that ignores
// its context is left running and reported when it eventually returns.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
