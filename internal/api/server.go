// Package api is the HTTP facade: it maps requests onto telemetry reads, the speed test
// service, the device scanner and the system collaborators. Every response is JSON; failures
// carry an "error" field.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"hostpulse/internal/eventbus"
	"hostpulse/internal/network/scan"
	"hostpulse/internal/network/speedtest"
	"hostpulse/internal/network/telemetry"
	"hostpulse/internal/observability/pprof"
	"hostpulse/internal/sysinfo"
	"hostpulse/pkg/logx"
	speedpkg "hostpulse/pkg/speedtest"
)

// Telemetry is the read side of the network telemetry cache plus its two write operations
// exposed over HTTP.
type Telemetry interface {
	EnsureSnapshot(ctx context.Context) (telemetry.Snapshot, error)
	BandwidthHistory(w telemetry.Window) []telemetry.BandwidthSample
	DataTransferHistory(w telemetry.Window) []telemetry.TransferPoint
	ConnectionQuality() telemetry.ConnectionQuality
	IOData() telemetry.IOData
	LastUpdated() time.Time
	SpeedTest() (speedpkg.Result, bool)
	ClearHistory()
	SetDevices(devs []scan.Device)
	Devices() ([]scan.Device, bool)
}

type SpeedTests interface {
	Start() (speedtest.Status, error)
	Status() speedtest.Status
}

type Scanner interface {
	Scan(ctx context.Context) []scan.Device
}

// System is the set of stateless host collaborators.
type System interface {
	CPUUsage(ctx context.Context) (sysinfo.CPUUsage, error)
	CPUTemperature(ctx context.Context) (sysinfo.CPUTemperature, error)
	Memory(ctx context.Context) (sysinfo.Memory, error)
	Disks(ctx context.Context) ([]sysinfo.Disk, error)
	DiskUsage(ctx context.Context) (sysinfo.DiskUsage, error)
	Processes(ctx context.Context, limit int) ([]sysinfo.Process, error)
	GPU(ctx context.Context) (sysinfo.GPU, error)
	GPUUsage(ctx context.Context) (float64, error)
	GPUTemperature(ctx context.Context) (float64, error)
	Battery(ctx context.Context) (sysinfo.Battery, error)
	PowerConsumption(ctx context.Context) (sysinfo.PowerConsumption, error)
	SystemInfo(ctx context.Context) (sysinfo.SystemInfo, error)
	SetPowerPlan(ctx context.Context, plan string) (string, error)
	GamingMode() sysinfo.GamingStatus
	EnableGamingMode(ctx context.Context) sysinfo.GamingResult
	DisableGamingMode(ctx context.Context) sysinfo.GamingResult
}

type Deps struct {
	Telemetry  Telemetry
	SpeedTests SpeedTests
	Scanner    Scanner
	System     System
	Bus        eventbus.Bus
	// Health adds runtime details (supervisor, scheduler) to /health. Optional.
	Health func() any
}

type Options struct {
	CORSOrigins []string
	RatePerSec  int
	Burst       int
	Pprof       pprof.Config
	// RequestTimeout bounds collaborator and probe calls made on behalf of a request.
	RequestTimeout time.Duration
}

type Server struct {
	deps    Deps
	log     logx.Logger
	origins []string
	limiter *RateLimiter
	stream  *Streamer
	pprof   pprof.Config
	timeout time.Duration
	started time.Time

	scanMu sync.Mutex
}

func New(deps Deps, opts Options, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		deps:    deps,
		log:     log,
		origins: append([]string(nil), opts.CORSOrigins...),
		limiter: NewRateLimiter(opts.RatePerSec, opts.Burst),
		pprof:   opts.Pprof,
		timeout: opts.RequestTimeout,
		started: time.Now(),
	}
	s.stream = NewStreamer(deps.Bus, deps.Telemetry, s.isAllowedOrigin, log.With(logx.String("comp", "api.stream")))
	return s
}

// SetRateLimit applies a new per-client rate. 0 disables limiting.
func (s *Server) SetRateLimit(perSec, burst int) { s.limiter.SetLimit(perSec, burst) }

// Stream returns the websocket broadcaster; its Run loop must be started by the owner.
func (s *Server) Stream() *Streamer { return s.stream }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Network telemetry.
	mux.HandleFunc("GET /api/network", s.handleNetwork)
	mux.HandleFunc("GET /api/speedtest", s.handleSpeedTestStart)
	mux.HandleFunc("POST /api/speedtest", s.handleSpeedTestStart)
	mux.HandleFunc("GET /api/speedtest/status", s.handleSpeedTestStatus)
	mux.HandleFunc("GET /api/speedtest/result", s.handleSpeedTestResult)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/bandwidth-history", s.handleBandwidthHistory)
	mux.HandleFunc("GET /api/data-transfer-history", s.handleDataTransferHistory)
	mux.HandleFunc("GET /api/connection-quality", s.handleConnectionQuality)
	mux.HandleFunc("GET /api/all", s.handleAll)
	mux.HandleFunc("GET /api/clear-history", s.handleClearHistory)
	mux.HandleFunc("POST /api/clear-history", s.handleClearHistory)
	mux.HandleFunc("GET /api/network-io", s.handleNetworkIO)
	mux.Handle("GET /api/stream", s.stream)

	// Host collaborators.
	if s.deps.System != nil {
		mux.HandleFunc("GET /system-info", s.handleSystemInfo)
		mux.HandleFunc("GET /api/memory", s.handleMemory)
		mux.HandleFunc("GET /api/disks", s.handleDisks)
		mux.HandleFunc("GET /cpu-usage", s.handleCPUUsage)
		mux.HandleFunc("GET /cpu-temperature", s.handleCPUTemperature)
		mux.HandleFunc("GET /gpu-usage", s.handleGPUUsage)
		mux.HandleFunc("GET /gpu-temperature", s.handleGPUTemperature)
		mux.HandleFunc("GET /gpu-stats", s.handleGPUStats)
		mux.HandleFunc("GET /disk-usage", s.handleDiskUsage)
		mux.HandleFunc("GET /processes", s.handleProcesses)
		mux.HandleFunc("GET /battery", s.handleBattery)
		for _, p := range []string{"/power-consumption", "/power_consumption"} {
			mux.HandleFunc("GET "+p, s.handlePowerConsumption)
		}
		for _, p := range []string{"/set-power-plan", "/set_power_plan"} {
			mux.HandleFunc("POST "+p, s.handleSetPowerPlan)
		}
		for _, base := range []string{"/api/gaming-mode", "/gaming-mode"} {
			mux.HandleFunc("GET "+base+"/status", s.handleGamingStatus)
			mux.HandleFunc("POST "+base+"/enable", s.handleGamingEnable)
			mux.HandleFunc("POST "+base+"/disable", s.handleGamingDisable)
		}
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	pprof.Mount(mux, s.pprof, s.log)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondMessage(w, "not found", http.StatusNotFound)
	})

	// Outermost runs first.
	var h http.Handler = mux
	h = s.rateLimitMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.recoverMiddleware(h)
	h = s.loggingMiddleware(h)
	return h
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"started_at": s.started.UTC(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"stream":     map[string]int{"clients": s.stream.Clients()},
	}
	if s.deps.Telemetry != nil {
		if t := s.deps.Telemetry.LastUpdated(); !t.IsZero() {
			body["last_refresh"] = t.UTC()
		}
	}
	if s.deps.Health != nil {
		body["runtime"] = s.deps.Health()
	}
	respondJSON(w, body, http.StatusOK)
}
