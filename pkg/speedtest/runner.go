package speedtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// Runner executes speed tests. It holds no state between runs, so callers serialize runs
// themselves when they must not overlap.
type Runner struct {
	cfg      RunConfig
	spawner  Spawner
	progress ProgressFunc
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSpawner makes the runner start candidate pings through s.
func WithSpawner(s Spawner) Option { return func(r *Runner) { r.spawner = s } }

// WithProgress registers a phase/percentage callback.
func WithProgress(fn ProgressFunc) Option { return func(r *Runner) { r.progress = fn } }

func NewRunner(cfg RunConfig, opts ...Option) *Runner {
	r := &Runner{cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) Config() RunConfig { return r.cfg }

func (r *Runner) report(phase string, pct int) {
	if r.progress != nil {
		r.progress(phase, pct)
	}
}

// Run selects the lowest-latency server among the closest candidates, measures download
// and upload, then corrects and validates the figures. Any failure is returned as an error;
// no partial result is produced.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("nil context")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := r.cfg

	runCtx, cancelRun := context.WithCancel(ctx)
	ctx = runCtx
	start := time.Now()

	// Dedicated transport so connections can be torn down after the run.
	hc, tr := newHTTPClient(cfg)

	// Avoid package-level speedtest helpers; the library keeps package-level state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     cfg.SavingMode,
		MaxConnections: cfg.Threads,
	}))
	applyHTTPClient(stc, hc)
	stc.SetNThread(cfg.Threads)

	defer func() {
		cancelRun()
		stc.Snapshots().Clean()
		stc.Reset()
		if tr != nil {
			tr.CloseIdleConnections()
		}
	}()

	r.report(PhaseSelecting, 0)
	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidates := servers[:min(cfg.ServerCount, len(servers))]

	pinged := r.pingCandidates(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: all latency tests failed", ErrNoServers)
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })
	best := pinged[0]
	r.report(PhaseSelecting, 10)

	downs := make([]float64, 0, cfg.Samples)
	for i := 0; i < cfg.Samples; i++ {
		if err := best.DownloadTestContext(ctx); err != nil {
			return nil, fmt.Errorf("download test: %w", err)
		}
		downs = append(downs, best.DLSpeed.Mbps())
		r.report(PhaseDownload, 10+45*(i+1)/cfg.Samples)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(cfg.SettleDelay):
	}

	ups := make([]float64, 0, cfg.Samples)
	for i := 0; i < cfg.Samples; i++ {
		if err := best.UploadTestContext(ctx); err != nil {
			return nil, fmt.Errorf("upload test: %w", err)
		}
		ups = append(ups, best.ULSpeed.Mbps())
		r.report(PhaseUpload, 55+45*(i+1)/cfg.Samples)
	}

	pingMs := float64(best.Latency) / float64(time.Millisecond)
	dl, ul, ping, err := Finalize(cfg, Median(downs), Median(ups), pingMs)
	if err != nil {
		return nil, err
	}
	r.report(PhaseDone, 100)

	return &Result{
		Timestamp: time.Now(),
		Download:  dl,
		Upload:    ul,
		Ping:      ping,
		ISP:       user.Isp,
		Server: Describe(ServerMeta{
			Name:       best.Name,
			Country:    best.Country,
			Sponsor:    best.Sponsor,
			Latency:    best.Latency,
			DistanceKm: best.Distance,
		}),
		Samples:  cfg.Samples,
		Duration: time.Since(start),
	}, nil
}

func (r *Runner) pingCandidates(ctx context.Context, servers []*st.Server, maxConcurrent int) []*st.Server {
	sem := make(chan struct{}, maxConcurrent)
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		pinged = make([]*st.Server, 0, len(servers))
	)

	launch := func(name string, fn func()) {
		if r.spawner != nil {
			r.spawner.Go(name, fn)
			return
		}
		go fn()
	}

	for i, s := range servers {
		wg.Add(1)
		launch(fmt.Sprintf("speedtest.ping.%d", i), func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			pinged = append(pinged, s)
			mu.Unlock()
		})
	}
	wg.Wait()
	return pinged
}
