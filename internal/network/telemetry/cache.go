// Package telemetry owns the shared network state: the current snapshot, the bandwidth,
// latency and transfer histories, the last interface counter reading and the last
// accepted speed test.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"hostpulse/internal/network/probe"
	"hostpulse/internal/network/scan"
	"hostpulse/internal/network/score"
	"hostpulse/pkg/logx"
	"hostpulse/pkg/speedtest"
)

// Default ring capacities and spacing.
const (
	DefaultBandwidthCap    = 60
	DefaultLatencyCap      = 20
	DefaultTransferCap     = 288
	DefaultTransferSpacing = 5 * time.Minute
	DefaultBaseline        = time.Second
)

var ErrNotRefreshed = errors.New("telemetry: no data collected yet")

type Options struct {
	BandwidthCap    int
	LatencyCap      int
	TransferCap     int
	TransferSpacing time.Duration
	// Baseline is the counter sampling interval of the very first refresh.
	Baseline time.Duration
	// Bounds validates recorded speed tests.
	Bounds speedtest.RunConfig

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type proberBox struct{ p probe.Prober }

// Cache is safe for concurrent use. Refreshes are serialized by the refresh slot; every piece of
// mutable state below mu is read and written only under mu. The snapshot is published by
// pointer swap, so readers never see a partially built value.
type Cache struct {
	opts   Options
	log    logx.Logger
	prober atomic.Value // proberBox

	// refreshing is a one-slot semaphore so waiting for a refresh respects ctx.
	refreshing chan struct{}

	snap atomic.Pointer[Snapshot]

	mu          sync.Mutex
	bandwidth   *Ring[BandwidthSample]
	latency     *Ring[LatencySample]
	transfer    *Ring[TransferPoint]
	last        probe.Counters
	lastAt      time.Time
	hasLast     bool
	totalSent   uint64
	totalRecv   uint64
	io          IOData
	speedTest   *speedtest.Result
	devices     []scan.Device
	hasDevices  bool
	lastUpdated time.Time
}

func New(p probe.Prober, log logx.Logger, opts Options) *Cache {
	if opts.BandwidthCap <= 0 {
		opts.BandwidthCap = DefaultBandwidthCap
	}
	if opts.LatencyCap <= 0 {
		opts.LatencyCap = DefaultLatencyCap
	}
	if opts.TransferCap <= 0 {
		opts.TransferCap = DefaultTransferCap
	}
	if opts.TransferSpacing <= 0 {
		opts.TransferSpacing = DefaultTransferSpacing
	}
	if opts.Baseline <= 0 {
		opts.Baseline = DefaultBaseline
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	c := &Cache{
		opts:       opts,
		log:        log,
		refreshing: make(chan struct{}, 1),
		bandwidth:  NewRing[BandwidthSample](opts.BandwidthCap),
		latency:    NewRing[LatencySample](opts.LatencyCap),
		transfer:   NewRing[TransferPoint](opts.TransferCap),
	}
	c.prober.Store(proberBox{p})
	return c
}

// SetProber swaps the probe implementation used by the next refresh.
func (c *Cache) SetProber(p probe.Prober) { c.prober.Store(proberBox{p}) }

// SetBounds replaces the speed test validation bounds.
func (c *Cache) SetBounds(b speedtest.RunConfig) {
	c.mu.Lock()
	c.opts.Bounds = b
	c.mu.Unlock()
}

func (c *Cache) currentProber() probe.Prober { return c.prober.Load().(proberBox).p }

type probeResults struct {
	ping    float64
	loss    float64
	ct      probe.ConnectionType
	signal  int
	dns     string
	mac     string
	ip      string
	actives []string
}

func (c *Cache) acquire(ctx context.Context) error {
	select {
	case c.refreshing <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) release() { <-c.refreshing }

// Refresh samples the counters and every probe, then publishes a new snapshot and appends
// to the histories. On error, including ctx ending mid-probe, the previous state is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.refresh(ctx)
}

func (c *Cache) refresh(ctx context.Context) error {
	p := c.currentProber()
	cur, err := p.Counters(ctx)
	if err != nil {
		return err
	}
	at := c.opts.Now()

	c.mu.Lock()
	prev, prevAt, hasPrev := c.last, c.lastAt, c.hasLast
	c.mu.Unlock()

	if !hasPrev {
		// No baseline yet: take one now and measure over a short fixed interval.
		prev, prevAt = cur, at
		if err := c.opts.Sleep(ctx, c.opts.Baseline); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
		if cur, err = p.Counters(ctx); err != nil {
			return err
		}
		at = c.opts.Now()
	}

	pr := c.runProbes(ctx, p)
	// Probes cut short by ctx read as total loss and no ping; never publish those.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("probes: %w", err)
	}

	elapsed := at.Sub(prevAt).Seconds()
	dSent := delta(cur.BytesSent, prev.BytesSent)
	dRecv := delta(cur.BytesRecv, prev.BytesRecv)
	passiveUp := mbps(dSent, elapsed)
	passiveDown := mbps(dRecv, elapsed)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.last, c.lastAt, c.hasLast = cur, at, true
	c.totalSent += dSent
	c.totalRecv += dRecv

	if pr.ping > 0 {
		c.latency.Push(LatencySample{Timestamp: at, Ping: pr.ping})
	}
	jitter := round(score.Jitter(c.latencyValues()), 1)

	down, up := passiveDown, passiveUp
	if st := c.speedTest; st != nil {
		down, up = st.Download, st.Upload
	}

	snap := &Snapshot{
		ConnectionType: pr.ct,
		SignalStrength: pr.signal,
		DownloadSpeed:  down,
		UploadSpeed:    up,
		Ping:           pr.ping,
		Jitter:         jitter,
		PacketLoss:     pr.loss,
		Stability:      score.Stability(pr.ping, jitter, pr.loss),
		IPAddress:      pr.ip,
		DNSServer:      pr.dns,
		MACAddress:     pr.mac,
	}
	c.snap.Store(snap)

	c.bandwidth.Push(BandwidthSample{Timestamp: at, Download: passiveDown, Upload: passiveUp})
	if last, ok := c.transfer.Last(); !ok || at.Sub(last.Timestamp) >= c.opts.TransferSpacing {
		c.transfer.Push(TransferPoint{
			Timestamp:                   at,
			TotalBytesSent:              c.totalSent,
			TotalBytesReceived:          c.totalRecv,
			TotalBytesSentFormatted:     FormatBytes(c.totalSent),
			TotalBytesReceivedFormatted: FormatBytes(c.totalRecv),
		})
	}
	c.io = IOData{
		UploadSpeed:                 up,
		DownloadSpeed:               down,
		UploadPackets:               delta(cur.PacketsSent, prev.PacketsSent),
		DownloadPackets:             delta(cur.PacketsRecv, prev.PacketsRecv),
		ActiveInterfaces:            pr.actives,
		BytesSent:                   dSent,
		BytesReceived:               dRecv,
		TotalBytesSent:              c.totalSent,
		TotalBytesReceived:          c.totalRecv,
		TotalBytesSentFormatted:     FormatBytes(c.totalSent),
		TotalBytesReceivedFormatted: FormatBytes(c.totalRecv),
	}
	c.lastUpdated = at

	c.log.Debug("network refreshed",
		logx.Float64("down_mbps", down), logx.Float64("up_mbps", up),
		logx.Float64("ping_ms", pr.ping), logx.Float64("loss_pct", pr.loss),
		logx.Float64("stability", snap.Stability))
	return nil
}

// runProbes runs the independent probes concurrently. The slowest (packet loss) bounds
// the refresh.
func (c *Cache) runProbes(ctx context.Context, p probe.Prober) probeResults {
	var (
		r  probeResults
		wg sync.WaitGroup
	)
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	run(func() { r.ping = p.Latency(ctx) })
	run(func() { r.loss = p.PacketLoss(ctx) })
	run(func() {
		r.ct = p.ConnectionType(ctx)
		r.signal = p.SignalStrength(ctx, r.ct)
	})
	run(func() { r.dns = p.DNSServer(ctx) })
	run(func() { r.mac = p.MACAddress(ctx) })
	run(func() { r.ip = p.PublicIP(ctx) })
	run(func() { r.actives = p.ActiveInterfaces(ctx) })
	wg.Wait()
	if r.actives == nil {
		r.actives = []string{}
	}
	return r
}

func (c *Cache) latencyValues() []float64 {
	items := c.latency.Items()
	out := make([]float64, len(items))
	for i, s := range items {
		out[i] = s.Ping
	}
	return out
}

// Snapshot returns the current snapshot; ok is false before the first successful refresh.
func (c *Cache) Snapshot() (Snapshot, bool) {
	s := c.snap.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// EnsureSnapshot returns the current snapshot, refreshing first if none exists yet.
// Callers arriving while the first refresh runs wait for it instead of starting another.
func (c *Cache) EnsureSnapshot(ctx context.Context) (Snapshot, error) {
	if s, ok := c.Snapshot(); ok {
		return s, nil
	}
	if err := c.acquire(ctx); err != nil {
		return Snapshot{}, err
	}
	defer c.release()
	if s, ok := c.Snapshot(); ok {
		return s, nil
	}
	if err := c.refresh(ctx); err != nil {
		return Snapshot{}, err
	}
	if s, ok := c.Snapshot(); ok {
		return s, nil
	}
	return Snapshot{}, ErrNotRefreshed
}

func (c *Cache) BandwidthHistory(w Window) []BandwidthSample {
	now := c.opts.Now()
	c.mu.Lock()
	items := c.bandwidth.Items()
	c.mu.Unlock()
	return filter(items, func(s BandwidthSample) bool { return w.Includes(now, s.Timestamp) })
}

func (c *Cache) LatencyHistory() []LatencySample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency.Items()
}

func (c *Cache) DataTransferHistory(w Window) []TransferPoint {
	now := c.opts.Now()
	c.mu.Lock()
	items := c.transfer.Items()
	c.mu.Unlock()
	return filter(items, func(p TransferPoint) bool { return w.Includes(now, p.Timestamp) })
}

func (c *Cache) ConnectionQuality() ConnectionQuality {
	s, _ := c.Snapshot()
	return ConnectionQuality{
		Ping:           s.Ping,
		Jitter:         s.Jitter,
		PacketLoss:     s.PacketLoss,
		Stability:      s.Stability,
		LatencyHistory: c.LatencyHistory(),
	}
}

func (c *Cache) IOData() IOData {
	c.mu.Lock()
	defer c.mu.Unlock()
	io := c.io
	io.ActiveInterfaces = append([]string{}, c.io.ActiveInterfaces...)
	return io
}

func (c *Cache) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// RecordSpeedTest stores an accepted result and appends it to the bandwidth history. The
// next Refresh applies it to the snapshot. A result outside the bounds is rejected and the
// previously stored result is kept.
func (c *Cache) RecordSpeedTest(r *speedtest.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := speedtest.Validate(c.opts.Bounds, r); err != nil {
		return err
	}
	cp := *r
	if cp.Timestamp.IsZero() {
		cp.Timestamp = c.opts.Now()
	}
	c.speedTest = &cp
	c.bandwidth.Push(BandwidthSample{
		Timestamp:   cp.Timestamp,
		Download:    cp.Download,
		Upload:      cp.Upload,
		IsSpeedTest: true,
	})
	return nil
}

// SpeedTest returns the last accepted result.
func (c *Cache) SpeedTest() (speedtest.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speedTest == nil {
		return speedtest.Result{}, false
	}
	return *c.speedTest, true
}

// ClearHistory empties the bandwidth and latency histories. The snapshot, the counter
// baseline and the transfer history are kept.
func (c *Cache) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bandwidth.Clear()
	c.latency.Clear()
}

func (c *Cache) SetDevices(devs []scan.Device) {
	cp := append([]scan.Device(nil), devs...)
	c.mu.Lock()
	c.devices, c.hasDevices = cp, true
	c.mu.Unlock()
}

// Devices returns the last scan result; ok is false before the first scan.
func (c *Cache) Devices() ([]scan.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDevices {
		return nil, false
	}
	return append([]scan.Device(nil), c.devices...), true
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// delta treats a counter that went backwards (reset or wrap) as zero traffic.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func mbps(bytes uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return round(float64(bytes)*8/1_000_000/seconds, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
