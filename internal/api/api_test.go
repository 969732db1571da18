package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hostpulse/internal/eventbus"
	"hostpulse/internal/network/probe"
	"hostpulse/internal/network/scan"
	"hostpulse/internal/network/speedtest"
	"hostpulse/internal/network/telemetry"
	"hostpulse/internal/sysinfo"
	"hostpulse/pkg/logx"
	speedpkg "hostpulse/pkg/speedtest"
)

type fakeTelemetry struct {
	mu         sync.Mutex
	snap       *telemetry.Snapshot
	snapErr    error
	bandwidth  []telemetry.BandwidthSample
	lastWindow telemetry.Window
	result     *speedpkg.Result
	devices    []scan.Device
	hasDevices bool
	cleared    int
	updated    time.Time
}

func (f *fakeTelemetry) EnsureSnapshot(context.Context) (telemetry.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return telemetry.Snapshot{}, f.snapErr
	}
	if f.snap == nil {
		return telemetry.Snapshot{}, telemetry.ErrNotRefreshed
	}
	return *f.snap, nil
}

func (f *fakeTelemetry) BandwidthHistory(w telemetry.Window) []telemetry.BandwidthSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWindow = w
	return append([]telemetry.BandwidthSample{}, f.bandwidth...)
}

func (f *fakeTelemetry) DataTransferHistory(w telemetry.Window) []telemetry.TransferPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWindow = w
	return []telemetry.TransferPoint{{TotalBytesSent: 1536, TotalBytesSentFormatted: telemetry.FormatBytes(1536)}}
}

func (f *fakeTelemetry) ConnectionQuality() telemetry.ConnectionQuality {
	return telemetry.ConnectionQuality{Ping: 20, LatencyHistory: []telemetry.LatencySample{}}
}

func (f *fakeTelemetry) IOData() telemetry.IOData {
	return telemetry.IOData{ActiveInterfaces: []string{"eth0"}, TotalBytesSentFormatted: "0 B", TotalBytesReceivedFormatted: "0 B"}
}

func (f *fakeTelemetry) LastUpdated() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated
}

func (f *fakeTelemetry) SpeedTest() (speedpkg.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return speedpkg.Result{}, false
	}
	return *f.result, true
}

func (f *fakeTelemetry) ClearHistory() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeTelemetry) SetDevices(devs []scan.Device) {
	f.mu.Lock()
	f.devices, f.hasDevices = devs, true
	f.mu.Unlock()
}

func (f *fakeTelemetry) Devices() ([]scan.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.hasDevices
}

type fakeSpeed struct {
	mu      sync.Mutex
	running bool
}

func (f *fakeSpeed) Start() (speedtest.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := speedtest.Status{Running: true, Phase: speedtest.PhaseStarting}
	if f.running {
		return st, speedtest.ErrAlreadyRunning
	}
	f.running = true
	return st, nil
}

func (f *fakeSpeed) Status() speedtest.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return speedtest.Status{Running: f.running}
}

type fakeScanner struct {
	mu    sync.Mutex
	scans int
}

func (f *fakeScanner) Scan(context.Context) []scan.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return []scan.Device{{ID: scan.LocalDeviceID, Name: scan.LocalDevice, Status: scan.StatusActive, IPAddress: "192.168.1.20", MACAddress: scan.UnknownMAC}}
}

type fakeSystem struct{}

func (fakeSystem) CPUUsage(context.Context) (sysinfo.CPUUsage, error) {
	return sysinfo.CPUUsage{Usage: 12.5, Cores: 4, LogicalProcessors: 8, Sockets: 1}, nil
}
func (fakeSystem) CPUTemperature(context.Context) (sysinfo.CPUTemperature, error) {
	return sysinfo.CPUTemperature{}, sysinfo.ErrUnavailable
}
func (fakeSystem) Memory(context.Context) (sysinfo.Memory, error) {
	return sysinfo.Memory{Total: 8 << 30}, nil
}
func (fakeSystem) Disks(context.Context) ([]sysinfo.Disk, error) {
	return []sysinfo.Disk{{Mountpoint: "/"}}, nil
}
func (fakeSystem) DiskUsage(context.Context) (sysinfo.DiskUsage, error) {
	return sysinfo.DiskUsage{}, errors.New("statfs failed")
}
func (fakeSystem) Processes(_ context.Context, limit int) ([]sysinfo.Process, error) {
	return make([]sysinfo.Process, limit), nil
}
func (fakeSystem) GPU(context.Context) (sysinfo.GPU, error) {
	return sysinfo.GPU{}, sysinfo.ErrUnavailable
}
func (fakeSystem) GPUUsage(context.Context) (float64, error) {
	return 0, sysinfo.ErrUnavailable
}
func (fakeSystem) GPUTemperature(context.Context) (float64, error) { return 61, nil }
func (fakeSystem) Battery(context.Context) (sysinfo.Battery, error) {
	return sysinfo.Battery{}, sysinfo.ErrNoBattery
}
func (fakeSystem) PowerConsumption(context.Context) (sysinfo.PowerConsumption, error) {
	return sysinfo.PowerConsumption{Status: "success"}, nil
}
func (fakeSystem) SystemInfo(context.Context) (sysinfo.SystemInfo, error) {
	return sysinfo.SystemInfo{Hostname: "box"}, nil
}
func (fakeSystem) SetPowerPlan(_ context.Context, plan string) (string, error) {
	if plan != sysinfo.PlanBalanced {
		return "", sysinfo.ErrUnknownPlan
	}
	return "Switched to " + plan, nil
}
func (fakeSystem) GamingMode() sysinfo.GamingStatus { return sysinfo.GamingStatus{} }
func (fakeSystem) EnableGamingMode(context.Context) sysinfo.GamingResult {
	return sysinfo.GamingResult{Status: "success", Message: "Gaming mode enabled"}
}
func (fakeSystem) DisableGamingMode(context.Context) sysinfo.GamingResult {
	return sysinfo.GamingResult{Status: "success", Message: "Gaming mode disabled"}
}

type fixture struct {
	srv  *Server
	h    http.Handler
	tel  *fakeTelemetry
	spd  *fakeSpeed
	scan *fakeScanner
	bus  eventbus.Bus
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		tel:  &fakeTelemetry{},
		spd:  &fakeSpeed{},
		scan: &fakeScanner{},
		bus:  eventbus.New(),
	}
	f.srv = New(Deps{
		Telemetry:  f.tel,
		SpeedTests: f.spd,
		Scanner:    f.scan,
		System:     fakeSystem{},
		Bus:        f.bus,
		Health:     func() any { return map[string]int{"jobs": 2} },
	}, opts, logx.Nop())
	f.h = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); rec.Code != http.StatusNoContent && ct != "application/json" {
		t.Fatalf("%s %s content-type=%q", method, target, ct)
	}
	var m map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &m)
	return rec, m
}

func TestNetworkEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	rec, body := f.do(t, http.MethodGet, "/api/network", "")
	if rec.Code != http.StatusServiceUnavailable || body["error"] == nil {
		t.Fatalf("before refresh: %d %v", rec.Code, body)
	}

	f.tel.snap = &telemetry.Snapshot{ConnectionType: probe.WiFi, Ping: 21.5, Stability: 77.2, DNSServer: probe.NotDetected}
	rec, body = f.do(t, http.MethodGet, "/api/network", "")
	if rec.Code != http.StatusOK || body["connectionType"] != "Wi-Fi" || body["ping"] != 21.5 || body["dnsServer"] != "Not detected" {
		t.Fatalf("after refresh: %d %v", rec.Code, body)
	}
}

func TestSpeedTestStartTwice(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	_, first := f.do(t, http.MethodPost, "/api/speedtest", "")
	if first["message"] != msgSpeedTestStarted {
		t.Fatalf("first=%v", first)
	}
	rec, second := f.do(t, http.MethodGet, "/api/speedtest", "")
	if rec.Code != http.StatusOK || second["message"] != msgSpeedTestRunning {
		t.Fatalf("second=%d %v", rec.Code, second)
	}
	status, ok := second["status"].(map[string]any)
	if !ok || status["running"] != true {
		t.Fatalf("status=%v", second["status"])
	}
}

func TestSpeedTestResultBeforeAndAfter(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	rec, body := f.do(t, http.MethodGet, "/api/speedtest/result", "")
	if rec.Code != http.StatusNotFound || body["error"] != msgNoSpeedTestResult {
		t.Fatalf("before=%d %v", rec.Code, body)
	}
	f.tel.result = &speedpkg.Result{Download: 93.1, Upload: 11.2, Server: speedpkg.ServerInfo{Name: "Acme", Location: "Oslo"}}
	rec, body = f.do(t, http.MethodGet, "/api/speedtest/result", "")
	if rec.Code != http.StatusOK || body["download"] != 93.1 {
		t.Fatalf("after=%d %v", rec.Code, body)
	}
	server, _ := body["server"].(map[string]any)
	if server["location"] != "Oslo" {
		t.Fatalf("server=%v", body["server"])
	}
}

func TestSpeedTestStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	_, body := f.do(t, http.MethodGet, "/api/speedtest/status", "")
	if body["running"] != false || body["phase"] != "" {
		t.Fatalf("status=%v", body)
	}
	if _, ok := body["start_time"]; !ok {
		t.Fatalf("start_time must always be present: %v", body)
	}
}

func TestDevicesScanOnceThenCacheAndRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
		var devs []scan.Device
		if err := json.Unmarshal(rec.Body.Bytes(), &devs); err != nil || len(devs) != 1 || devs[0].MACAddress != "Unknown" {
			t.Fatalf("devices=%s err=%v", rec.Body.String(), err)
		}
	}
	if f.scan.scans != 1 {
		t.Fatalf("scans=%d want 1", f.scan.scans)
	}
	if ev := <-events; ev.Type != eventbus.DevicesScanned {
		t.Fatalf("event=%q", ev.Type)
	}

	f.do(t, http.MethodGet, "/api/devices?refresh=1", "")
	if f.scan.scans != 2 {
		t.Fatalf("refresh should rescan, scans=%d", f.scan.scans)
	}
}

func TestHistoryWindowParam(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	cases := []struct {
		target string
		want   telemetry.Window
	}{
		{"/api/bandwidth-history", telemetry.Window5Min},
		{"/api/bandwidth-history?window=1hour", telemetry.Window1Hour},
		{"/api/bandwidth-history?timeframe=1day", telemetry.Window1Day},
		{"/api/bandwidth-history?window=fortnight", telemetry.WindowAll},
		{"/api/data-transfer-history?window=all", telemetry.WindowAll},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d", tc.target, rec.Code)
		}
		if f.tel.lastWindow != tc.want {
			t.Fatalf("%s window=%q want %q", tc.target, f.tel.lastWindow, tc.want)
		}
	}

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data-transfer-history", nil))
	if !strings.Contains(rec.Body.String(), `"totalBytesSentFormatted":"1.5 KB"`) {
		t.Fatalf("transfer body=%s", rec.Body.String())
	}
}

func TestAllAndClearHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.tel.snap = &telemetry.Snapshot{Ping: 10}
	f.tel.updated = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, body := f.do(t, http.MethodGet, "/api/all", "")
	for _, k := range []string{"networkData", "connectedDevices", "bandwidthHistory", "dataTransferHistory", "ioData", "lastUpdated"} {
		if _, ok := body[k]; !ok {
			t.Fatalf("missing %q in %v", k, body)
		}
	}
	if pts, ok := body["dataTransferHistory"].([]any); !ok || len(pts) != 1 {
		t.Fatalf("dataTransferHistory=%v", body["dataTransferHistory"])
	}
	if f.tel.lastWindow != telemetry.Window1Day {
		t.Fatalf("transfer window=%q want %q", f.tel.lastWindow, telemetry.Window1Day)
	}
	if devs, ok := body["connectedDevices"].([]any); !ok || len(devs) != 0 {
		t.Fatalf("connectedDevices=%v", body["connectedDevices"])
	}

	_, body = f.do(t, http.MethodGet, "/api/clear-history", "")
	if body["status"] != "success" || body["message"] != "History cleared" || f.tel.cleared != 1 {
		t.Fatalf("clear=%v cleared=%d", body, f.tel.cleared)
	}
}

func TestCollaboratorErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	cases := []struct {
		method, target, body string
		code                 int
		key                  string
	}{
		{http.MethodGet, "/cpu-usage", "", http.StatusOK, "cpu_usage"},
		{http.MethodGet, "/cpu-temperature", "", http.StatusServiceUnavailable, "error"},
		{http.MethodGet, "/gpu-usage", "", http.StatusServiceUnavailable, "error"},
		{http.MethodGet, "/gpu-temperature", "", http.StatusOK, "gpu_temperature"},
		{http.MethodGet, "/disk-usage", "", http.StatusInternalServerError, "error"},
		{http.MethodGet, "/battery", "", http.StatusServiceUnavailable, "error"},
		{http.MethodGet, "/api/disks", "", http.StatusOK, "disks"},
		{http.MethodGet, "/processes?limit=3", "", http.StatusOK, "processes"},
		{http.MethodGet, "/power_consumption", "", http.StatusOK, "status"},
		{http.MethodPost, "/set-power-plan", `{"plan":"Balanced"}`, http.StatusOK, "message"},
		{http.MethodPost, "/set_power_plan", `{"plan":"Turbo"}`, http.StatusBadRequest, "error"},
		{http.MethodPost, "/set-power-plan", `{}`, http.StatusBadRequest, "error"},
		{http.MethodGet, "/api/gaming-mode/status", "", http.StatusOK, "gaming_mode"},
		{http.MethodPost, "/gaming-mode/enable", "", http.StatusOK, "optimizations"},
		{http.MethodGet, "/nope", "", http.StatusNotFound, "error"},
	}
	for _, tc := range cases {
		rec, body := f.do(t, tc.method, tc.target, tc.body)
		if rec.Code != tc.code {
			t.Fatalf("%s %s status=%d want %d body=%s", tc.method, tc.target, rec.Code, tc.code, rec.Body.String())
		}
		if _, ok := body[tc.key]; !ok {
			t.Fatalf("%s %s missing %q: %s", tc.method, tc.target, tc.key, rec.Body.String())
		}
	}
	_, body := f.do(t, http.MethodGet, "/processes?limit=3", "")
	if procs, _ := body["processes"].([]any); len(procs) != 3 {
		t.Fatalf("processes=%v", body["processes"])
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	rec, body := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["runtime"] == nil {
		t.Fatalf("health=%d %v", rec.Code, body)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{RatePerSec: 1, Burst: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := f.do(t, http.MethodGet, "/api/connection-quality", "")
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes=%v", codes)
	}
	if rec, _ := f.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must bypass the limiter, got %d", rec.Code)
	}

	f.srv.SetRateLimit(0, 0)
	if rec, _ := f.do(t, http.MethodGet, "/api/connection-quality", ""); rec.Code != http.StatusOK {
		t.Fatalf("disabled limiter status=%d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{CORSOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/network", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("preflight=%d headers=%v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/network", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight=%d", rec.Code)
	}
}

type panicTelemetry struct{ fakeTelemetry }

func (p *panicTelemetry) ConnectionQuality() telemetry.ConnectionQuality { panic("boom") }

func TestRecoverReturnsJSON500(t *testing.T) {
	t.Parallel()
	srv := New(Deps{Telemetry: &panicTelemetry{}}, Options{}, logx.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connection-quality", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("panic response=%d %s", rec.Code, rec.Body.String())
	}
}

func TestStreamForwardsBusEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.tel.snap = &telemetry.Snapshot{Ping: 12}
	f.tel.updated = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.Stream().Run(ctx)

	ts := httptest.NewServer(f.h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello streamMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "connected" || hello.Data == nil {
		t.Fatalf("hello=%+v err=%v", hello, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.srv.Stream().Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.srv.Stream().Clients() != 1 {
		t.Fatalf("clients=%d want 1", f.srv.Stream().Clients())
	}

	// Run subscribes asynchronously; keep publishing until a frame arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			f.bus.Publish(eventbus.Event{Type: eventbus.NetworkRefreshed, Data: telemetry.Snapshot{Ping: 13}})
			select {
			case <-stop:
				return
			case <-tick.C:
			}
		}
	}()

	var msg struct {
		Type string             `json:"type"`
		Data telemetry.Snapshot `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != eventbus.NetworkRefreshed || msg.Data.Ping != 13 {
		t.Fatalf("msg=%+v", msg)
	}
}
