package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hostpulse/internal/eventbus"
	"hostpulse/internal/network/scan"
	"hostpulse/internal/network/speedtest"
	"hostpulse/internal/network/telemetry"
	"hostpulse/pkg/logx"
)

// Messages returned by the speed test endpoints.
const (
	msgSpeedTestStarted  = "Speed test started"
	msgSpeedTestRunning  = "Speed test already in progress"
	msgNoSpeedTestResult = "No speed test has been run yet"
)

type speedTestStartResponse struct {
	Message string           `json:"message"`
	Status  speedtest.Status `json:"status"`
}

type allResponse struct {
	NetworkData         *telemetry.Snapshot         `json:"networkData"`
	ConnectedDevices    []scan.Device               `json:"connectedDevices"`
	BandwidthHistory    []telemetry.BandwidthSample `json:"bandwidthHistory"`
	DataTransferHistory []telemetry.TransferPoint   `json:"dataTransferHistory"`
	IOData              telemetry.IOData            `json:"ioData"`
	LastUpdated         *time.Time                  `json:"lastUpdated"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	snap, err := s.deps.Telemetry.EnsureSnapshot(ctx)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, snap, http.StatusOK)
}

func (s *Server) handleSpeedTestStart(w http.ResponseWriter, _ *http.Request) {
	if s.deps.SpeedTests == nil {
		respondMessage(w, "speed test is not configured", http.StatusServiceUnavailable)
		return
	}
	st, err := s.deps.SpeedTests.Start()
	switch {
	case errors.Is(err, speedtest.ErrAlreadyRunning):
		respondJSON(w, speedTestStartResponse{Message: msgSpeedTestRunning, Status: st}, http.StatusOK)
	case err != nil:
		respondError(w, err)
	default:
		respondJSON(w, speedTestStartResponse{Message: msgSpeedTestStarted, Status: st}, http.StatusOK)
	}
}

func (s *Server) handleSpeedTestStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.SpeedTests == nil {
		respondMessage(w, "speed test is not configured", http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, s.deps.SpeedTests.Status(), http.StatusOK)
}

func (s *Server) handleSpeedTestResult(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.deps.Telemetry.SpeedTest()
	if !ok {
		respondMessage(w, msgNoSpeedTestResult, http.StatusNotFound)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

// handleDevices returns the cached scan, scanning first when none exists or ?refresh is set.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	devs, ok := s.deps.Telemetry.Devices()
	if ok && !truthy(r.URL.Query().Get("refresh")) {
		respondJSON(w, devs, http.StatusOK)
		return
	}
	if s.deps.Scanner == nil {
		respondMessage(w, "device scanner is not configured", http.StatusServiceUnavailable)
		return
	}

	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	devs = s.deps.Scanner.Scan(ctx)
	s.deps.Telemetry.SetDevices(devs)
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.DevicesScanned, Data: devs})
	}
	respondJSON(w, devs, http.StatusOK)
}

func (s *Server) handleBandwidthHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.deps.Telemetry.BandwidthHistory(windowParam(r)), http.StatusOK)
}

func (s *Server) handleDataTransferHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.deps.Telemetry.DataTransferHistory(windowParam(r)), http.StatusOK)
}

func (s *Server) handleConnectionQuality(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, s.deps.Telemetry.ConnectionQuality(), http.StatusOK)
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	resp := allResponse{
		ConnectedDevices: []scan.Device{},
		BandwidthHistory: s.deps.Telemetry.BandwidthHistory(telemetry.Window5Min),
		// Transfer points are spaced minutes apart, so a short window is usually empty.
		DataTransferHistory: s.deps.Telemetry.DataTransferHistory(telemetry.Window1Day),
		IOData:              s.deps.Telemetry.IOData(),
	}
	if snap, err := s.deps.Telemetry.EnsureSnapshot(ctx); err == nil {
		resp.NetworkData = &snap
	} else {
		s.log.Warn("snapshot unavailable for /api/all", logx.Err(err))
	}
	if devs, ok := s.deps.Telemetry.Devices(); ok {
		resp.ConnectedDevices = devs
	}
	if t := s.deps.Telemetry.LastUpdated(); !t.IsZero() {
		resp.LastUpdated = &t
	}
	respondJSON(w, resp, http.StatusOK)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.deps.Telemetry.ClearHistory()
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.HistoryCleared})
	}
	respondJSON(w, map[string]string{"status": "success", "message": "History cleared"}, http.StatusOK)
}

func (s *Server) handleNetworkIO(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, s.deps.Telemetry.IOData(), http.StatusOK)
}

// windowParam reads ?window= (or the older ?timeframe=). Absent means the last 5 minutes;
// an unrecognized value means everything.
func windowParam(r *http.Request) telemetry.Window {
	q := r.URL.Query()
	raw := q.Get("window")
	if raw == "" {
		raw = q.Get("timeframe")
	}
	if strings.TrimSpace(raw) == "" {
		return telemetry.Window5Min
	}
	return telemetry.ParseWindow(raw)
}

func truthy(s string) bool {
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
