package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"hostpulse/pkg/logx"
)

// serveValue runs one collaborator read under the request timeout and writes its result.
func serveValue[T any](s *Server, w http.ResponseWriter, r *http.Request, read func(ctx context.Context) (T, error)) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	v, err := read(ctx)
	if err != nil {
		s.log.Debug("collaborator read failed", logx.String("path", r.URL.Path), logx.Err(err))
		respondError(w, err)
		return
	}
	respondJSON(w, v, http.StatusOK)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.SystemInfo)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.Memory)
}

func (s *Server) handleDisks(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, func(ctx context.Context) (any, error) {
		disks, err := s.deps.System.Disks(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"disks": disks}, nil
	})
}

func (s *Server) handleCPUUsage(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.CPUUsage)
}

func (s *Server) handleCPUTemperature(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.CPUTemperature)
}

func (s *Server) handleGPUUsage(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, func(ctx context.Context) (any, error) {
		v, err := s.deps.System.GPUUsage(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"gpu_usage_percent": v}, nil
	})
}

func (s *Server) handleGPUTemperature(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, func(ctx context.Context) (any, error) {
		v, err := s.deps.System.GPUTemperature(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]float64{"gpu_temperature": v}, nil
	})
}

func (s *Server) handleGPUStats(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.GPU)
}

func (s *Server) handleDiskUsage(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.DiskUsage)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	serveValue(s, w, r, func(ctx context.Context) (any, error) {
		procs, err := s.deps.System.Processes(ctx, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"processes": procs}, nil
	})
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.Battery)
}

func (s *Server) handlePowerConsumption(w http.ResponseWriter, r *http.Request) {
	serveValue(s, w, r, s.deps.System.PowerConsumption)
}

type powerPlanRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleSetPowerPlan(w http.ResponseWriter, r *http.Request) {
	var req powerPlanRequest
	if err := decodeJSONBody(w, r, &req); err != nil || strings.TrimSpace(req.Plan) == "" {
		respondMessage(w, "request body must be {\"plan\": \"...\"}", http.StatusBadRequest)
		return
	}
	serveValue(s, w, r, func(ctx context.Context) (any, error) {
		msg, err := s.deps.System.SetPowerPlan(ctx, req.Plan)
		if err != nil {
			return nil, err
		}
		return map[string]string{"message": msg}, nil
	})
}

func (s *Server) handleGamingStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, s.deps.System.GamingMode(), http.StatusOK)
}

func (s *Server) handleGamingEnable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	respondJSON(w, s.deps.System.EnableGamingMode(ctx), http.StatusOK)
}

func (s *Server) handleGamingDisable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	respondJSON(w, s.deps.System.DisableGamingMode(ctx), http.StatusOK)
}
