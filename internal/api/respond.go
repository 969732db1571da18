package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"hostpulse/internal/network/telemetry"
	"hostpulse/internal/sysinfo"
	speedpkg "hostpulse/pkg/speedtest"
)

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, msg string, statusCode int) {
	respondJSON(w, map[string]string{"error": msg}, statusCode)
}

// respondError maps err to a status code and writes the {"error": ...} envelope.
func respondError(w http.ResponseWriter, err error) {
	respondMessage(w, err.Error(), errorStatus(err))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, sysinfo.ErrUnknownPlan),
		errors.Is(err, speedpkg.ErrImplausibleSpeed),
		errors.Is(err, speedpkg.ErrTooSlow):
		return http.StatusBadRequest
	case errors.Is(err, sysinfo.ErrUnavailable),
		errors.Is(err, telemetry.ErrNotRefreshed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
