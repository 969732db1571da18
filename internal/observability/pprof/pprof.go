// Package pprof mounts net/http/pprof on an existing mux under a configurable prefix.
package pprof

import (
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"hostpulse/pkg/logx"
)

// DefaultPrefix is where handlers are mounted when Config.Prefix is empty.
const DefaultPrefix = "/debug/pprof/"

type Config struct {
	Enabled              bool
	Prefix               string
	MutexProfileFraction int
	BlockProfileRate     int
}

// Mount registers the profiling handlers on mux when cfg.Enabled and applies the runtime
// profile rates. It returns the normalized prefix, or "" when disabled.
func Mount(mux *http.ServeMux, cfg Config, log logx.Logger) string {
	if mux == nil || !cfg.Enabled {
		return ""
	}
	ApplyRuntimeRates(cfg)

	prefix := NormalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")

	mux.HandleFunc(prefix, indexAt(prefix))
	mux.HandleFunc(base+"/cmdline", hpprof.Cmdline)
	mux.HandleFunc(base+"/profile", hpprof.Profile)
	mux.HandleFunc(base+"/symbol", hpprof.Symbol)
	mux.HandleFunc(base+"/trace", hpprof.Trace)
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusMovedPermanently)
	})

	log.Info("pprof mounted",
		logx.String("prefix", prefix),
		logx.Int("mutex_fraction", cfg.MutexProfileFraction),
		logx.Int("block_rate", cfg.BlockProfileRate),
	)
	return prefix
}

// ApplyRuntimeRates sets the mutex and block profile rates. Negative values are ignored.
func ApplyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

func NormalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = DefaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index resolves named profiles relative to /debug/pprof/, so custom prefixes are
// rewritten before the call.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(r.URL.Path, prefix)
		r2 := r.Clone(r.Context())
		r2.URL.Path = DefaultPrefix + suffix
		hpprof.Index(w, r2)
	}
}
