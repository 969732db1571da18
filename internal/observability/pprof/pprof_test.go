package pprof

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hostpulse/pkg/logx"
)

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"":              DefaultPrefix,
		"  ":            DefaultPrefix,
		"debug":         "/debug/",
		"/x/pprof":      "/x/pprof/",
		"/debug/pprof/": "/debug/pprof/",
	}
	for in, want := range cases {
		if got := NormalizePrefix(in); got != want {
			t.Fatalf("NormalizePrefix(%q)=%q want %q", in, got, want)
		}
	}
}

func TestMountDisabledRegistersNothing(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	if p := Mount(mux, Config{}, logx.Nop()); p != "" {
		t.Fatalf("prefix=%q want empty", p)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPrefix, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rec.Code)
	}
}

func TestMountCustomPrefixServesNamedProfile(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	prefix := Mount(mux, Config{Enabled: true, Prefix: "/internal/prof", MutexProfileFraction: -1, BlockProfileRate: -1}, logx.Nop())
	if prefix != "/internal/prof/" {
		t.Fatalf("prefix=%q", prefix)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/prof/goroutine?debug=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("unexpected body: %.200s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/prof", nil))
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("bare base status=%d want 301", rec.Code)
	}
}
