package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "shopwatch/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "shopwatch_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return New(Config{}, reg, func() (any, bool) {
		return map[string]any{"last_poll": "changed", "subscribers": 2}, true
	}, logx.Nop())
}

func get(t *testing.T, h http.Handler, target, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestRoutes(t *testing.T) {
	s := newTestService(t)
	h := s.Handler(Config{})

	code, body := get(t, h, "/metrics", "")
	if code != http.StatusOK || !strings.Contains(body, "shopwatch_test_total 1") {
		t.Fatalf("/metrics = %d %q", code, body)
	}
	code, body = get(t, h, "/healthz", "")
	if code != http.StatusOK || !strings.Contains(body, `"subscribers":2`) {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, _ = get(t, h, "/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof must be off by default, got %d", code)
	}

	h = s.Handler(Config{Pprof: true})
	if code, _ = get(t, h, "/debug/pprof/cmdline", ""); code != http.StatusOK {
		t.Fatalf("pprof cmdline = %d", code)
	}
}

func TestUnhealthy(t *testing.T) {
	s := New(Config{}, nil, func() (any, bool) { return map[string]string{"status": "degraded"}, false }, logx.Nop())
	if code, _ := get(t, s.Handler(Config{}), "/healthz", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", code)
	}
}

func TestToken(t *testing.T) {
	s := newTestService(t)
	h := s.Handler(Config{Token: "s3cret"})

	if code, _ := get(t, h, "/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", code)
	}
	if code, _ := get(t, h, "/healthz", "Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", code)
	}
	if code, _ := get(t, h, "/healthz", "Bearer s3cret"); code != http.StatusOK {
		t.Fatalf("bearer token = %d", code)
	}
	if code, _ := get(t, h, "/metrics?token=s3cret", ""); code != http.StatusOK {
		t.Fatalf("query token = %d", code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:9090":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestCheckBind(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "disabled", cfg: Config{Addr: "0.0.0.0:9090"}, ok: true},
		{name: "loopback", cfg: Config{Enabled: true, Addr: "127.0.0.1:9090"}, ok: true},
		{name: "default addr", cfg: Config{Enabled: true}, ok: true},
		{name: "public with token", cfg: Config{Enabled: true, Addr: "0.0.0.0:9090", Token: "s3cret"}, ok: true},
		{name: "public allowed", cfg: Config{Enabled: true, Addr: ":9090", AllowInsecure: true}, ok: true},
		{name: "public without token", cfg: Config{Enabled: true, Addr: "0.0.0.0:9090"}},
	}
	for _, tc := range cases {
		err := CheckBind(tc.cfg)
		if tc.ok && err != nil {
			t.Errorf("%s: %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInsecureBind) {
			t.Errorf("%s: err = %v, want ErrInsecureBind", tc.name, err)
		}
	}
}

func TestStartStop(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("address still set after stop")
	}
}
