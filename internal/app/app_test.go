package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zep-us/httpjobs/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:             0,
		ShutdownDrainSeconds:   0,
		ShutdownTimeoutSeconds: 5,
		AllowedOrigins:         []string{"*"},
		MaxRequestSizeMB:       1,
		AsyncCapacity:          4,
		BgCapacity:             4,
		BgPoolSize:             2,
		ShutdownGraceSeconds:   1,
		RequestTimeoutSeconds:  5,
		ConnectTimeoutSeconds:  5,
		UserAgent:              "httpjobs-test",
		MaxResponseBodyMB:      1,
		RateLimitBurst:         1,
	}
}

// newTestApp wires handlers and middleware without opening a listener
func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app := NewApp(cfg)
	if err := app.injectDependency(); err != nil {
		t.Fatalf("injectDependency failed: %v", err)
	}
	app.setupServer()
	t.Cleanup(func() { app.client.Shutdown(context.Background()) })
	return app
}

func (a *App) serve(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

// TestApp_ReadinessFlag_StartsAsFalse verifies readiness flag initialization
func TestApp_ReadinessFlag_StartsAsFalse(t *testing.T) {
	app := NewApp(testConfig())
	if app.readiness.Load() {
		t.Error("expected readiness to start as false, got true")
	}
}

// TestApp_InjectDependency_CreatesHandlers verifies the job client and handlers
func TestApp_InjectDependency_CreatesHandlers(t *testing.T) {
	app := newTestApp(t, testConfig())

	if app.client == nil {
		t.Fatal("expected job client to be created, got nil")
	}
	// HealthHandler, JobsHandler
	if len(app.httpHandlers) != 2 {
		t.Errorf("expected 2 handlers, got %d", len(app.httpHandlers))
	}
}

// TestApp_InjectDependency_RejectsBadCapacity verifies invalid family sizing surfaces as an error
func TestApp_InjectDependency_RejectsBadCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.BgCapacity = 0

	if err := NewApp(cfg).injectDependency(); err == nil {
		t.Error("expected error for zero bg capacity")
	}
}

// TestApp_ReadinessGate verifies API routes are refused while not ready and probes stay reachable
func TestApp_ReadinessGate(t *testing.T) {
	app := newTestApp(t, testConfig())

	if rec := app.serve(http.MethodGet, "/v1/jobs/stats", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for API route while not ready, got %d", rec.Code)
	}
	for _, path := range []string{"/healthz", "/metrics"} {
		if rec := app.serve(http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("expected %s to return 200 while not ready, got %d", path, rec.Code)
		}
	}
	if rec := app.serve(http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected /readyz to report 503 while not ready, got %d", rec.Code)
	}

	app.readiness.Store(true)
	if rec := app.serve(http.MethodGet, "/v1/jobs/stats", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 once ready, got %d", rec.Code)
	}
}

// TestApp_MetricsExposeHTTPAndJobSeries verifies /metrics merges middleware and job collectors
func TestApp_MetricsExposeHTTPAndJobSeries(t *testing.T) {
	app := newTestApp(t, testConfig())
	app.readiness.Store(true)

	app.serve(http.MethodPost, "/v1/jobs/async", `{"url":"http://127.0.0.1:1/"}`)

	body := app.serve(http.MethodGet, "/metrics", "").Body.String()
	for _, series := range []string{"httpjobs_requests_total", "httpjobs_jobs_submitted_total"} {
		if !strings.Contains(body, series) {
			t.Errorf("expected %s in /metrics output", series)
		}
	}
}

// TestApp_Serve_Lifecycle starts a real listener, runs a job and shuts down on cancel
func TestApp_Serve_Lifecycle(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	}))
	defer target.Close()

	app := NewApp(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	var base string
	deadline := time.Now().Add(5 * time.Second)
	for base == "" && time.Now().Before(deadline) {
		if addr := app.echo.ListenerAddr(); addr != nil && app.readiness.Load() {
			base = "http://" + addr.String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if base == "" {
		cancel()
		t.Fatal("server did not start")
	}

	resp, err := http.Post(base+"/v1/jobs/bg", "application/json", strings.NewReader(`{"url":"`+target.URL+`"}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var result struct {
		Code int    `json:"code"`
		Body string `json:"body"`
	}
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/v1/jobs/bg/result")
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			json.NewDecoder(resp.Body).Decode(&result)
			resp.Body.Close()
			break
		}
		resp.Body.Close()
		time.Sleep(10 * time.Millisecond)
	}
	if result.Code != http.StatusOK || result.Body != "pong" {
		t.Errorf("unexpected result: %+v", result)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if app.readiness.Load() {
		t.Error("expected readiness=false after shutdown")
	}
}
