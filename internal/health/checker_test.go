package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

func TestChecker_Check_Shallow(t *testing.T) {
	checker := NewChecker(DefaultConfig("test-service", testLogger()))

	status := checker.Check(context.Background(), false)

	if status.Status != "healthy" {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
	if status.Service != "test-service" {
		t.Errorf("Service = %s, want test-service", status.Service)
	}
	if len(status.Checks) != 0 {
		t.Errorf("Checks should be empty for shallow check, got %d", len(status.Checks))
	}
}

func TestChecker_Check_Deep_DataDirHealthy(t *testing.T) {
	config := DefaultConfig("test-service", testLogger())
	config.DataDir = t.TempDir()
	checker := NewChecker(config)

	status := checker.Check(context.Background(), true)

	if status.Status != "healthy" {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
	if status.Checks["data_dir"].Status != "healthy" {
		t.Errorf("data_dir check = %s, want healthy", status.Checks["data_dir"].Status)
	}
}

func TestChecker_Check_Deep_DataDirUnwritable(t *testing.T) {
	config := DefaultConfig("test-service", testLogger())
	config.DataDir = filepath.Join(t.TempDir(), "does-not-exist")
	checker := NewChecker(config)

	status := checker.Check(context.Background(), true)

	if status.Status != "degraded" {
		t.Errorf("Status = %s, want degraded", status.Status)
	}
	if status.Checks["data_dir"].Status != "unhealthy" {
		t.Errorf("data_dir check = %s, want unhealthy", status.Checks["data_dir"].Status)
	}
	if status.Checks["data_dir"].Error == "" {
		t.Error("data_dir check should carry an error message")
	}
}

func TestChecker_Check_Caching(t *testing.T) {
	config := &Config{
		ServiceName:    "test-service",
		Logger:         testLogger(),
		CacheTTL:       time.Hour,
		CheckTimeout:   time.Second,
		DeepCheckLimit: time.Millisecond,
	}
	checker := NewChecker(config)

	status1 := checker.Check(context.Background(), false)
	status2 := checker.Check(context.Background(), false)

	if status1.Timestamp != status2.Timestamp {
		t.Error("Cached result should have same timestamp")
	}
}

func TestChecker_CanPerformDeepCheck(t *testing.T) {
	checker := NewChecker(&Config{
		ServiceName:    "test-service",
		DeepCheckLimit: 50 * time.Millisecond,
	})

	if !checker.CanPerformDeepCheck() {
		t.Error("CanPerformDeepCheck() = false initially")
	}

	checker.RecordDeepCheck()
	if checker.CanPerformDeepCheck() {
		t.Error("CanPerformDeepCheck() = true immediately after recording")
	}

	time.Sleep(60 * time.Millisecond)
	if !checker.CanPerformDeepCheck() {
		t.Error("CanPerformDeepCheck() = false after limit passed")
	}
}

func TestChecker_Handler(t *testing.T) {
	checker := NewChecker(DefaultConfig("test-service", testLogger()))

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()

	checker.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Handler returned %d, want %d", rr.Code, http.StatusOK)
	}

	var status Status
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
}

func TestChecker_DeepHandler_RateLimited(t *testing.T) {
	config := &Config{
		ServiceName:    "test-service",
		Logger:         testLogger(),
		CacheTTL:       time.Second,
		CheckTimeout:   time.Second,
		DeepCheckLimit: time.Hour,
	}
	checker := NewChecker(config)
	checker.RecordDeepCheck()

	req := httptest.NewRequest("GET", "/health/deep", nil)
	rr := httptest.NewRecorder()

	checker.DeepHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Handler returned %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") != "10" {
		t.Errorf("Retry-After = %s, want 10", rr.Header().Get("Retry-After"))
	}
}
