package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type mockSettingsHealthChecker struct {
	pingErr error
}

func (m *mockSettingsHealthChecker) Ping(_ context.Context) error {
	return m.pingErr
}

type mockBreaker struct {
	state string
}

func (m *mockBreaker) BreakerState() string {
	return m.state
}

func setupHealthTestRouter(settings SettingsHealthChecker, breaker BreakerStateProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHealthHandler(settings, breaker, zerolog.Nop())
	handler.RegisterPublicRoutes(r)
	return r
}

func getHealth(t *testing.T, r *gin.Engine) (int, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	r.ServeHTTP(w, req)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	return w.Code, resp
}

func TestHealthOverall(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		r := setupHealthTestRouter(&mockSettingsHealthChecker{}, &mockBreaker{state: "closed"})

		code, resp := getHealth(t, r)
		if code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", code)
		}
		if resp.Status != HealthStatusHealthy {
			t.Fatalf("expected healthy status, got %q", resp.Status)
		}
	})

	t.Run("settings unhealthy", func(t *testing.T) {
		r := setupHealthTestRouter(&mockSettingsHealthChecker{pingErr: errors.New("database is locked")}, nil)

		code, resp := getHealth(t, r)
		if code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", code)
		}
		if resp.Checks["settings"].Error != "settings store ping failed" {
			t.Errorf("unexpected settings error %q", resp.Checks["settings"].Error)
		}
	})

	t.Run("open breaker degrades", func(t *testing.T) {
		r := setupHealthTestRouter(&mockSettingsHealthChecker{}, &mockBreaker{state: "open"})

		code, resp := getHealth(t, r)
		if code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", code)
		}
		if resp.Status != HealthStatusDegraded {
			t.Fatalf("expected degraded status, got %q", resp.Status)
		}
	})

	t.Run("nil settings", func(t *testing.T) {
		r := setupHealthTestRouter(nil, nil)

		code, _ := getHealth(t, r)
		if code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", code)
		}
	})

	t.Run("nil breaker is ok", func(t *testing.T) {
		r := setupHealthTestRouter(&mockSettingsHealthChecker{}, nil)

		code, resp := getHealth(t, r)
		if code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", code)
		}
		if resp.Checks["licensing"].Details["breaker"] != "disabled" {
			t.Errorf("expected disabled breaker, got %v", resp.Checks["licensing"].Details["breaker"])
		}
	})
}
