package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandler_HealthyReturns200(t *testing.T) {
	h := NewHealthChecker()
	h.RegisterCheck("influxdb", func(ctx context.Context) (Status, string) {
		return StatusHealthy, "ok"
	}, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	Handler(h)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandler_UnhealthyReturns503(t *testing.T) {
	h := NewHealthChecker()
	h.RegisterCheck("broker", func(ctx context.Context) (Status, string) {
		return StatusUnhealthy, "connection refused"
	}, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	Handler(h)(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
