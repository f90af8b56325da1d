package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoleRecorderIncrementsLabelledCounters(t *testing.T) {
	reg, handler := New(func() float64 { return 2 })

	rec := reg.For("modbus")
	rec.PollCycle()
	rec.PollCycle()
	rec.PollFailure()
	rec.PointsEmitted(3)
	rec.PointsWritten(3)
	rec.PointsEmitted(0)  // ignored
	rec.PointsEmitted(-5) // ignored

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	for _, want := range []string{
		`gateway_poll_cycles_total{role="modbus"} 2`,
		`gateway_poll_failures_total{role="modbus"} 1`,
		`gateway_points_emitted_total{role="modbus"} 3`,
		`gateway_points_written_total{role="modbus"} 3`,
		`gateway_active_workers 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestWorkerRestartAndForwarderRecorders(t *testing.T) {
	reg, handler := New(func() float64 { return 0 })

	reg.WorkerRestart("modbus")
	reg.WorkerRestart("modbus")
	reg.RecordPublished(5)
	reg.RecordPublished(0) // ignored
	reg.RecordLag(0)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	for _, want := range []string{
		`gateway_worker_restarts_total{role="modbus"} 2`,
		`gateway_points_published_total 5`,
		`gateway_forwarder_lag_milliseconds 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestDistinctRolesGetIndependentCounters(t *testing.T) {
	reg, handler := New(func() float64 { return 0 })

	reg.For("modbus").PollCycle()
	reg.For("opcua-poll").PollCycle()
	reg.For("opcua-poll").PollCycle()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, `gateway_poll_cycles_total{role="modbus"} 1`) {
		t.Errorf("expected modbus role counter at 1, got:\n%s", body)
	}
	if !strings.Contains(body, `gateway_poll_cycles_total{role="opcua-poll"} 2`) {
		t.Errorf("expected opcua-poll role counter at 2, got:\n%s", body)
	}
}
