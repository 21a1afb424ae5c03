package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dsu/inventory"
)

func TestSubscribeUpdatesCounters(t *testing.T) {
	m := NewMetrics()
	bus := inventory.NewEventBus()
	m.Subscribe(bus)

	bus.Emit(inventory.Event{Type: inventory.EventAppendDev})
	bus.Emit(inventory.Event{Type: inventory.EventUpdateDev})
	bus.Emit(inventory.Event{Type: inventory.EventConFail})
	bus.Emit(inventory.Event{Type: inventory.EventRemoveDev})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "dsu_devices_appended_total 1") {
		t.Errorf("expected appended counter in output:\n%s", body)
	}
	if !strings.Contains(body, "dsu_devices_updated_total 1") {
		t.Errorf("expected updated counter in output:\n%s", body)
	}
	if !strings.Contains(body, "dsu_watchdog_con_fail_total 1") {
		t.Errorf("expected con_fail counter in output:\n%s", body)
	}
	if !strings.Contains(body, "dsu_devices_total 0") {
		t.Errorf("expected devices_total gauge to net to 0 after append+remove:\n%s", body)
	}
}

func TestRecordQueueOutcome(t *testing.T) {
	m := NewMetrics()
	m.RecordQueueOutcome("OK")
	m.RecordQueueOutcome("OK")
	m.RecordQueueOutcome("TIMEOUT")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `dsu_queue_outcomes_total{outcome="OK"} 2`) {
		t.Errorf("expected OK=2 in output:\n%s", body)
	}
	if !strings.Contains(body, `dsu_queue_outcomes_total{outcome="TIMEOUT"} 1`) {
		t.Errorf("expected TIMEOUT=1 in output:\n%s", body)
	}
}
