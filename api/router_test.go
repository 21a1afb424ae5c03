package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dsu/config"
	"dsu/device"
	"dsu/inventory"
	"dsu/locator"
	"dsu/queue"
)

// fakeSender is a no-op device.Sender so devices can be constructed and
// enqueue commands without any real socket.
type fakeSender struct{}

func (fakeSender) SendLocator(*device.Device, locator.Cmd, []byte) error { return nil }
func (fakeSender) SendRaw(*device.Device, []byte) error                  { return nil }

func newTestServer(cfg *config.APIConfig) (*Server, *inventory.Inventory) {
	inv := inventory.New(fakeSender{}, func() []locator.Iface { return nil }, nil)
	if cfg == nil {
		cfg = &config.APIConfig{}
	}
	return NewServer(inv, cfg, nil), inv
}

// testDevice builds a discovered (serial-bearing) device so its /devices/{serial}
// route segment is non-empty and unambiguous.
func testDevice(serialByte byte, ip string) *device.Device {
	var serial [locator.SerialLen]byte
	serial[0] = serialByte
	summary := locator.Summary{
		Serial: serial, Name: "dev", IP: net.ParseIP(ip), Port: 1775,
	}
	return device.FromSummary(summary, &net.UDPAddr{IP: net.ParseIP(ip), Port: 1775}, nil, fakeSender{})
}

func TestHandleListDevices_Empty(t *testing.T) {
	s, _ := newTestServer(nil)
	req := httptest.NewRequest("GET", "/devices", nil)
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []deviceResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty device list, got %d", len(out))
	}
}

func TestHandleListDevices_ReflectsInventory(t *testing.T) {
	s, inv := newTestServer(nil)
	dev := testDevice(0x01, "192.168.0.120")
	inv.Append(dev)

	req := httptest.NewRequest("GET", "/devices", nil)
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)

	var out []deviceResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 device, got %d", len(out))
	}
	if out[0].IP != "192.168.0.120" {
		t.Errorf("unexpected ip: %s", out[0].IP)
	}
	if out[0].Serial != dev.SerialStr() {
		t.Errorf("unexpected serial: %s", out[0].Serial)
	}
}

func TestHandleQueueStatus_NotFound(t *testing.T) {
	s, _ := newTestServer(nil)
	req := httptest.NewRequest("GET", "/devices/deadbeef/queue", nil)
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleQueueStatus_Found(t *testing.T) {
	s, inv := newTestServer(nil)
	dev := testDevice(0x02, "192.168.0.121")
	inv.Append(dev)

	req := httptest.NewRequest("GET", "/devices/"+dev.SerialStr()+"/queue", nil)
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleAppendCommand(t *testing.T) {
	s, inv := newTestServer(nil)
	dev := testDevice(0x03, "192.168.0.122")
	inv.Append(dev)

	body := `{"code":"SET_PRIMARY","pack":"0102","timeout_ms":500}`
	req := httptest.NewRequest("POST", "/devices/"+dev.SerialStr()+"/commands", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if dev.Queue.Len() != 1 {
		t.Fatalf("expected 1 queued entry, got %d", dev.Queue.Len())
	}
}

func TestHandleAppendCommand_BadHex(t *testing.T) {
	s, inv := newTestServer(nil)
	dev := testDevice(0x04, "192.168.0.123")
	inv.Append(dev)

	body := `{"code":"SET_PRIMARY","pack":"zz"}`
	req := httptest.NewRequest("POST", "/devices/"+dev.SerialStr()+"/commands", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAppendCommand_UnknownCode(t *testing.T) {
	s, inv := newTestServer(nil)
	dev := testDevice(0x05, "192.168.0.124")
	inv.Append(dev)

	body := `{"code":"NOT_A_CMD","pack":""}`
	req := httptest.NewRequest("POST", "/devices/"+dev.SerialStr()+"/commands", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRunAndStopQueue(t *testing.T) {
	s, inv := newTestServer(nil)
	dev := testDevice(0x06, "192.168.0.125")
	inv.Append(dev)
	dev.Queue.Append(&queue.Entry{Code: nil, Pack: []byte{0x01}, Timeout: 5 * time.Millisecond})

	req := httptest.NewRequest("POST", "/devices/"+dev.SerialStr()+"/run", nil)
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 running, got %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/devices/"+dev.SerialStr()+"/stop", nil)
	rec = httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 stop, got %d", rec.Code)
	}
	dev.Queue.Wait()
}

func TestRequireAuth_RejectsWithoutSession(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	cfg := &config.APIConfig{AuthEnabled: true, Operator: "admin", PasswordHash: string(hash)}
	s, inv := newTestServer(cfg)
	dev := testDevice(0x07, "192.168.0.126")
	inv.Append(dev)

	req := httptest.NewRequest("POST", "/devices/"+dev.SerialStr()+"/run", nil)
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
}

func TestLoginLogout(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	cfg := &config.APIConfig{AuthEnabled: true, Operator: "admin", PasswordHash: string(hash)}
	s, _ := newTestServer(cfg)

	body := `{"operator":"admin","password":"wrong"}`
	req := httptest.NewRequest("POST", "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}

	body = `{"operator":"admin","password":"secret"}`
	req = httptest.NewRequest("POST", "/login", strings.NewReader(body))
	rec = httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for correct password, got %d", rec.Code)
	}
}

func TestToResponse_NilIP(t *testing.T) {
	resp := toResponse(device.FromAddr(nil, 0, fakeSender{}).Snapshot())
	if resp.IP != "" {
		t.Errorf("expected empty IP string for nil IP, got %q", resp.IP)
	}
}
