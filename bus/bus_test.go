package bus

import (
	"encoding/json"
	"testing"
	"time"

	"dsu/inventory"
	"dsu/locator"
)

type stringerDevice string

func (s stringerDevice) String() string { return string(s) }

func TestEventOf(t *testing.T) {
	cmd := locator.CmdSetPrimary
	ev := inventory.Event{
		Type:      inventory.EventCmdResponse,
		Device:    stringerDevice("aabbcc"),
		Cmd:       cmd,
		Pack:      []byte{0x01, 0x02},
		Timestamp: time.Unix(0, 0),
	}

	out := eventOf(ev)
	if out.Type != inventory.EventCmdResponse.String() {
		t.Errorf("unexpected type: %s", out.Type)
	}
	if out.Device != "aabbcc" {
		t.Errorf("unexpected device: %s", out.Device)
	}
	if out.Cmd != cmd.String() {
		t.Errorf("unexpected cmd: %s", out.Cmd)
	}
	if len(out.Pack) != 2 {
		t.Errorf("unexpected pack length: %d", len(out.Pack))
	}
}

func TestEventOf_NoDeviceOrCmd(t *testing.T) {
	ev := inventory.Event{Type: inventory.EventConFail}
	out := eventOf(ev)
	if out.Device != "" || out.Cmd != "" {
		t.Errorf("expected empty device/cmd, got %q/%q", out.Device, out.Cmd)
	}
}

func TestEventMarshal(t *testing.T) {
	ev := Event{Type: "APPEND_DEV", Device: "x"}
	data := ev.marshal()
	if data == nil {
		t.Fatal("marshal returned nil")
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "APPEND_DEV" {
		t.Errorf("unexpected type in json: %v", decoded["type"])
	}
}
