// Package inventory implements the live device list of §4.4: identity-based
// dedup/update/remove, per-device watchdog timers, and an EventBus fanning
// out APPEND_DEV/REMOVE_DEV/UPDATE_DEV/POLL_RESPONSE/CMD_RESPONSE/CON_FAIL
// to observers.
package inventory

import (
	"net"
	"sync"
	"time"

	"dsu/device"
	"dsu/locator"
)

// WatchdogTimeout is the per-device liveness window, restarted on every
// received packet (poll response or command response), §4.4.
const WatchdogTimeout = 10 * time.Second

// Inventory is the live, locked device list plus its EventBus.
type Inventory struct {
	mu        sync.Mutex
	devices   []*device.Device
	watchdogs map[*device.Device]*time.Timer

	bus    *EventBus
	sender device.Sender
	ifaces func() []locator.Iface

	watchdogTimeout time.Duration
	log             func(format string, args ...interface{})
}

// New creates an empty Inventory. sender is used to build Device instances
// for freshly discovered peers; ifaces returns the current interface list
// for subnet pinning.
func New(sender device.Sender, ifaces func() []locator.Iface, logFn func(format string, args ...interface{})) *Inventory {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Inventory{
		watchdogs:       make(map[*device.Device]*time.Timer),
		bus:             NewEventBus(),
		sender:          sender,
		ifaces:          ifaces,
		watchdogTimeout: WatchdogTimeout,
		log:             logFn,
	}
}

// Bus returns the inventory's EventBus, for Subscribe/SubscribeTypes/
// Unsubscribe — the Go equivalent of §4.4's bind/unbind(events=None means
// all).
func (inv *Inventory) Bus() *EventBus {
	return inv.bus
}

// Append inserts dev, or recognizes it as an existing device by instance or
// by identity (§3's serial/addr rule), per §4.4's append contract. Exported
// for direct use; OnDiscoveryReply is the usual caller.
func (inv *Inventory) Append(dev *device.Device) {
	inv.mu.Lock()

	for _, existing := range inv.devices {
		if existing == dev {
			inv.restartWatchdogLocked(existing)
			inv.mu.Unlock()
			inv.emit(EventPollResponse, existing, nil, nil)
			return
		}
	}

	for _, existing := range inv.devices {
		if existing.Equal(dev) {
			inv.restartWatchdogLocked(existing)
			changed := existing.ApplySummary(summaryOf(dev), inv.currentIfaces())
			inv.mu.Unlock()
			inv.emit(EventPollResponse, existing, nil, nil)
			if changed {
				inv.emit(EventUpdateDev, existing, nil, nil)
			}
			return
		}
	}

	inv.devices = append(inv.devices, dev)
	inv.armWatchdogLocked(dev)
	inv.mu.Unlock()
	inv.emit(EventAppendDev, dev, nil, nil)
}

// summaryOf reconstructs a locator.Summary from dev's current settings, so a
// freshly built incoming Device can be folded into an existing one via
// ApplySummary without re-decoding the wire frame.
func summaryOf(dev *device.Device) locator.Summary {
	s := dev.Settings()
	return locator.Summary{
		Serial: dev.SerialBytes(), MAC: dev.MAC(),
		Model: s.Model, BootMode: s.BootMode,
		FWVer: s.FWVer, BtldrVer: s.BtldrVer, PCBVer: s.PCBVer,
		Name: s.Name, IP: s.IP, Mask: s.Mask, Gateway: s.Gateway, Host: s.Host,
		Port: s.Port, Comment: s.Comment,
	}
}

func (inv *Inventory) currentIfaces() []locator.Iface {
	if inv.ifaces == nil {
		return nil
	}
	return inv.ifaces()
}

// Remove deletes dev by identity, cancelling its watchdog, per §4.4.
func (inv *Inventory) Remove(dev *device.Device) {
	inv.mu.Lock()
	idx := -1
	for i, existing := range inv.devices {
		if existing == dev || existing.Equal(dev) {
			idx = i
			break
		}
	}
	if idx < 0 {
		inv.mu.Unlock()
		return
	}
	removed := inv.devices[idx]
	inv.devices = append(inv.devices[:idx], inv.devices[idx+1:]...)
	inv.cancelWatchdogLocked(removed)
	inv.mu.Unlock()

	inv.emit(EventRemoveDev, removed, nil, nil)
}

// Clear cancels every watchdog, drops every observer, and empties the list.
func (inv *Inventory) Clear() {
	inv.mu.Lock()
	for _, t := range inv.watchdogs {
		t.Stop()
	}
	inv.watchdogs = make(map[*device.Device]*time.Timer)
	inv.devices = nil
	inv.mu.Unlock()

	inv.bus.Clear()
}

// ResponseProcessing locates the device by serial and restarts its
// watchdog; if cmd is not REQUEST it emits CMD_RESPONSE with cmd and
// payload, §4.4.
func (inv *Inventory) ResponseProcessing(header *locator.Header, payload []byte) {
	inv.mu.Lock()
	var found *device.Device
	for _, d := range inv.devices {
		if d.HasSerial() && d.SerialStr() == locator.SerialString(header.Serial) {
			found = d
			break
		}
	}
	if found != nil {
		inv.restartWatchdogLocked(found)
	}
	inv.mu.Unlock()

	if found == nil {
		return
	}
	if header.Cmd != locator.CmdRequest {
		inv.emit(EventCmdResponse, found, header.Cmd, payload)
	}
}

// Snapshot copies out every device's current state under the inventory
// lock, for the api/store packages (SPEC_FULL §3 addition).
func (inv *Inventory) Snapshot() []device.Summary {
	inv.mu.Lock()
	devices := append([]*device.Device(nil), inv.devices...)
	inv.mu.Unlock()

	out := make([]device.Summary, len(devices))
	for i, d := range devices {
		out[i] = d.Snapshot()
	}
	return out
}

// Devices returns a copy of the current device list.
func (inv *Inventory) Devices() []*device.Device {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return append([]*device.Device(nil), inv.devices...)
}

func (inv *Inventory) armWatchdogLocked(dev *device.Device) {
	inv.watchdogs[dev] = time.AfterFunc(inv.watchdogTimeout, func() { inv.onWatchdogExpired(dev) })
}

func (inv *Inventory) restartWatchdogLocked(dev *device.Device) {
	if t, ok := inv.watchdogs[dev]; ok {
		t.Stop()
	}
	inv.watchdogs[dev] = time.AfterFunc(inv.watchdogTimeout, func() { inv.onWatchdogExpired(dev) })
}

func (inv *Inventory) cancelWatchdogLocked(dev *device.Device) {
	if t, ok := inv.watchdogs[dev]; ok {
		t.Stop()
		delete(inv.watchdogs, dev)
	}
}

func (inv *Inventory) onWatchdogExpired(dev *device.Device) {
	inv.log("inventory: watchdog expired for %s", dev)
	inv.emit(EventConFail, dev, nil, nil)
	inv.Remove(dev)
}

func (inv *Inventory) emit(t EventType, dev *device.Device, cmd interface{}, pack []byte) {
	inv.bus.Emit(Event{Type: t, Device: dev, Cmd: cmd, Pack: pack})
}

// --- locator.FrameHandler implementation -----------------------------------

// OnDiscoveryReply implements locator.FrameHandler: it folds a discovery
// reply into the inventory, building a new Device for a never-seen peer.
func (inv *Inventory) OnDiscoveryReply(summary locator.Summary, from *net.UDPAddr) {
	dev := device.FromSummary(summary, from, inv.currentIfaces(), inv.sender)
	inv.Append(dev)
}

// OnCommandResponse implements locator.FrameHandler: it restarts the
// device's watchdog, emits CMD_RESPONSE, and forwards the response into
// that device's command queue for classification.
func (inv *Inventory) OnCommandResponse(header *locator.Header, payload []byte, from *net.UDPAddr) {
	inv.ResponseProcessing(header, payload)

	inv.mu.Lock()
	var found *device.Device
	for _, d := range inv.devices {
		if d.HasSerial() && d.SerialStr() == locator.SerialString(header.Serial) {
			found = d
			break
		}
	}
	inv.mu.Unlock()

	if found != nil && found.Queue != nil {
		cmd := header.Cmd
		found.Queue.HandleResponse(&cmd, payload)
	}
}
