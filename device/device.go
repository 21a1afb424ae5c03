// Package device models a single discovered or seeded device: its identity,
// network settings, chosen outbound interface, and command queue.
package device

import (
	"fmt"
	"net"
	"sync"

	"dsu/locator"
	"dsu/queue"
)

// Sender is implemented by whatever owns the outbound sockets (normally the
// locator.Transport and eludp.Transport pair wired up by the caller) and is
// supplied to a Device at construction time.
type Sender interface {
	// SendLocator transmits a Locator-framed command to this device,
	// honoring the device's pinned interface if any.
	SendLocator(dev *Device, cmd locator.Cmd, payload []byte) error
	// SendRaw transmits a raw (unframed) ElUDP datagram directly to this
	// device's bound unicast address.
	SendRaw(dev *Device, payload []byte) error
}

// Settings is the mutable, comparable subset of a device's identity that
// §4.4's append/update logic compares to decide whether to emit UPDATE_DEV.
type Settings struct {
	Name     string
	IP       net.IP
	Mask     net.IP
	Gateway  net.IP
	Host     net.IP
	Port     uint16
	Comment  string
	Model    locator.Model
	BootMode locator.BootMode
	FWVer    locator.Version
	BtldrVer locator.Version
	PCBVer   locator.Version
}

// Equal reports whether two Settings are identical for update-detection
// purposes.
func (s Settings) Equal(o Settings) bool {
	return s.Name == o.Name &&
		s.IP.Equal(o.IP) &&
		s.Mask.Equal(o.Mask) &&
		s.Gateway.Equal(o.Gateway) &&
		s.Host.Equal(o.Host) &&
		s.Port == o.Port &&
		s.Comment == o.Comment &&
		s.Model == o.Model &&
		s.BootMode == o.BootMode &&
		s.FWVer == o.FWVer &&
		s.BtldrVer == o.BtldrVer &&
		s.PCBVer == o.PCBVer
}

// Device aggregates a device's identity, settings, command queue, and
// chosen outbound interface (§3, §4.4).
type Device struct {
	mu sync.RWMutex

	serial   [locator.SerialLen]byte
	mac      [6]byte
	settings Settings

	// addr/port is the device's own UDP source address — present for every
	// device (discovered ones learn it from the datagram source, seeded
	// unicast-only ones are constructed with it directly).
	addr *net.UDPAddr

	// ai is the pinned outbound interface, or nil if none matched (§3
	// invariant: commands then go out on every interface).
	ai *locator.Iface

	sender Sender
	Queue  *queue.Queue
}

// FromSummary builds a Device from a decoded discovery-reply summary and
// the datagram's source address, pinning it to whichever interface (if any)
// shares a subnet with the device's own ip/mask.
func FromSummary(summary locator.Summary, from *net.UDPAddr, ifaces []locator.Iface, sender Sender) *Device {
	d := &Device{
		serial: summary.Serial,
		mac:    summary.MAC,
		settings: Settings{
			Name: summary.Name, IP: summary.IP, Mask: summary.Mask,
			Gateway: summary.Gateway, Host: summary.Host, Port: summary.Port,
			Comment: summary.Comment, Model: summary.Model, BootMode: summary.BootMode,
			FWVer: summary.FWVer, BtldrVer: summary.BtldrVer, PCBVer: summary.PCBVer,
		},
		addr:   from,
		sender: sender,
	}
	d.pinInterface(ifaces)
	d.Queue = queue.New(d)
	return d
}

// FromAddr builds a unicast-only Device from a bare (ip, port) pair, with
// empty serial/MAC/versions, per §3's "device created from an address alone"
// rule.
func FromAddr(ip net.IP, port uint16, sender Sender) *Device {
	d := &Device{
		addr:     &net.UDPAddr{IP: ip, Port: int(port)},
		settings: Settings{IP: ip, Port: port},
		sender:   sender,
	}
	d.Queue = queue.New(d)
	return d
}

func (d *Device) pinInterface(ifaces []locator.Iface) {
	for i := range ifaces {
		ifc := ifaces[i]
		if ifc.SameSubnet(d.settings.IP, d.settings.Mask) {
			pinned := ifc
			d.ai = &pinned
			return
		}
	}
	d.ai = nil
}

// SameSubnet reports whether ip/mask shares a subnet with this interface.
// Exported so callers outside the package (tests, inventory) can exercise
// §3's pinning invariant directly.
func (d *Device) SameSubnet(ifc locator.Iface) bool {
	return ifc.SameSubnet(d.settings.IP, d.settings.Mask)
}

// HasSerial reports whether the device carries a non-empty serial number.
func (d *Device) HasSerial() bool {
	return SerialString(d.serial) != ""
}

// SerialStr renders the device's serial per the display rule in §3.
func (d *Device) SerialStr() string {
	return locator.SerialString(d.serial)
}

// SerialString is an internal helper mirroring locator.SerialString so
// HasSerial can check for an all-zero serial without importing cycles.
func SerialString(serial [locator.SerialLen]byte) string {
	for _, b := range serial {
		if b != 0 {
			return locator.SerialString(serial)
		}
	}
	return ""
}

// SerialBytes satisfies the duck-typed interface locator.Transport.Send uses
// to pick a non-wildcard serial for non-REQUEST commands.
func (d *Device) SerialBytes() [locator.SerialLen]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.serial
}

// MAC returns the device's reported MAC address.
func (d *Device) MAC() [6]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mac
}

// Addr returns the device's own UDP source address.
func (d *Device) Addr() *net.UDPAddr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

// Settings returns a copy of the device's current settings.
func (d *Device) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// PinnedInterface returns the device's pinned interface, or nil.
func (d *Device) PinnedInterface() *locator.Iface {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ai
}

// PinnedBroadcast implements locator.InterfaceSelector.
func (d *Device) PinnedBroadcast() (net.IP, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ai == nil {
		return nil, false
	}
	return d.ai.Broadcast, true
}

// Equal implements the identity rule of §3: serials match when both are
// non-empty, otherwise (ip, port) must match.
func (d *Device) Equal(o *Device) bool {
	if o == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	aSerial, bSerial := SerialString(d.serial), SerialString(o.serial)
	if aSerial != "" && bSerial != "" {
		return aSerial == bSerial
	}
	return addrEqual(d.addr, o.addr)
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// ApplySummary updates settings (and re-pins the interface) from a fresh
// discovery reply summary. It returns whether anything changed.
func (d *Device) ApplySummary(summary locator.Summary, ifaces []locator.Iface) bool {
	next := Settings{
		Name: summary.Name, IP: summary.IP, Mask: summary.Mask,
		Gateway: summary.Gateway, Host: summary.Host, Port: summary.Port,
		Comment: summary.Comment, Model: summary.Model, BootMode: summary.BootMode,
		FWVer: summary.FWVer, BtldrVer: summary.BtldrVer, PCBVer: summary.PCBVer,
	}

	d.mu.Lock()
	changed := !d.settings.Equal(next)
	d.mac = summary.MAC
	d.settings = next
	d.mu.Unlock()

	d.pinInterfaceLocked(ifaces)
	return changed
}

func (d *Device) pinInterfaceLocked(ifaces []locator.Iface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range ifaces {
		ifc := ifaces[i]
		if ifc.SameSubnet(d.settings.IP, d.settings.Mask) {
			pinned := ifc
			d.ai = &pinned
			return
		}
	}
	d.ai = nil
}

// SendLocator sends a LocatorCmd-coded queue entry via the transport.
func (d *Device) SendLocator(cmd locator.Cmd, payload []byte) error {
	if d.sender == nil {
		return fmt.Errorf("device %s: no sender configured", d.SerialStr())
	}
	return d.sender.SendLocator(d, cmd, payload)
}

// SendRaw sends a null-coded (ElUDP) queue entry directly, unframed.
func (d *Device) SendRaw(payload []byte) error {
	if d.sender == nil {
		return fmt.Errorf("device %s: no sender configured", d.SerialStr())
	}
	return d.sender.SendRaw(d, payload)
}

// Send implements queue.Sender: it dispatches based on whether the entry
// carries a LocatorCmd (non-nil code) or is a raw ElUDP send (nil code).
func (d *Device) Send(code *locator.Cmd, payload []byte) error {
	if code == nil {
		return d.SendRaw(payload)
	}
	return d.SendLocator(*code, payload)
}

// Summary is a read-only snapshot of a device's identity, settings, and
// queue progress, suitable for copying out from under the inventory lock
// (the api and store packages consume this rather than touching *Device
// directly).
type Summary struct {
	Serial   string
	MAC      [6]byte
	Settings Settings
	Addr     *net.UDPAddr
	Pinned   bool
	Progress int
}

// Snapshot copies out d's current state.
func (d *Device) Snapshot() Summary {
	d.mu.RLock()
	serial := SerialString(d.serial)
	mac := d.mac
	settings := d.settings
	addr := d.addr
	pinned := d.ai != nil
	d.mu.RUnlock()

	progress := 0
	if d.Queue != nil {
		progress = d.Queue.Progress()
	}

	return Summary{
		Serial: serial, MAC: mac, Settings: settings,
		Addr: addr, Pinned: pinned, Progress: progress,
	}
}

// String renders a human-readable identity for logging.
func (d *Device) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s := SerialString(d.serial); s != "" {
		return fmt.Sprintf("%s (%s)", s, d.settings.Name)
	}
	if d.addr != nil {
		return d.addr.String()
	}
	return "<unknown device>"
}
