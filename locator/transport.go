package locator

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Port is the UDP port the Locator transport binds to and broadcasts on.
const Port = 1770

// PollInterval is the period of the discovery poll loop, §4.2.
const PollInterval = 2 * time.Second

// recvBufSize is large enough for any Locator frame (header + 255 payload + checksum).
const recvBufSize = 2048

// Iface describes one local IPv4 interface the transport can broadcast on.
type Iface struct {
	Addr      net.IP
	Netmask   net.IP
	Broadcast net.IP
}

// SameSubnet reports whether ip/mask shares a subnet with i.
func (i Iface) SameSubnet(ip, mask net.IP) bool {
	ip4 := ip.To4()
	selfIP4 := i.Addr.To4()
	m := i.Netmask.To4()
	if ip4 == nil || selfIP4 == nil || m == nil {
		return false
	}
	for k := 0; k < 4; k++ {
		if (ip4[k] & m[k]) != (selfIP4[k] & m[k]) {
			return false
		}
	}
	return true
}

// FrameHandler receives a parsed Locator frame from a given peer.
// header.Cmd == CmdRequest with source address+summary means a discovery
// reply; anything else is routed to the inventory as a command response.
type FrameHandler interface {
	// OnDiscoveryReply is called when a REQUEST reply (a poll response
	// carrying a device summary) arrives.
	OnDiscoveryReply(summary Summary, from *net.UDPAddr)
	// OnCommandResponse is called for every other frame.
	OnCommandResponse(header *Header, payload []byte, from *net.UDPAddr)
}

// InterfaceSelector is implemented by anything that can report a pinned
// outbound interface for a device (device.Device in the core), so the
// transport can restrict broadcasts to that interface per §4.2.
type InterfaceSelector interface {
	// PinnedBroadcast returns the broadcast address to use, and ok=true,
	// if this target is pinned to a single interface.
	PinnedBroadcast() (net.IP, bool)
}

// Transport owns the Locator broadcast socket, the receive loop, and the
// periodic discovery poll loop described in §4.2.
type Transport struct {
	handler FrameHandler

	mu       sync.Mutex // guards ifaces and conn
	ifaces   []Iface
	conn     *net.UDPConn
	shutdown chan struct{}
	wg       sync.WaitGroup
	log      func(format string, args ...interface{})
}

// New creates a Transport. handler must be non-nil; its callbacks are
// invoked synchronously from the transport's receive-loop goroutine.
func New(handler FrameHandler, logFn func(format string, args ...interface{})) *Transport {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Transport{handler: handler, log: logFn}
}

// Interfaces returns the enumerated IPv4 interfaces, refreshed at Start.
func (t *Transport) Interfaces() []Iface {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Iface, len(t.ifaces))
	copy(out, t.ifaces)
	return out
}

// enumerateInterfaces lists every up, non-loopback IPv4 interface with its
// broadcast address.
func enumerateInterfaces() ([]Iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("locator: enumerate interfaces: %w", err)
	}

	var out []Iface
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := net.IP(ipnet.Mask)
			bcast := make(net.IP, 4)
			for k := 0; k < 4; k++ {
				bcast[k] = ip4[k] | ^mask[k]
			}
			out = append(out, Iface{Addr: ip4, Netmask: mask, Broadcast: bcast})
		}
	}
	return out, nil
}

// Start binds the broadcast socket, enumerates interfaces, and launches the
// receive and poll loops. It returns once the socket is bound.
func (t *Transport) Start() error {
	ifaces, err := enumerateInterfaces()
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: Port})
	if err != nil {
		return fmt.Errorf("locator: bind :%d: %w", Port, err)
	}

	t.mu.Lock()
	t.ifaces = ifaces
	t.conn = conn
	t.shutdown = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(2)
	go t.receiveLoop()
	go t.pollLoop()
	return nil
}

// Shutdown unblocks the receive loop (by closing the socket), cancels the
// poll loop, and joins both goroutines before returning, per §4.2 and §5.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	if t.shutdown == nil {
		t.mu.Unlock()
		return
	}
	select {
	case <-t.shutdown:
		// already closed
	default:
		close(t.shutdown)
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *Transport) pollLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
			t.Send(CmdRequest, nil, nil)
		}
	}
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	buf := make([]byte, recvBufSize)

	for {
		t.mu.Lock()
		conn := t.conn
		ifaces := append([]Iface(nil), t.ifaces...)
		t.mu.Unlock()
		if conn == nil {
			return
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
				// Transport error other than shutdown: a failed read reports
				// n == 0 and ends the loop; an error that still delivered
				// bytes is logged and the loop continues.
				if n == 0 {
					return
				}
				t.log("locator: receive error: %v", err)
				continue
			}
		}

		if isLocalAddr(from.IP, ifaces) {
			continue // ignore our own broadcasts looped back
		}

		raw := append([]byte(nil), buf[:n]...)
		t.handleDatagram(raw, from)
	}
}

func isLocalAddr(ip net.IP, ifaces []Iface) bool {
	for _, ifc := range ifaces {
		if ifc.Addr.Equal(ip) {
			return true
		}
	}
	return false
}

func (t *Transport) handleDatagram(raw []byte, from *net.UDPAddr) {
	header, payload, ok := Decode(raw)
	if !ok {
		t.log("locator: malformed frame from %s (bad password)", from)
		return
	}
	if !VerifyChecksum(raw) {
		t.log("locator: checksum mismatch from %s, dropping", from)
		return
	}
	if ExpectedLen(header) != len(raw) {
		t.log("locator: length mismatch from %s: header says %d, got %d",
			from, ExpectedLen(header), len(raw))
	}

	if header.Cmd == CmdRequest {
		summary := DecodeSummary(payload)
		t.handler.OnDiscoveryReply(summary, from)
		return
	}
	t.handler.OnCommandResponse(header, payload, from)
}

// Send builds a frame for cmd/payload/serial and transmits it. If target is
// non-nil and reports a pinned interface, the frame goes only to that
// interface's broadcast address; otherwise it is sent to every interface's
// broadcast address. REQUEST always uses the wildcard serial regardless of
// target.
func (t *Transport) Send(cmd Cmd, payload []byte, target InterfaceSelector) error {
	serial := BroadcastSerial
	if cmd != CmdRequest {
		if s, ok := target.(interface{ SerialBytes() [SerialLen]byte }); ok {
			serial = s.SerialBytes()
		}
	}

	frame, err := Encode(cmd, payload, serial)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	ifaces := append([]Iface(nil), t.ifaces...)
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("locator: transport not started")
	}

	destinations := ifaces
	if target != nil {
		if bcast, ok := target.PinnedBroadcast(); ok {
			destinations = []Iface{{Broadcast: bcast}}
		}
	}

	var lastErr error
	for _, ifc := range destinations {
		addr := &net.UDPAddr{IP: ifc.Broadcast, Port: Port}
		if _, err := conn.WriteToUDP(frame, addr); err != nil {
			lastErr = err
			t.log("locator: send to %s failed: %v", addr, err)
		}
	}
	return lastErr
}

// SendTo transmits a frame to a specific unicast address (used by ElUDP
// tunnelling through EXE_EL_CMD when the device is known to be unicast-only).
func (t *Transport) SendTo(cmd Cmd, payload []byte, serial [SerialLen]byte, addr *net.UDPAddr) error {
	frame, err := Encode(cmd, payload, serial)
	if err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("locator: transport not started")
	}
	_, err = conn.WriteToUDP(frame, addr)
	return err
}
