// Package eludp implements the unicast ElUDP transport: per-port sockets
// shared by every device bound to that port, and per-(ip,port) callback
// routing, per §4.3.
package eludp

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultPort is the ElUDP port devices use unless configured otherwise.
const DefaultPort = 1775

// readTimeout is the per-socket receive deadline, allowing the listener
// goroutine to notice shutdown promptly instead of blocking forever.
const readTimeout = 100 * time.Millisecond

// Callback receives a raw datagram payload from a device's exact address.
type Callback func(payload []byte)

type portSocket struct {
	conn      *net.UDPConn
	stop      chan struct{}
	wg        sync.WaitGroup
	listeners int // number of active Bind subscriptions on this port
}

type addrKey string

func key(addr *net.UDPAddr) addrKey {
	return addrKey(fmt.Sprintf("%s:%d", addr.IP.String(), addr.Port))
}

// Transport owns the per-port sockets and per-address callback routing.
type Transport struct {
	mu        sync.Mutex
	ports     map[int]*portSocket
	callbacks map[addrKey][]Callback
	log       func(format string, args ...interface{})
}

// New creates an empty Transport.
func New(logFn func(format string, args ...interface{})) *Transport {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Transport{
		ports:     make(map[int]*portSocket),
		callbacks: make(map[addrKey][]Callback),
		log:       logFn,
	}
}

// Bind subscribes cb to datagrams arriving from addr, opening addr's port's
// socket if this is the first subscriber on it.
func (t *Transport) Bind(addr *net.UDPAddr, cb Callback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(addr)
	t.callbacks[k] = append(t.callbacks[k], cb)

	ps, ok := t.ports[addr.Port]
	if !ok {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: addr.Port})
		if err != nil {
			return fmt.Errorf("eludp: bind :%d: %w", addr.Port, err)
		}
		ps = &portSocket{conn: conn, stop: make(chan struct{})}
		t.ports[addr.Port] = ps
		ps.wg.Add(1)
		go t.listen(addr.Port, ps)
	}
	ps.listeners++
	return nil
}

// Unbind removes cb's subscription for addr. The port's socket is closed
// only once no device address on that port has any remaining subscriber —
// this is the REDESIGN FLAG of §9 applied: the teacher's original mistakes
// a device's own callback list for the port's subscriber count, so it could
// close a port other devices still use.
func (t *Transport) Unbind(addr *net.UDPAddr, cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(addr)
	cbs := t.callbacks[k]
	removed := false
	for i, c := range cbs {
		if sameFunc(c, cb) {
			cbs = append(cbs[:i], cbs[i+1:]...)
			removed = true
			break
		}
	}
	if len(cbs) == 0 {
		delete(t.callbacks, k)
	} else {
		t.callbacks[k] = cbs
	}

	ps, ok := t.ports[addr.Port]
	if !ok {
		return
	}
	if removed {
		ps.listeners--
	}
	if ps.listeners <= 0 && !hasAnyListenerOnPort(t.callbacks, addr.Port) {
		delete(t.ports, addr.Port)
		close(ps.stop)
		ps.conn.Close()
		t.mu.Unlock()
		ps.wg.Wait()
		t.mu.Lock()
	}
}

func hasAnyListenerOnPort(callbacks map[addrKey][]Callback, port int) bool {
	for k := range callbacks {
		// addrKey format is "ip:port"; compare the suffix.
		suffix := fmt.Sprintf(":%d", port)
		if len(string(k)) >= len(suffix) && string(k)[len(string(k))-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// sameFunc reports whether a and b have the same underlying code pointer.
// Go can't compare func values other than to nil, so this compares the
// function code instead: two closures built from the same function literal
// compare equal even when they capture different variables, and closures
// from different function literals never do.
func sameFunc(a, b Callback) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}

func (t *Transport) listen(port int, ps *portSocket) {
	defer ps.wg.Done()
	buf := make([]byte, 2048)

	for {
		select {
		case <-ps.stop:
			return
		default:
		}

		ps.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, from, err := ps.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ps.stop:
				return
			default:
				t.log("eludp: receive error on port %d: %v", port, err)
				continue
			}
		}

		payload := append([]byte(nil), buf[:n]...)
		t.dispatch(from, payload)
	}
}

func (t *Transport) dispatch(from *net.UDPAddr, payload []byte) {
	t.mu.Lock()
	cbs := append([]Callback(nil), t.callbacks[key(from)]...)
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(payload)
	}
}

// SendPack transmits payload to addr using the socket bound for addr's port.
// addr must already have at least one active Bind on that port.
func (t *Transport) SendPack(addr *net.UDPAddr, payload []byte) error {
	t.mu.Lock()
	ps, ok := t.ports[addr.Port]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("eludp: no socket bound for port %d", addr.Port)
	}
	_, err := ps.conn.WriteToUDP(payload, addr)
	return err
}

// Close shuts down every open port socket.
func (t *Transport) Close() {
	t.mu.Lock()
	ports := t.ports
	t.ports = make(map[int]*portSocket)
	t.callbacks = make(map[addrKey][]Callback)
	t.mu.Unlock()

	for _, ps := range ports {
		close(ps.stop)
		ps.conn.Close()
		ps.wg.Wait()
	}
}
