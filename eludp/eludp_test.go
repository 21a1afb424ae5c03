package eludp

import (
	"net"
	"testing"
	"time"
)

func TestBindSendPackRoundTrip(t *testing.T) {
	tr := New(nil)
	defer tr.Close()

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 17850}

	received := make(chan []byte, 1)
	if err := tr.Bind(addr, func(payload []byte) { received <- payload }); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// Send from the port's own socket so the datagram's source is exactly
	// the bound device address, which is what dispatch routes on.
	if err := tr.SendPack(addr, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("SendPack: %v", err)
	}

	select {
	case payload := <-received:
		if len(payload) != 2 || payload[0] != 0xAA {
			t.Errorf("received payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive datagram")
	}
}

func TestUnbindClosesPortOnlyWhenLastSubscriberLeaves(t *testing.T) {
	tr := New(nil)
	defer tr.Close()

	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 17851}
	addrB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 17851}

	cbA := func(payload []byte) {}
	cbB := func(payload []byte) {}

	if err := tr.Bind(addrA, cbA); err != nil {
		t.Fatalf("Bind A: %v", err)
	}
	if err := tr.Bind(addrB, cbB); err != nil {
		t.Fatalf("Bind B: %v", err)
	}

	tr.Unbind(addrA, cbA)

	tr.mu.Lock()
	_, portStillOpen := tr.ports[17851]
	tr.mu.Unlock()
	if !portStillOpen {
		t.Fatal("expected the shared port socket to stay open while device B is still bound")
	}

	tr.Unbind(addrB, cbB)

	tr.mu.Lock()
	_, portStillOpen = tr.ports[17851]
	tr.mu.Unlock()
	if portStillOpen {
		t.Error("expected the port socket to close once its last subscriber unbinds")
	}
}

func TestSendPackWithoutBindFails(t *testing.T) {
	tr := New(nil)
	defer tr.Close()

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 17852}
	if err := tr.SendPack(addr, []byte{1}); err == nil {
		t.Error("expected SendPack to fail without a prior Bind")
	}
}
