package main

import (
	"dsu/device"
	"dsu/eludp"
	"dsu/locator"
)

// transportSender implements device.Sender by pairing the Locator broadcast
// transport with the ElUDP unicast transport, §4.2/§4.3. A device created
// from a bare address (seeded, unicast-only per §3) sends Locator frames
// directly to its own address instead of broadcasting, since it has no
// serial to filter a broadcast reply by.
type transportSender struct {
	loc *locator.Transport
	el  *eludp.Transport
}

func newTransportSender(loc *locator.Transport, el *eludp.Transport) *transportSender {
	return &transportSender{loc: loc, el: el}
}

// SendLocator implements device.Sender.
func (s *transportSender) SendLocator(dev *device.Device, cmd locator.Cmd, payload []byte) error {
	if !dev.HasSerial() {
		return s.loc.SendTo(cmd, payload, dev.SerialBytes(), dev.Addr())
	}
	return s.loc.Send(cmd, payload, dev)
}

// SendRaw implements device.Sender: a raw, unframed datagram over the
// device's bound ElUDP unicast socket.
func (s *transportSender) SendRaw(dev *device.Device, payload []byte) error {
	return s.el.SendPack(dev.Addr(), payload)
}
