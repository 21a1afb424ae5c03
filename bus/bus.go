// Package bus republishes inventory and queue activity onto external
// message systems (MQTT, Kafka, Redis), widening "surfaces responses to
// interested observers" (spec §1) beyond in-process callbacks, per §4.14.
// Every sink subscribes to the inventory's EventBus exactly like any other
// observer named in §4.4's bind contract; none of them sit on the hot path
// of the wire protocol, transport, or queue packages.
package bus

import (
	"encoding/json"
	"time"

	"dsu/inventory"
)

// Event is the JSON envelope every sink publishes, built once per
// EventBus.Event and reused across sinks so they agree on shape.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device,omitempty"`
	Cmd       string    `json:"cmd,omitempty"`
	Pack      []byte    `json:"pack,omitempty"`
}

func eventOf(e inventory.Event) Event {
	out := Event{Type: e.Type.String(), Timestamp: e.Timestamp, Pack: e.Pack}
	if dev, ok := e.Device.(interface{ String() string }); ok {
		out.Device = dev.String()
	}
	if cmd, ok := e.Cmd.(interface{ String() string }); ok {
		out.Cmd = cmd.String()
	}
	return out
}

func (e Event) marshal() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// Sink is implemented by every bus backend (MQTT, Kafka, Redis).
type Sink interface {
	// Subscribe wires the sink onto bus, publishing a republished Event for
	// every emitted inventory event. Returns the EventBus subscription id.
	Subscribe(bus *inventory.EventBus) int
	// Close releases the sink's connection.
	Close() error
}
