package bus

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"dsu/config"
	"dsu/inventory"
)

// MQTTSink publishes one retained-message-free event per device to
// "<topic root>/<device>/event", where <device> is the device's String()
// rendering ("<serial> (<name>)", or its address for a seeded device, or
// "unknown"), grounded on the teacher's
// mqtt/publisher.go client-lifecycle and JSON-payload-marshal pattern.
type MQTTSink struct {
	client    pahomqtt.Client
	topicRoot string
	logf      func(format string, args ...interface{})
}

// NewMQTTSink connects to cfg.Broker and returns a ready sink.
func NewMQTTSink(cfg *config.MQTTBusConfig, logFn func(format string, args ...interface{})) (*MQTTSink, error) {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	root := cfg.TopicRoot
	if root == "" {
		root = "dsu"
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("bus: mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus: mqtt connect to %s: %w", cfg.Broker, err)
	}

	logFn("bus: mqtt connected to %s, topic root %q", cfg.Broker, root)
	return &MQTTSink{client: client, topicRoot: root, logf: logFn}, nil
}

// Subscribe implements Sink.
func (s *MQTTSink) Subscribe(bus *inventory.EventBus) int {
	return bus.Subscribe(func(e inventory.Event) {
		ev := eventOf(e)
		data := ev.marshal()
		if data == nil {
			return
		}
		device := ev.Device
		if device == "" {
			device = "unknown"
		}
		topic := fmt.Sprintf("%s/%s/event", s.topicRoot, device)
		token := s.client.Publish(topic, 0, false, data)
		if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
			s.logf("bus: mqtt publish to %s failed", topic)
		}
	})
}

// Close implements Sink.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
