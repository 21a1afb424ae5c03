package bus

import (
	"dsu/config"
	"dsu/inventory"
)

// Manager owns the set of enabled sinks and their EventBus subscriptions,
// mirroring the teacher's per-protocol Manager types (kafka.Manager,
// valkey.Manager) that own multiple backend connections behind one
// lifecycle.
type Manager struct {
	sinks []Sink
	subs  []int
	bus   *inventory.EventBus
}

// NewManager builds a Manager from cfg, connecting every enabled sink.
// A sink that fails to connect is logged and skipped rather than aborting
// startup — the bus is an optional observer, not part of the protocol core.
func NewManager(cfg config.BusConfig, bus *inventory.EventBus, logFn func(format string, args ...interface{})) *Manager {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	m := &Manager{bus: bus}

	if cfg.MQTT != nil && cfg.MQTT.Enabled {
		if sink, err := NewMQTTSink(cfg.MQTT, logFn); err != nil {
			logFn("bus: mqtt sink disabled: %v", err)
		} else {
			m.add(sink)
		}
	}
	if cfg.Kafka != nil && cfg.Kafka.Enabled {
		if sink, err := NewKafkaSink(cfg.Kafka, logFn); err != nil {
			logFn("bus: kafka sink disabled: %v", err)
		} else {
			m.add(sink)
		}
	}
	if cfg.Redis != nil && cfg.Redis.Enabled {
		if sink, err := NewRedisSink(cfg.Redis, logFn); err != nil {
			logFn("bus: redis sink disabled: %v", err)
		} else {
			m.add(sink)
		}
	}

	return m
}

func (m *Manager) add(sink Sink) {
	m.sinks = append(m.sinks, sink)
	m.subs = append(m.subs, sink.Subscribe(m.bus))
}

// Len reports how many sinks are active.
func (m *Manager) Len() int {
	return len(m.sinks)
}

// Close unsubscribes and closes every active sink.
func (m *Manager) Close() {
	for i, sink := range m.sinks {
		m.bus.Unsubscribe(m.subs[i])
		sink.Close()
	}
	m.sinks = nil
	m.subs = nil
}
