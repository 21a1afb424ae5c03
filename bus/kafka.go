package bus

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"dsu/config"
	"dsu/inventory"
)

// KafkaSink batches CMD_RESPONSE/CON_FAIL (and every other inventory
// event) onto a single topic, grounded on the teacher's kafka/manager.go
// and kafka/producer.go batched-writer shape and JSON message envelope.
type KafkaSink struct {
	writer *kafkago.Writer
	logf   func(format string, args ...interface{})
}

// NewKafkaSink opens a writer against cfg.Brokers/cfg.Topic.
func NewKafkaSink(cfg *config.KafkaBusConfig, logFn func(format string, args ...interface{})) (*KafkaSink, error) {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("bus: kafka sink requires at least one broker")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "dsu.events"
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
	}

	logFn("bus: kafka writer ready for topic %q on %v", topic, cfg.Brokers)
	return &KafkaSink{writer: writer, logf: logFn}, nil
}

// Subscribe implements Sink.
func (s *KafkaSink) Subscribe(bus *inventory.EventBus) int {
	return bus.Subscribe(func(e inventory.Event) {
		ev := eventOf(e)
		data := ev.marshal()
		if data == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		msg := kafkago.Message{Key: []byte(ev.Device), Value: data, Time: ev.Timestamp}
		if err := s.writer.WriteMessages(ctx, msg); err != nil {
			s.logf("bus: kafka write failed: %v", err)
		}
	})
}

// Close implements Sink.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
