package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dsu/config"
	"dsu/inventory"
)

// RedisSink mirrors the inventory into a hash per device,
// "<key root>:<device>" where <device> is the device's String() rendering,
// whose "last_event" field is rewritten on every event except REMOVE_DEV,
// which deletes the hash, grounded on the teacher's valkey/manager.go
// and valkey/publisher.go batching/publish shape (simplified here: one
// write per event rather than a batched queue, since device events are
// already low-frequency compared to PLC tag streams).
type RedisSink struct {
	client  *redis.Client
	keyRoot string
	logf    func(format string, args ...interface{})
}

// NewRedisSink connects to cfg.Addr.
func NewRedisSink(cfg *config.RedisBusConfig, logFn func(format string, args ...interface{})) (*RedisSink, error) {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	root := cfg.KeyRoot
	if root == "" {
		root = "dsu:devices"
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("bus: redis ping %s: %w", cfg.Addr, err)
	}

	logFn("bus: redis connected to %s, key root %q", cfg.Addr, root)
	return &RedisSink{client: client, keyRoot: root, logf: logFn}, nil
}

// Subscribe implements Sink.
func (s *RedisSink) Subscribe(bus *inventory.EventBus) int {
	return bus.Subscribe(func(e inventory.Event) {
		ev := eventOf(e)
		device := ev.Device
		if device == "" {
			return
		}
		key := fmt.Sprintf("%s:%s", s.keyRoot, device)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if e.Type == inventory.EventRemoveDev {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				s.logf("bus: redis del %s failed: %v", key, err)
			}
			return
		}

		data := ev.marshal()
		if data == nil {
			return
		}
		if err := s.client.HSet(ctx, key, "last_event", string(data)).Err(); err != nil {
			s.logf("bus: redis hset %s failed: %v", key, err)
		}
	})
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
