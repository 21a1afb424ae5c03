// Package store implements an append-only bbolt audit log of inventory
// events, §4.11.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"dsu/inventory"
)

var eventsBucket = []byte("events")

// Record is one persisted audit entry.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Device    string    `json:"device,omitempty"`
	Cmd       string    `json:"cmd,omitempty"`
	Pack      []byte    `json:"pack,omitempty"`
}

// Store wraps a bbolt database dedicated to audit records.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes r as the next sequential record.
func (s *Store) Append(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Recent returns up to limit records, oldest first, most-recent-limit
// window of the log.
func (s *Store) Recent(limit int) ([]Record, error) {
	var all []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		return b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			all = append(all, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Subscribe wires s onto bus, appending a Record for every emitted event.
// Per §5, the bus invokes callbacks synchronously on the emitting goroutine,
// so writes here must not block it for long — bbolt's single-writer commit
// is the same trade-off the teacher's own synchronous observers accept.
func (s *Store) Subscribe(bus *inventory.EventBus) {
	bus.Subscribe(func(e inventory.Event) {
		r := Record{Timestamp: e.Timestamp, Type: e.Type.String()}
		if dev, ok := e.Device.(fmt.Stringer); ok {
			r.Device = dev.String()
		}
		if cmd, ok := e.Cmd.(fmt.Stringer); ok {
			r.Cmd = cmd.String()
		}
		r.Pack = e.Pack
		s.Append(r)
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
