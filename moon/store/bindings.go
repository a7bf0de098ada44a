// Package store provides moon.Bindings persisted in a bbolt database, so a
// context scope can outlive the process.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mgomes/moonhost/moon"
)

// DefaultBucket holds bindings when Open is given an empty bucket name.
const DefaultBucket = "moon_bindings"

var errStopped = errors.New("store: closed")

var _ moon.Bindings = (*Bindings)(nil)

// Bindings stores JSON-encoded values in one bbolt bucket. Values that cannot
// be encoded are kept in memory for the life of the process.
type Bindings struct {
	db     *bolt.DB
	bucket []byte
	logger *zap.Logger

	mu     sync.RWMutex
	memory map[string]any
	closed bool
}

// Open opens or creates the database at path.
func Open(path, bucket string, logger *zap.Logger) (*Bindings, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket %s: %w", bucket, err)
	}
	return &Bindings{
		db:     db,
		bucket: []byte(bucket),
		logger: logger.Named("store"),
		memory: make(map[string]any),
	}, nil
}

func (s *Bindings) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Bindings) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.memory[name]; ok {
		return v, true
	}
	if s.closed {
		return nil, false
	}

	var value any
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(s.bucket).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &value)
	})
	if err != nil {
		s.logger.Warn("decoding stored binding failed", zap.String("name", name), zap.Error(err))
		return nil, false
	}
	return value, found
}

func (s *Bindings) Put(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStopped
	}

	data, encErr := encode(value)
	if encErr != nil {
		s.logger.Warn("binding kept in memory", zap.String("name", name), zap.Error(encErr))
		s.memory[name] = value
		return s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(s.bucket).Delete([]byte(name))
		})
	}
	delete(s.memory, name)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(name), data)
	})
}

func (s *Bindings) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStopped
	}
	delete(s.memory, name)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(name))
	})
}

// Keys lists every name, persisted or in memory, in sorted order.
func (s *Bindings) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]struct{}, len(s.memory))
	for name := range s.memory {
		names[name] = struct{}{}
	}
	if !s.closed {
		_ = s.db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
				names[string(k)] = struct{}{}
				return nil
			})
		})
	}
	return slices.Sorted(maps.Keys(names))
}

// encode stores a snapshot of exportable values. Callables are never
// persisted.
func encode(value any) ([]byte, error) {
	if _, ok := moon.AsCallable(value); ok {
		return nil, fmt.Errorf("store: %T is callable", value)
	}
	if e, ok := value.(moon.Exporter); ok {
		value = e.Export()
	}
	return json.Marshal(value)
}
