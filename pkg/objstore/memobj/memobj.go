// Package memobj implements objstore.Store backed by a process-local map.
// It is the fixture used throughout the test suite: a real
// implementation of the interface, not a mock.
package memobj

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/chronicle/pkg/objstore"
)

type object struct {
	data         []byte
	lastModified time.Time
}

// Store is an in-memory objstore.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func meta(key string, o object) objstore.ObjectMeta {
	return objstore.ObjectMeta{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         etag(o.data),
		LastModified: o.lastModified,
	}
}

func etag(data []byte) string {
	// Not a cryptographic digest, just enough to detect identical bodies
	// in tests; production backends (s3obj) use the store's native ETag.
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (s *Store) Put(_ context.Context, key string, data []byte) (objstore.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := append([]byte(nil), data...)
	o := object{data: cp, lastModified: time.Now()}
	s.objects[key] = o
	return meta(key, o), nil
}

func (s *Store) PutIfAbsent(_ context.Context, key string, data []byte) (objstore.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[key]; exists {
		return objstore.ObjectMeta{}, objstore.ErrAlreadyExists
	}
	cp := append([]byte(nil), data...)
	o := object{data: cp, lastModified: time.Now()}
	s.objects[key] = o
	return meta(key, o), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.objects[key]
	if !ok {
		return nil, objstore.ErrNotFound
	}
	return append([]byte(nil), o.data...), nil
}

func (s *Store) List(_ context.Context, prefix string, offset, limit int) ([]objstore.ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if offset >= len(keys) {
		return nil, nil
	}
	keys = keys[offset:]
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]objstore.ObjectMeta, 0, len(keys))
	for _, k := range keys {
		out = append(out, meta(k, s.objects[k]))
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
