// Package testutil provides store fakes shared by unit tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/meigma/bdcache/store"
)

// MemStore is an in-memory store.Store with operation counters.
type MemStore struct {
	mu sync.Mutex
	m  map[string][]byte

	GetCalls atomic.Int64
	PutCalls atomic.Int64
	HasCalls atomic.Int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

func (s *MemStore) Has(_ context.Context, key string) (bool, error) {
	s.HasCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok, nil
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	s.GetCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) Put(_ context.Context, key string, data []byte) error {
	s.PutCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.m[key] = stored
	return nil
}

func (s *MemStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// FailStore fails every operation with Err, for exercising degraded paths.
type FailStore struct {
	Err   error
	Calls atomic.Int64
}

func (s *FailStore) Has(context.Context, string) (bool, error) {
	s.Calls.Add(1)
	return false, s.Err
}

func (s *FailStore) Get(context.Context, string) ([]byte, error) {
	s.Calls.Add(1)
	return nil, s.Err
}

func (s *FailStore) Put(context.Context, string, []byte) error {
	s.Calls.Add(1)
	return s.Err
}
