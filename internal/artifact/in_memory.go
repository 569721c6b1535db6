package artifact

import (
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore keeps artifacts in process memory. Data is copied on save
// and load so callers cannot mutate stored bytes.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]byte
	deletes   map[string]int
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		artifacts: make(map[string]map[string][]byte),
		deletes:   make(map[string]int),
	}
}

// Save implements Store.
func (s *InMemoryStore) Save(entityID, key string, data []byte) (string, error) {
	if err := validName("entity", entityID); err != nil {
		return "", err
	}
	if err := validName("key", key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[entityID]; !ok {
		s.artifacts[entityID] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.artifacts[entityID][key] = cp
	return Ref(entityID, key), nil
}

// Load implements Store.
func (s *InMemoryStore) Load(entityID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[entityID][key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", Ref(entityID, key), ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List implements Store.
func (s *InMemoryStore) List(entityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.artifacts[entityID]))
	for k := range s.artifacts[entityID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteAll implements Store.
func (s *InMemoryStore) DeleteAll(entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes[entityID]++
	_, ok := s.artifacts[entityID]
	delete(s.artifacts, entityID)
	return ok, nil
}

// Entities implements Store.
func (s *InMemoryStore) Entities() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteCalls returns how many times DeleteAll was called for entityID.
func (s *InMemoryStore) DeleteCalls(entityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletes[entityID]
}
