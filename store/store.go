// Package store persists enrolled prints for devices that keep templates
// on-chip, keyed by the identity the device assigned to each print.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cowboyrushforth/fprintvirt/fprint"
)

var ErrNotFound = errors.New("print not found in storage")

// Backend kinds accepted by Open. KindNone means a device without storage.
const (
	KindNone   = "none"
	KindMemory = "memory"
	KindJSON   = "json"
	KindBolt   = "bolt"
)

type Store interface {
	// Insert stores p under id, replacing any previous print.
	Insert(id string, p *fprint.Print) error
	// Get returns the print stored under id or ErrNotFound.
	Get(id string) (*fprint.Print, error)
	// Contains reports whether id is stored.
	Contains(id string) (bool, error)
	// Remove deletes id or returns ErrNotFound.
	Remove(id string) error
	// IDs returns the stored ids in sorted order.
	IDs() ([]string, error)
	// List returns all stored prints, ordered by id.
	List() ([]*fprint.Print, error)
	Close() error
}

// Open creates the backend named by kind: "memory", "json" or "bolt".
func Open(kind, path string) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindJSON:
		return NewJSONStore(path)
	case KindBolt:
		return NewBoltStore(path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", kind)
}

type memoryStore struct {
	mu     sync.RWMutex
	prints map[string]*fprint.Print
}

func NewMemoryStore() Store {
	return &memoryStore{
		prints: make(map[string]*fprint.Print),
	}
}

func (s *memoryStore) Insert(id string, p *fprint.Print) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prints[id] = p.Clone()
	return nil
}

func (s *memoryStore) Get(id string) (*fprint.Print, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prints[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memoryStore) Contains(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.prints[id]
	return ok, nil
}

func (s *memoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prints[id]; !ok {
		return ErrNotFound
	}
	delete(s.prints, id)
	return nil
}

func (s *memoryStore) IDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.prints), nil
}

func (s *memoryStore) List() ([]*fprint.Print, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*fprint.Print, 0, len(s.prints))
	for _, id := range sortedKeys(s.prints) {
		out = append(out, s.prints[id].Clone())
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
