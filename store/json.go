package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprint"
)

// jsonDB is the on-disk layout of a JSON print store.
type jsonDB struct {
	Prints      map[string]json.RawMessage `json:"prints"`
	LastUpdated time.Time                  `json:"last_updated"`
}

type jsonStore struct {
	mu   sync.RWMutex
	path string
	db   jsonDB
}

// NewJSONStore opens the JSON file at path, creating an empty store when
// the file does not exist yet.
func NewJSONStore(path string) (Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot get home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "fprintvirt", "prints.json")
	}

	s := &jsonStore{
		path: path,
		db:   jsonDB{Prints: map[string]json.RawMessage{}},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("cannot create storage directory: %w", err)
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("cannot save empty print store: %w", err)
		}
		fplog.Info("Created print store at %s", path)
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read print store: %w", err)
	}
	if err := json.Unmarshal(data, &s.db); err != nil {
		return nil, fmt.Errorf("cannot unmarshal print store: %w", err)
	}
	if s.db.Prints == nil {
		s.db.Prints = map[string]json.RawMessage{}
	}
	return s, nil
}

// save must be called with mu held for writing.
func (s *jsonStore) save() error {
	s.db.LastUpdated = time.Now()
	data, err := json.MarshalIndent(s.db, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal print store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("cannot write print store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *jsonStore) Insert(id string, p *fprint.Print) error {
	data, err := p.Serialize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.db.Prints[id] = data
	return s.save()
}

func (s *jsonStore) Get(id string) (*fprint.Print, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.db.Prints[id]
	if !ok {
		return nil, ErrNotFound
	}
	return fprint.Deserialize(data)
}

func (s *jsonStore) Contains(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.db.Prints[id]
	return ok, nil
}

func (s *jsonStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.db.Prints[id]; !ok {
		return ErrNotFound
	}
	delete(s.db.Prints, id)
	return s.save()
}

func (s *jsonStore) IDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.db.Prints), nil
}

func (s *jsonStore) List() ([]*fprint.Print, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*fprint.Print, 0, len(s.db.Prints))
	for _, id := range sortedKeys(s.db.Prints) {
		p, err := fprint.Deserialize(s.db.Prints[id])
		if err != nil {
			return nil, fmt.Errorf("print %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *jsonStore) Close() error {
	return nil
}
