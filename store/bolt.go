package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cowboyrushforth/fprintvirt/fprint"
)

var printsBucket = []byte("prints")

type boltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a bbolt database at path.
func NewBoltStore(path string) (Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot get home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "fprintvirt", "prints.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("cannot create storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open print database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(printsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create prints bucket: %w", err)
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) Insert(id string, p *fprint.Print) error {
	data, err := p.Serialize()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(printsBucket).Put([]byte(id), data)
	})
}

func (s *boltStore) Get(id string) (*fprint.Print, error) {
	var p *fprint.Print
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(printsBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		var err error
		p, err = fprint.Deserialize(v)
		return err
	})
	return p, err
}

func (s *boltStore) Contains(id string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(printsBucket).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

func (s *boltStore) Remove(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(printsBucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (s *boltStore) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(printsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *boltStore) List() ([]*fprint.Print, error) {
	var out []*fprint.Print
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(printsBucket).ForEach(func(k, v []byte) error {
			p, err := fprint.Deserialize(v)
			if err != nil {
				return fmt.Errorf("print %s: %w", k, err)
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
