package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowboyrushforth/fprintvirt/fprint"
)

func testPrint(tag string, finger fprint.Finger) *fprint.Print {
	p := fprint.New("virtual_device_storage", "0")
	p.Finger = finger
	p.Username = "testuser"
	p.DeviceStored = true
	p.Tag = tag
	p.Data = fprint.PayloadFromScan(tag)
	return p
}

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"json": func(t *testing.T) Store {
			s, err := NewJSONStore(filepath.Join(t.TempDir(), "json", "prints.json"))
			require.NoError(t, err)
			return s
		},
		"bolt": func(t *testing.T) Store {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "bolt", "prints.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreBackends(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			prints, err := s.List()
			require.NoError(t, err)
			assert.Empty(t, prints)

			rt := testPrint("right-thumb", fprint.RightThumb)
			lt := testPrint("left-thumb", fprint.LeftThumb)
			require.NoError(t, s.Insert(rt.Tag, rt))
			require.NoError(t, s.Insert(lt.Tag, lt))

			ok, err := s.Contains("right-thumb")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get("right-thumb")
			require.NoError(t, err)
			assert.True(t, rt.Equal(got))

			ids, err := s.IDs()
			require.NoError(t, err)
			assert.Equal(t, []string{"left-thumb", "right-thumb"}, ids)

			prints, err = s.List()
			require.NoError(t, err)
			require.Len(t, prints, 2)
			assert.True(t, lt.Equal(prints[0]))
			assert.True(t, rt.Equal(prints[1]))

			require.NoError(t, s.Remove("right-thumb"))
			assert.ErrorIs(t, s.Remove("right-thumb"), ErrNotFound)

			_, err = s.Get("right-thumb")
			assert.ErrorIs(t, err, ErrNotFound)

			ok, err = s.Contains("right-thumb")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore()
	p := testPrint("p1", fprint.LeftIndex)
	require.NoError(t, s.Insert("p1", p))

	p.Username = "changed"
	got, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "testuser", got.Username)
}

func TestJSONStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prints.json")

	s, err := NewJSONStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert("p1", testPrint("p1", fprint.LeftLittle)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewJSONStore(path)
	require.NoError(t, err)
	got, err := reopened.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, fprint.LeftLittle, got.Finger)
}

func TestBoltStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prints.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert("p1", testPrint("p1", fprint.RightRing)))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, fprint.RightRing, got.Finger)
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = Open("floppy", "")
	assert.Error(t, err)
}
