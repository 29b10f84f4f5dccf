package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowboyrushforth/fprintvirt/device"
	"github.com/cowboyrushforth/fprintvirt/store"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fprintvirt", "config.json")
	require.NoError(t, LoadConfig(path))

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), Get())

	c, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestParseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "driver": "virtual_device_storage",
  "scan_type": "press",
  "enroll_stages": 3,
  "storage": "json",
  "storage_path": "/var/lib/fprintvirt/prints.json",
  "command_timeout_ms": 2500,
  "dbus": "session"
}`), 0600))

	c, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "virtual_device_storage", c.Driver)
	assert.Equal(t, 3, c.EnrollStages)
	assert.Equal(t, store.KindJSON, c.Storage)
	assert.Equal(t, DBusSession, c.DBus)
	assert.Equal(t, "0", c.DeviceID)

	vc := c.Device(nil)
	assert.Equal(t, device.ScanTypePress, vc.ScanType)
	assert.Equal(t, 2500*time.Millisecond, vc.CommandTimeout)
	assert.Equal(t, c.SocketDir, vc.SocketDir)
}

func TestParseYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device_id: "1"
enroll_stages: 2
storage: memory
socket_dir: /run/fprintvirt
max_command_rate: 50
log_level: debug
`), 0600))

	c, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "1", c.DeviceID)
	assert.Equal(t, 2, c.EnrollStages)
	assert.Equal(t, "/run/fprintvirt", c.SocketDir)
	assert.Equal(t, 50, c.MaxCommandRate)
	assert.Equal(t, "debug", c.LogLevel)

	s, err := c.OpenStore()
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close()
	assert.Same(t, s, c.Device(s).Store)
}

func TestParseRejects(t *testing.T) {
	for name, body := range map[string]string{
		"stages":  `{"enroll_stages": 0}`,
		"scan":    `{"scan_type": "eye-contact"}`,
		"storage": `{"storage": "floppy"}`,
		"path":    `{"storage": "bolt"}`,
		"dbus":    `{"dbus": "both"}`,
		"timeout": `{"command_timeout_ms": -1}`,
		"syntax":  `{"driver": `,
	} {
		path := filepath.Join(t.TempDir(), name+".json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0600))
		_, err := Parse(path)
		assert.Error(t, err, name)
	}
}

func TestOpenStoreNone(t *testing.T) {
	s, err := DefaultConfig().OpenStore()
	require.NoError(t, err)
	assert.Nil(t, s)
}
