// Package virtual implements a software fingerprint device driven by a
// unix-socket simulation protocol. Test harnesses connect, send a single
// command such as "SCAN right-thumb" and disconnect; the device consumes
// queued commands in order whenever an operation waits for the sensor.
package virtual

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-collections/collections/queue"

	"github.com/cowboyrushforth/fprintvirt/device"
	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprint"
	"github.com/cowboyrushforth/fprintvirt/loop"
	"github.com/cowboyrushforth/fprintvirt/store"
)

const (
	DriverName        = "virtual_device"
	StorageDriverName = "virtual_device_storage"

	fullName        = "Virtual device for debugging"
	storageFullName = "Virtual device with storage and identification for debugging"

	defaultEnrollStages = 5
)

// Config describes one virtual device. The zero value gives a plain
// device without storage on a socket under the temp directory.
type Config struct {
	Driver   string
	DeviceID string

	// SocketPath overrides the path derived from SocketDir and Driver.
	SocketDir  string
	SocketPath string

	ScanType     device.ScanType
	EnrollStages int

	// Store turns the device into the storage variant, which also
	// supports identify, list and delete.
	Store store.Store

	// CommandTimeout fails a scanning operation that waited that long for
	// a command. Zero waits forever.
	CommandTimeout time.Duration
	// MaxCommandRate limits accepted connections per second. Zero is
	// unlimited.
	MaxCommandRate int

	Matcher fprint.Matcher
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverName
		if c.Store != nil {
			c.Driver = StorageDriverName
		}
	}
	if c.DeviceID == "" {
		c.DeviceID = "0"
	}
	if c.SocketDir == "" {
		c.SocketDir = filepath.Join(os.TempDir(), "fprintvirt")
	}
	if c.SocketPath == "" {
		c.SocketPath = SocketPath(c.SocketDir, c.Driver)
	}
	if c.EnrollStages <= 0 {
		c.EnrollStages = defaultEnrollStages
	}
	if c.Matcher == nil {
		c.Matcher = fprint.PayloadMatcher
	}
	return c
}

// Device is a virtual fingerprint device.
type Device struct {
	*device.Device
	drv *driver
}

// New creates a closed virtual device on l. The socket is only listened on
// while the device is open.
func New(l *loop.Loop, cfg Config) *Device {
	cfg = cfg.withDefaults()

	info := device.Info{
		Driver:         cfg.Driver,
		DeviceID:       cfg.DeviceID,
		FullName:       fullName,
		ScanType:       cfg.ScanType,
		NrEnrollStages: cfg.EnrollStages,
	}
	if cfg.Store != nil {
		info.FullName = storageFullName
		info.Capabilities = device.CapIdentify | device.CapStorage
	}

	drv := &driver{
		cfg:                 cfg,
		loop:                l,
		queue:               queue.New(),
		cancellationEnabled: true,
	}
	d := &Device{drv: drv}
	d.Device = device.New(l, drv, info)
	drv.dev = d.Device
	return d
}

// SocketPath is where the device listens for simulation commands.
func (d *Device) SocketPath() string {
	return d.drv.cfg.SocketPath
}

// Store returns the print storage, nil for the plain variant.
func (d *Device) Store() store.Store {
	return d.drv.cfg.Store
}

// Received counts the wire commands that reached the device loop.
func (d *Device) Received() int64 {
	return d.drv.received.Load()
}

// Pending returns the number of queued commands.
func (d *Device) Pending() int {
	return d.drv.queue.Len()
}

// CancellationEnabled reports whether cancel requests are honoured.
func (d *Device) CancellationEnabled() bool {
	return d.drv.cancellationEnabled
}

// Teardown stops the listener and all timers whatever state the device is
// in. It is meant for devices that can no longer be closed, such as after
// an unplug.
func (d *Device) Teardown() {
	d.drv.teardown()
}

// driver implements device.Driver. All fields are owned by the loop except
// received.
type driver struct {
	cfg  Config
	loop *loop.Loop
	dev  *device.Device

	ln       *listener
	queue    *queue.Queue
	received atomic.Int64

	sleepTimer *loop.Timer
	waitTimer  *loop.Timer

	cancellationEnabled bool

	enrollStage int
	enrollID    string
	pendingErr  error
}

func (v *driver) Open(a *device.Action) {
	v.queue = queue.New()
	v.cancellationEnabled = true
	v.enrollStage = 0
	v.enrollID = ""
	v.pendingErr = nil

	ln, err := listen(v.cfg.SocketPath, v.cfg.MaxCommandRate, v.handleConn)
	if err != nil {
		a.Complete(err)
		return
	}
	v.ln = ln
	a.Complete(nil)
}

func (v *driver) Close(a *device.Action) {
	v.continueAction(a)
}

func (v *driver) Enroll(a *device.Action) {
	v.enrollStage = 0
	v.enrollID = ""
	v.continueAction(a)
}

func (v *driver) Verify(a *device.Action) {
	v.pendingErr = nil
	v.continueAction(a)
}

func (v *driver) Identify(a *device.Action) {
	v.pendingErr = nil
	v.continueAction(a)
}

func (v *driver) List(a *device.Action) {
	v.continueAction(a)
}

func (v *driver) Delete(a *device.Action) {
	v.continueAction(a)
}

func (v *driver) Cancel(a *device.Action) {
	if !v.cancellationEnabled && !v.dev.Removed() {
		fplog.Debug("Cancellation is disabled, %s keeps running", a.Kind())
		return
	}
	v.stopTimers()
	v.loop.Post(func() { v.continueAction(a) })
}

// continueAction runs the next step of a unless a SLEEP is pending.
func (v *driver) continueAction(a *device.Action) {
	if a.Done() || v.dev.CurrentAction() != a || v.sleepTimer != nil {
		return
	}
	if v.waitTimer != nil {
		v.waitTimer.Stop()
		v.waitTimer = nil
	}

	switch a.Kind() {
	case device.ActionEnroll:
		v.stepEnroll(a)
	case device.ActionVerify:
		v.stepVerify(a)
	case device.ActionIdentify:
		v.stepIdentify(a)
	case device.ActionList:
		v.stepList(a)
	case device.ActionDelete:
		v.stepDelete(a)
	case device.ActionClose:
		v.stepClose(a)
	}
}

func (v *driver) stopTimers() {
	if v.sleepTimer != nil {
		v.sleepTimer.Stop()
		v.sleepTimer = nil
	}
	if v.waitTimer != nil {
		v.waitTimer.Stop()
		v.waitTimer = nil
	}
}

func (v *driver) teardown() {
	v.stopTimers()
	v.queue = queue.New()
	if v.ln != nil {
		v.ln.close()
		v.ln = nil
	}
}

// handleConn runs on the listener goroutine.
func (v *driver) handleConn(conn net.Conn, msg string) {
	cmd, err := ParseCommand(msg)
	if err != nil {
		v.loop.Post(func() {
			fplog.Warn("Dropping simulation command %q: %v", strings.TrimSpace(msg), err)
			v.received.Add(1)
		})
		return
	}

	if cmd.Verb == VerbList {
		v.writeList(conn)
	}
	v.loop.Post(func() {
		v.receive(cmd)
		v.received.Add(1)
	})
}

// writeList answers LIST straight from the listener goroutine; stores are
// safe for concurrent use.
func (v *driver) writeList(conn net.Conn) {
	if v.cfg.Store == nil {
		return
	}
	ids, err := v.cfg.Store.IDs()
	if err != nil {
		fplog.Warn("Cannot list stored prints: %v", err)
		return
	}
	for _, id := range ids {
		if _, err := fmt.Fprintf(conn, "%s\n", id); err != nil {
			fplog.Warn("Error writing reply to LIST command: %v", err)
			return
		}
	}
}

func (v *driver) receive(cmd Command) {
	fplog.Debug("Received command %s", cmd)
	if !v.dev.IsOpen() && v.dev.CurrentAction() == nil {
		fplog.Warn("Could not process command: %s", cmd)
		return
	}

	switch cmd.Verb {
	case VerbUnplug:
		v.dev.ReportRemoved()
	case VerbSetEnrollStages:
		_ = v.dev.SetNrEnrollStages(cmd.Int())
	case VerbSetScanType:
		_ = v.dev.SetScanType(cmd.Arg())
	case VerbSetCancellationEnabled:
		v.cancellationEnabled = cmd.Bool()
		fplog.Debug("Cancellation enabled: %t", v.cancellationEnabled)
	case VerbList:
	default:
		v.queue.Enqueue(cmd)
		if a := v.dev.CurrentAction(); a != nil && a.Kind().Scanning() {
			v.continueAction(a)
		}
	}
}
