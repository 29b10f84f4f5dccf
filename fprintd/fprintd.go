// Package fprintd speaks the net.reactivated.Fprint D-Bus API. Service
// exports a device the way fprintd does; the client helpers drive any
// fprintd compatible daemon.
package fprintd

import (
	"context"
	"errors"
	"fmt"
	"os/user"

	"github.com/godbus/dbus/v5"

	"github.com/cowboyrushforth/fprintvirt/fplog"
)

const (
	fprintdService      = "net.reactivated.Fprint"
	fprintdPath         = "/net/reactivated/Fprint/Manager"
	fprintdInterface    = "net.reactivated.Fprint.Manager"
	fprintdDevInterface = "net.reactivated.Fprint.Device"
	fprintdDevicePrefix = "/net/reactivated/Fprint/Device/"
)

var errNoReader = errors.New("no fingerprint readers available")

// DefaultDevice asks the manager for the default device path.
func DefaultDevice(conn *dbus.Conn) (dbus.ObjectPath, error) {
	var devicePath dbus.ObjectPath
	manager := conn.Object(fprintdService, dbus.ObjectPath(fprintdPath))
	if err := manager.Call(fprintdInterface+".GetDefaultDevice", 0).Store(&devicePath); err != nil {
		return "", fmt.Errorf("error getting fingerprint device: %w", err)
	}
	if devicePath == "" || devicePath == "/" {
		return "", errNoReader
	}
	return devicePath, nil
}

// HasFingerprintReader checks if the bus has a fingerprint reader
func HasFingerprintReader(conn *dbus.Conn) bool {
	devicePath, err := DefaultDevice(conn)
	if err != nil {
		fplog.Debug("No fingerprint reader found: %v", err)
		return false
	}

	fplog.Info("Found fingerprint reader at: %v", devicePath)
	return true
}

// currentUsername resolves an empty username to the calling user.
func currentUsername(username string) (string, error) {
	if username != "" {
		return username, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("error getting current user: %w", err)
	}
	return u.Username, nil
}

// ListEnrolledFingers returns the fingers username has enrolled. An empty
// username means the current user.
func ListEnrolledFingers(conn *dbus.Conn, username string) ([]string, error) {
	username, err := currentUsername(username)
	if err != nil {
		return nil, err
	}

	devicePath, err := DefaultDevice(conn)
	if err != nil {
		return nil, err
	}

	// ListEnrolledFingers doesn't require claiming the device first
	var fingers []string
	err = conn.Object(fprintdService, devicePath).Call(
		fprintdDevInterface+".ListEnrolledFingers", 0, username).Store(&fingers)
	if err != nil {
		var dbusErr dbus.Error
		if errors.As(err, &dbusErr) && dbusErr.Name == ErrNoEnrolledPrints {
			return nil, nil
		}
		return nil, fmt.Errorf("error listing enrolled fingers: %w", err)
	}

	return fingers, nil
}

// Verify claims the default device for username and waits for the outcome
// of one verification of finger ("any" when empty). Retry statuses are
// passed to onStatus and the wait goes on.
func Verify(ctx context.Context, conn *dbus.Conn, username, finger string, onStatus func(string)) (bool, error) {
	username, err := currentUsername(username)
	if err != nil {
		return false, err
	}
	if finger == "" {
		finger = fingerAny
	}

	devicePath, err := DefaultDevice(conn)
	if err != nil {
		return false, err
	}
	fplog.Info("Using fingerprint device: %s", devicePath)

	device := conn.Object(fprintdService, devicePath)

	// Set up signal handler for VerifyStatus BEFORE claiming
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(devicePath),
		dbus.WithMatchInterface(fprintdDevInterface),
		dbus.WithMatchMember(signalVerifyStatus),
	}
	if err := conn.AddMatchSignal(matchOpts...); err != nil {
		return false, fmt.Errorf("error setting up signal handler: %w", err)
	}

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)
	defer func() {
		conn.RemoveSignal(signals)
		_ = conn.RemoveMatchSignal(matchOpts...)
	}()

	if err := device.Call(fprintdDevInterface+".Claim", 0, username).Err; err != nil {
		return false, fmt.Errorf("failed to claim fingerprint device: %w", err)
	}

	// Always release the device when we're done
	defer func() {
		if err := device.Call(fprintdDevInterface+".Release", 0).Err; err != nil {
			fplog.Error("Error releasing device: %v", err)
		} else {
			fplog.Debug("Device released successfully")
		}
	}()

	if err := device.Call(fprintdDevInterface+".VerifyStart", 0, finger).Err; err != nil {
		return false, fmt.Errorf("error starting verification: %w", err)
	}
	defer device.Call(fprintdDevInterface+".VerifyStop", 0)

	fplog.Info("Fingerprint verification started for user %s", username)

	for {
		select {
		case <-ctx.Done():
			fplog.Error("Fingerprint verification timed out")
			return false, fmt.Errorf("fingerprint verification stopped: %w", ctx.Err())
		case signal := <-signals:
			if signal.Path != devicePath || signal.Name != fprintdDevInterface+"."+signalVerifyStatus {
				continue
			}

			// VerifyStatus sends (result string, done bool)
			var status string
			var done bool
			if err := dbus.Store(signal.Body, &status, &done); err != nil {
				fplog.Error("Malformed VerifyStatus signal: %v", err)
				continue
			}
			fplog.Debug("Got verification status: %s (done: %v)", status, done)

			if onStatus != nil {
				onStatus(status)
			}
			if !done {
				continue
			}

			switch status {
			case VerifyMatch:
				return true, nil
			case VerifyNoMatch:
				return false, nil
			default:
				return false, fmt.Errorf("fingerprint verification failed: %s", status)
			}
		}
	}
}
