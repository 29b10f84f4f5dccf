package fprintd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/cowboyrushforth/fprintvirt/device"
	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprint"
	"github.com/cowboyrushforth/fprintvirt/loop"
	"github.com/cowboyrushforth/fprintvirt/store"
	"github.com/cowboyrushforth/fprintvirt/validate"
)

// Service exports one device on the bus. Enrolled prints are kept in a
// host store keyed by PrintKey. Everything except the bus glue runs on the
// device loop.
type Service struct {
	loop   *loop.Loop
	dev    *device.Device
	prints store.Store
	path   dbus.ObjectPath

	conn  *dbus.Conn
	props *prop.Properties
	emit  func(name string, args ...interface{})

	// loop owned
	owner    string
	username string
	kind     device.ActionKind
	stop     context.CancelFunc
	stopping bool
	waiters  []func()
}

// PrintKey is the host store key of a user's finger.
func PrintKey(username string, finger fprint.Finger) string {
	return username + "/" + finger.String()
}

// NewService wires dev to prints. Call Export to publish it.
func NewService(l *loop.Loop, dev *device.Device, prints store.Store) *Service {
	s := &Service{
		loop:   l,
		dev:    dev,
		prints: prints,
		path:   dbus.ObjectPath(fprintdDevicePrefix + dev.DeviceID()),
		emit:   func(string, ...interface{}) {},
	}
	dev.OnNotify(s.propertyChanged)
	return s
}

// Path is the object path of the exported device.
func (s *Service) Path() dbus.ObjectPath {
	return s.path
}

// Export publishes the manager and the device on conn and takes the
// fprintd bus name.
func (s *Service) Export(conn *dbus.Conn) error {
	s.conn = conn
	s.emit = func(name string, args ...interface{}) {
		if err := conn.Emit(s.path, fprintdDevInterface+"."+name, args...); err != nil {
			fplog.Warn("Cannot emit %s: %v", name, err)
		}
	}

	dev := &deviceObject{s: s}
	if err := conn.Export(dev, s.path, fprintdDevInterface); err != nil {
		return fmt.Errorf("cannot export device: %w", err)
	}

	props, err := prop.Export(conn, s.path, prop.Map{
		fprintdDevInterface: {
			"name":              {Value: s.dev.Name(), Emit: prop.EmitTrue},
			"num-enroll-stages": {Value: int32(s.dev.NrEnrollStages()), Emit: prop.EmitTrue},
			"scan-type":         {Value: s.dev.ScanType().String(), Emit: prop.EmitTrue},
			"finger-present":    {Value: s.dev.FingerStatus()&device.FingerStatusPresent != 0, Emit: prop.EmitTrue},
			"finger-needed":     {Value: s.dev.FingerStatus()&device.FingerStatusNeeded != 0, Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot export device properties: %w", err)
	}
	s.props = props

	node := &introspect.Node{
		Name: string(s.path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       fprintdDevInterface,
				Methods:    introspect.Methods(dev),
				Properties: props.Introspection(fprintdDevInterface),
				Signals: []introspect.Signal{
					{Name: signalVerifyStatus, Args: []introspect.Arg{{Name: "result", Type: "s"}, {Name: "done", Type: "b"}}},
					{Name: signalVerifyFingerSelected, Args: []introspect.Arg{{Name: "finger_name", Type: "s"}}},
					{Name: signalEnrollStatus, Args: []introspect.Arg{{Name: "result", Type: "s"}, {Name: "done", Type: "b"}}},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), s.path, introspect.IntrospectData.Name); err != nil {
		return fmt.Errorf("cannot export introspection: %w", err)
	}

	manager := &managerObject{s: s}
	if err := conn.Export(manager, fprintdPath, fprintdInterface); err != nil {
		return fmt.Errorf("cannot export manager: %w", err)
	}
	managerNode := &introspect.Node{
		Name: fprintdPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: fprintdInterface, Methods: introspect.Methods(manager)},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(managerNode), fprintdPath, introspect.IntrospectData.Name); err != nil {
		return fmt.Errorf("cannot export introspection: %w", err)
	}

	reply, err := conn.RequestName(fprintdService, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("cannot request %s: %w", fprintdService, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", fprintdService)
	}

	fplog.Info("Exported %s at %s", s.dev, s.path)
	return nil
}

func (s *Service) propertyChanged(p device.Property) {
	if s.props == nil {
		return
	}
	switch p {
	case device.PropNrEnrollStages:
		s.props.SetMust(fprintdDevInterface, "num-enroll-stages", int32(s.dev.NrEnrollStages()))
	case device.PropScanType:
		s.props.SetMust(fprintdDevInterface, "scan-type", s.dev.ScanType().String())
	case device.PropFingerStatus:
		st := s.dev.FingerStatus()
		s.props.SetMust(fprintdDevInterface, "finger-present", st&device.FingerStatusPresent != 0)
		s.props.SetMust(fprintdDevInterface, "finger-needed", st&device.FingerStatusNeeded != 0)
	}
}

// await runs fn on the loop and blocks the bus goroutine until fn replies.
func (s *Service) await(fn func(reply func(*dbus.Error))) *dbus.Error {
	ch := make(chan *dbus.Error, 1)
	s.loop.Post(func() {
		replied := false
		fn(func(err *dbus.Error) {
			if replied {
				return
			}
			replied = true
			ch <- err
		})
	})
	return <-ch
}

func (s *Service) checkClaimed(sender string) *dbus.Error {
	if s.owner == "" {
		return dbusError(ErrClaimDevice, errors.New("Device was not claimed before use"))
	}
	if s.owner != sender {
		return dbusError(ErrAlreadyInUse, errors.New("Device already in use by another user"))
	}
	return nil
}

func (s *Service) checkIdle() *dbus.Error {
	if s.kind != device.ActionNone {
		return dbusError(ErrAlreadyInUse, fmt.Errorf("%s operation in progress", s.kind))
	}
	return nil
}

// whenIdle runs fn once the current operation has finished.
func (s *Service) whenIdle(fn func()) {
	if s.kind == device.ActionNone {
		fn()
		return
	}
	s.waiters = append(s.waiters, fn)
}

func (s *Service) begin(kind device.ActionKind) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.kind = kind
	s.stop = cancel
	s.stopping = false
	return ctx
}

func (s *Service) finish() {
	if s.stop != nil {
		s.stop()
	}
	s.kind = device.ActionNone
	s.stop = nil
	s.stopping = false

	waiters := s.waiters
	s.waiters = nil
	for _, fn := range waiters {
		fn()
	}
}

func (s *Service) claim(sender, username string, reply func(*dbus.Error)) {
	if s.owner != "" {
		reply(dbusError(ErrAlreadyInUse, errors.New("Device was already claimed")))
		return
	}
	username, err := currentUsername(username)
	if err != nil {
		reply(dbusError(ErrInternal, err))
		return
	}
	if err := validate.Username(username); err != nil {
		reply(dbusError(ErrPermissionDenied, err))
		return
	}

	s.owner = sender
	s.username = username
	fplog.Info("Device claimed by %s for %s", sender, username)

	if s.dev.IsOpen() {
		reply(nil)
		return
	}
	s.dev.Open(context.Background()).Then(func(_ struct{}, err error) {
		if err != nil {
			s.owner = ""
			s.username = ""
			reply(dbusError(ErrInternal, fmt.Errorf("Open failed with error: %w", err)))
			return
		}
		reply(nil)
	})
}

func (s *Service) release(sender string, reply func(*dbus.Error)) {
	if err := s.checkClaimed(sender); err != nil {
		reply(err)
		return
	}
	if s.stop != nil {
		s.stopping = true
		s.stop()
	}

	s.whenIdle(func() {
		s.owner = ""
		s.username = ""
		if !s.dev.IsOpen() || s.dev.Removed() {
			reply(nil)
			return
		}
		s.dev.Close(context.Background()).Then(func(_ struct{}, err error) {
			if err != nil {
				reply(dbusError(ErrInternal, fmt.Errorf("Release failed with error: %w", err)))
				return
			}
			reply(nil)
		})
	})
}

func (s *Service) userPrints(username string) ([]*fprint.Print, error) {
	ids, err := s.prints.IDs()
	if err != nil {
		return nil, err
	}
	var prints []*fprint.Print
	for _, id := range ids {
		if !strings.HasPrefix(id, username+"/") {
			continue
		}
		p, err := s.prints.Get(id)
		if err != nil {
			return nil, err
		}
		prints = append(prints, p)
	}
	sort.Slice(prints, func(i, j int) bool { return prints[i].Finger < prints[j].Finger })
	return prints, nil
}

func (s *Service) listEnrolledFingers(username string) ([]string, *dbus.Error) {
	username, err := currentUsername(username)
	if err != nil {
		return nil, dbusError(ErrInternal, err)
	}
	prints, err := s.userPrints(username)
	if err != nil {
		return nil, dbusError(ErrInternal, err)
	}
	if len(prints) == 0 {
		return nil, dbusError(ErrNoEnrolledPrints, errors.New("Failed to discover prints"))
	}
	fingers := make([]string, 0, len(prints))
	for _, p := range prints {
		fingers = append(fingers, p.Finger.String())
	}
	return fingers, nil
}

func (s *Service) enrollStart(sender, fingerName string, reply func(*dbus.Error)) {
	if err := s.checkClaimed(sender); err != nil {
		reply(err)
		return
	}
	if err := s.checkIdle(); err != nil {
		reply(err)
		return
	}
	finger, err := fprint.ParseFinger(fingerName)
	if err != nil || !finger.Valid() {
		reply(dbusError(ErrInvalidFingername, fmt.Errorf("Invalid finger name %q", fingerName)))
		return
	}

	template := fprint.New(s.dev.Driver(), s.dev.DeviceID())
	template.Finger = finger
	template.Username = s.username
	username := s.username

	ctx := s.begin(device.ActionEnroll)
	progress := func(stage int, p *fprint.Print, err error) {
		if p != nil {
			return
		}
		if status, ok := enrollProgress(err); ok {
			s.emit(signalEnrollStatus, status, false)
		}
	}
	s.dev.Enroll(ctx, template, progress).Then(func(p *fprint.Print, err error) {
		stopped := s.stopping
		s.finish()
		if err == nil {
			if serr := s.prints.Insert(PrintKey(username, finger), p); serr != nil {
				fplog.Error("Cannot save print for %s: %v", username, serr)
				err = device.Errorf(device.CodeGeneral, "cannot save print: %v", serr)
			}
		}
		if stopped && errors.Is(err, device.ErrCancelled) {
			return
		}
		s.emit(signalEnrollStatus, enrollResult(err), true)
	})
	reply(nil)
}

func (s *Service) verifyStart(sender, fingerName string, reply func(*dbus.Error)) {
	if err := s.checkClaimed(sender); err != nil {
		reply(err)
		return
	}
	if err := s.checkIdle(); err != nil {
		reply(err)
		return
	}

	prints, err := s.userPrints(s.username)
	if err != nil {
		reply(dbusError(ErrInternal, err))
		return
	}
	if len(prints) == 0 {
		reply(dbusError(ErrNoEnrolledPrints, errors.New("No fingerprints enrolled")))
		return
	}

	if fingerName != "" && fingerName != fingerAny {
		finger, err := fprint.ParseFinger(fingerName)
		if err != nil || !finger.Valid() {
			reply(dbusError(ErrInvalidFingername, fmt.Errorf("Invalid finger name %q", fingerName)))
			return
		}
		var selected []*fprint.Print
		for _, p := range prints {
			if p.Finger == finger {
				selected = append(selected, p)
			}
		}
		if len(selected) == 0 {
			reply(dbusError(ErrNoEnrolledPrints, fmt.Errorf("No such finger %s enrolled", finger)))
			return
		}
		prints = selected
	}

	if s.dev.SupportsIdentify() && len(prints) > 1 {
		s.emit(signalVerifyFingerSelected, fingerAny)
	} else {
		prints = prints[:1]
		s.emit(signalVerifyFingerSelected, prints[0].Finger.String())
	}

	s.startMatch(s.begin(device.ActionVerify), prints)
	reply(nil)
}

// startMatch verifies against a single print or identifies against several
// and keeps going while the result is a retry.
func (s *Service) startMatch(ctx context.Context, prints []*fprint.Print) {
	done := func(matched bool, err error) {
		status, final := verifyResult(matched, err)
		if s.stopping && errors.Is(err, device.ErrCancelled) {
			s.finish()
			return
		}
		s.emit(signalVerifyStatus, status, final)
		if final || s.stopping {
			s.finish()
			return
		}
		s.loop.Post(func() {
			if s.stopping {
				s.finish()
				return
			}
			s.startMatch(ctx, prints)
		})
	}

	if len(prints) > 1 {
		s.dev.Identify(ctx, prints, nil).Then(func(res device.IdentifyResult, err error) {
			done(res.Match != nil, err)
		})
		return
	}
	s.dev.Verify(ctx, prints[0], nil).Then(func(res device.VerifyResult, err error) {
		done(res.Matched, err)
	})
}

// stopAction cancels the operation of kind and replies once it ended.
func (s *Service) stopAction(sender string, kind device.ActionKind, reply func(*dbus.Error)) {
	if err := s.checkClaimed(sender); err != nil {
		reply(err)
		return
	}
	if s.kind != kind {
		reply(dbusError(ErrNoActionInProgress, fmt.Errorf("No %s in progress", kind)))
		return
	}
	s.stopping = true
	s.stop()
	s.whenIdle(func() { reply(nil) })
}

func (s *Service) deleteEnrolledFingers(sender string, reply func(*dbus.Error)) {
	if err := s.checkClaimed(sender); err != nil {
		reply(err)
		return
	}
	if err := s.checkIdle(); err != nil {
		reply(err)
		return
	}

	prints, err := s.userPrints(s.username)
	if err != nil {
		reply(dbusError(ErrInternal, err))
		return
	}
	if len(prints) == 0 {
		reply(dbusError(ErrNoEnrolledPrints, errors.New("No fingerprints enrolled")))
		return
	}

	ctx := s.begin(device.ActionDelete)
	username := s.username
	var failed bool

	var next func(i int)
	next = func(i int) {
		if i == len(prints) {
			s.finish()
			if failed {
				reply(dbusError(ErrPrintsNotDeletedDev, errors.New("Failed to delete some prints from the device")))
				return
			}
			reply(nil)
			return
		}

		p := prints[i]
		forget := func() {
			if err := s.prints.Remove(PrintKey(username, p.Finger)); err != nil {
				fplog.Warn("Cannot forget %s of %s: %v", p.Finger, username, err)
			}
			next(i + 1)
		}
		if !s.dev.HasStorage() || !p.DeviceStored {
			forget()
			return
		}
		s.dev.DeletePrint(ctx, p).Then(func(_ bool, err error) {
			if err != nil && !errors.Is(err, device.ErrDataNotFound) {
				fplog.Warn("Cannot delete %s of %s from the device: %v", p.Finger, username, err)
				failed = true
			}
			forget()
		})
	}
	next(0)
}

// deviceObject carries the net.reactivated.Fprint.Device methods.
type deviceObject struct {
	s *Service
}

func (o *deviceObject) Claim(sender dbus.Sender, username string) *dbus.Error {
	return o.s.await(func(reply func(*dbus.Error)) { o.s.claim(string(sender), username, reply) })
}

func (o *deviceObject) Release(sender dbus.Sender) *dbus.Error {
	return o.s.await(func(reply func(*dbus.Error)) { o.s.release(string(sender), reply) })
}

func (o *deviceObject) ListEnrolledFingers(username string) ([]string, *dbus.Error) {
	return o.s.listEnrolledFingers(username)
}

func (o *deviceObject) EnrollStart(sender dbus.Sender, finger string) *dbus.Error {
	return o.s.await(func(reply func(*dbus.Error)) { o.s.enrollStart(string(sender), finger, reply) })
}

func (o *deviceObject) EnrollStop(sender dbus.Sender) *dbus.Error {
	return o.s.await(func(reply func(*dbus.Error)) {
		o.s.stopAction(string(sender), device.ActionEnroll, reply)
	})
}

func (o *deviceObject) VerifyStart(sender dbus.Sender, finger string) *dbus.Error {
	return o.s.await(func(reply func(*dbus.Error)) { o.s.verifyStart(string(sender), finger, reply) })
}

func (o *deviceObject) VerifyStop(sender dbus.Sender) *dbus.Error {
	return o.s.await(func(reply func(*dbus.Error)) {
		o.s.stopAction(string(sender), device.ActionVerify, reply)
	})
}

func (o *deviceObject) DeleteEnrolledFingers2(sender dbus.Sender) *dbus.Error {
	return o.s.await(func(reply func(*dbus.Error)) { o.s.deleteEnrolledFingers(string(sender), reply) })
}

// managerObject carries the net.reactivated.Fprint.Manager methods.
type managerObject struct {
	s *Service
}

func (m *managerObject) GetDevices() ([]dbus.ObjectPath, *dbus.Error) {
	return []dbus.ObjectPath{m.s.path}, nil
}

func (m *managerObject) GetDefaultDevice() (dbus.ObjectPath, *dbus.Error) {
	return m.s.path, nil
}
