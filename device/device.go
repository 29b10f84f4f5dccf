// Package device is the driver-independent core of a fingerprint device: the
// one-operation-at-a-time gate, the operation state machine, finger status
// tracking and property notifications. Drivers plug in through Driver.
//
// A Device lives on a loop.Loop. Every method must be called from the
// goroutine iterating that loop; the Sync variants iterate it themselves.
package device

import (
	"context"
	"fmt"

	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprint"
	"github.com/cowboyrushforth/fprintvirt/loop"
	"github.com/cowboyrushforth/fprintvirt/validate"
)

// Driver performs the device specific part of each operation. Each method
// is called on the loop with the new action and must eventually complete
// it, either synchronously or from a later loop callback.
type Driver interface {
	Open(a *Action)
	Close(a *Action)
	Enroll(a *Action)
	Verify(a *Action)
	Identify(a *Action)
	List(a *Action)
	Delete(a *Action)
	// Cancel asks the driver to stop a itself at its next suspension
	// point. It is also called when the device is removed mid-operation.
	Cancel(a *Action)
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Matched bool
	Print   *fprint.Print
}

// IdentifyResult is the outcome of Identify. Match is nil when no candidate
// matched.
type IdentifyResult struct {
	Match *fprint.Print
	Print *fprint.Print
}

// Device is the caller facing handle of one fingerprint device.
type Device struct {
	loop *loop.Loop
	drv  Driver
	info Info

	scanType       ScanType
	nrEnrollStages int
	fingerStatus   FingerStatus
	open           bool
	removed        bool
	removedSignal  bool

	action *Action
	bus    bus
}

// New creates a closed device driven by drv.
func New(l *loop.Loop, drv Driver, info Info) *Device {
	if info.NrEnrollStages <= 0 {
		info.NrEnrollStages = 1
	}
	return &Device{
		loop:           l,
		drv:            drv,
		info:           info,
		scanType:       info.ScanType,
		nrEnrollStages: info.NrEnrollStages,
	}
}

func (d *Device) Loop() *loop.Loop { return d.loop }

func (d *Device) Driver() string { return d.info.Driver }

func (d *Device) DeviceID() string { return d.info.DeviceID }

func (d *Device) Name() string { return d.info.FullName }

func (d *Device) ScanType() ScanType { return d.scanType }

func (d *Device) NrEnrollStages() int { return d.nrEnrollStages }

func (d *Device) FingerStatus() FingerStatus { return d.fingerStatus }

func (d *Device) IsOpen() bool { return d.open }

func (d *Device) Removed() bool { return d.removed }

func (d *Device) Capabilities() Capability { return d.info.Capabilities }

func (d *Device) SupportsIdentify() bool { return d.info.Capabilities.Has(CapIdentify) }

func (d *Device) SupportsCapture() bool { return d.info.Capabilities.Has(CapCapture) }

func (d *Device) HasStorage() bool { return d.info.Capabilities.Has(CapStorage) }

// CurrentAction returns the live action, or nil when idle.
func (d *Device) CurrentAction() *Action { return d.action }

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s/%s)", d.info.FullName, d.info.Driver, d.info.DeviceID)
}

// SetNrEnrollStages changes the number of enroll stages. Values below one
// are rejected and leave the property unchanged.
func (d *Device) SetNrEnrollStages(n int) error {
	if err := validate.EnrollStages(n); err != nil {
		fplog.Critical("Invalid enroll stages %d: %v", n, err)
		return err
	}
	if n == d.nrEnrollStages {
		return nil
	}
	d.nrEnrollStages = n
	d.notify(PropNrEnrollStages)
	return nil
}

// SetScanType changes the scan type by name. Unknown names are rejected and
// leave the property unchanged.
func (d *Device) SetScanType(name string) error {
	t, ok := ParseScanType(name)
	if !ok {
		fplog.Warn("Scan type '%s' not found", name)
		return fmt.Errorf("unknown scan type %q", name)
	}
	if t == d.scanType {
		return nil
	}
	d.scanType = t
	d.notify(PropScanType)
	return nil
}

// ReportFingerStatus sets and then clears finger status bits. Observers are
// only notified when the combined value changes.
func (d *Device) ReportFingerStatus(set, clear FingerStatus) {
	d.setFingerStatus((d.fingerStatus &^ clear) | set)
}

func (d *Device) setFingerStatus(s FingerStatus) {
	if s == d.fingerStatus {
		return
	}
	fplog.Debug("Finger status changed: %s -> %s", d.fingerStatus, s)
	d.fingerStatus = s
	d.notify(PropFingerStatus)
}

func (d *Device) setOpen(open bool) {
	if open == d.open {
		return
	}
	d.open = open
	d.notify(PropOpen)
}

// ReportRemoved marks the device as unplugged. A live action is asked to
// stop and completes with a removal error; the removed signal follows its
// completion, or fires right away when idle.
func (d *Device) ReportRemoved() {
	if d.removed {
		return
	}
	fplog.Info("Device %s was removed", d)
	d.removed = true
	d.notify(PropRemoved)

	if a := d.action; a != nil {
		d.drv.Cancel(a)
		return
	}
	d.emitRemoved()
}

func (d *Device) emitRemoved() {
	if d.removedSignal {
		return
	}
	d.removedSignal = true
	d.bus.removed.each(func(fn func()) { fn() })
}

// begin runs the synchronous gate checks and registers a new action.
func (d *Device) begin(ctx context.Context, kind ActionKind) (*Action, error) {
	if d.removed {
		return nil, NewError(CodeRemoved)
	}
	if d.action != nil {
		return nil, NewError(CodeBusy)
	}
	switch kind {
	case ActionOpen:
		if d.open {
			return nil, NewError(CodeBusy)
		}
	case ActionClose:
		if !d.open {
			return nil, NewError(CodeBusy)
		}
	default:
		if !d.open {
			return nil, NewError(CodeNotOpen)
		}
	}
	switch kind {
	case ActionIdentify:
		if !d.SupportsIdentify() {
			return nil, NewError(CodeNotSupported)
		}
	case ActionList, ActionDelete:
		if !d.HasStorage() {
			return nil, NewError(CodeNotSupported)
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	a := &Action{dev: d, kind: kind, ctx: ctx, stage: -1}
	return a, nil
}

// start makes a the live action and hands it to the driver.
func (d *Device) start(a *Action, run func(*Action)) {
	d.action = a
	fplog.Debug("Starting %s action on %s", a.kind, d)
	a.stopWatch = context.AfterFunc(a.ctx, func() {
		d.loop.Post(func() { d.cancel(a) })
	})
	run(a)
}

func (d *Device) cancel(a *Action) {
	if a.completed || a.cancelled || d.action != a {
		return
	}
	fplog.Debug("Cancelling %s action", a.kind)
	a.cancelled = true
	d.drv.Cancel(a)
}

func (d *Device) complete(a *Action, err error) {
	if a.completed {
		fplog.Error("Driver completed %s action twice", a.kind)
		return
	}
	if d.action != a {
		fplog.Error("Driver completed %s action that is not current", a.kind)
		return
	}

	switch a.kind {
	case ActionVerify, ActionIdentify:
		if err == nil && !a.reported {
			fplog.Error("Driver completed %s without reporting a result", a.kind)
			err = Errorf(CodeGeneral, "Driver did not report the %s result", a.kind)
		}
		if err != nil && IsRetry(err) && !a.reported {
			a.ReportMatch(nil, nil, err)
		}
	case ActionEnroll:
		if err == nil && a.enrolled == nil {
			fplog.Error("Driver completed enroll without a print")
			err = Errorf(CodeGeneral, "Driver did not provide a valid print")
		}
	}
	if d.removed {
		err = NewError(CodeRemoved)
	}
	if err != nil {
		fplog.Debug("%s action failed: %v", a.kind, err)
	} else {
		fplog.Debug("%s action completed", a.kind)
	}

	a.completed = true
	if a.stopWatch != nil {
		a.stopWatch()
	}
	d.setFingerStatus(FingerStatusNone)

	switch a.kind {
	case ActionOpen:
		if err == nil {
			d.setOpen(true)
		}
	case ActionClose:
		d.setOpen(false)
	}

	d.action = nil
	a.finish(err)

	if d.removed {
		d.emitRemoved()
	}
}

// Open opens the device.
func (d *Device) Open(ctx context.Context) *Task[struct{}] {
	t := newTask[struct{}](d.loop)
	a, err := d.begin(ctx, ActionOpen)
	if err != nil {
		t.resolve(struct{}{}, err)
		return t
	}
	a.finish = func(err error) { t.resolve(struct{}{}, err) }
	d.start(a, d.drv.Open)
	return t
}

// Close closes the device. The device ends up closed even when the driver
// reports an error.
func (d *Device) Close(ctx context.Context) *Task[struct{}] {
	t := newTask[struct{}](d.loop)
	a, err := d.begin(ctx, ActionClose)
	if err != nil {
		t.resolve(struct{}{}, err)
		return t
	}
	a.finish = func(err error) { t.resolve(struct{}{}, err) }
	d.start(a, d.drv.Close)
	return t
}

// Enroll scans NrEnrollStages times and returns the new print. template
// supplies the finger and username of the result.
func (d *Device) Enroll(ctx context.Context, template *fprint.Print, progress ProgressFunc) *Task[*fprint.Print] {
	t := newTask[*fprint.Print](d.loop)
	if template == nil {
		t.resolve(nil, Errorf(CodeDataInvalid, "Enroll needs a template print"))
		return t
	}
	a, err := d.begin(ctx, ActionEnroll)
	if err != nil {
		t.resolve(nil, err)
		return t
	}
	a.template = template
	a.progress = progress
	a.stage = 0
	a.finish = func(err error) { t.resolve(a.enrolled, err) }
	d.start(a, d.drv.Enroll)
	return t
}

// Verify matches one scan against p. report is called before completion.
func (d *Device) Verify(ctx context.Context, p *fprint.Print, report ReportFunc) *Task[VerifyResult] {
	t := newTask[VerifyResult](d.loop)
	if p == nil {
		t.resolve(VerifyResult{}, Errorf(CodeDataInvalid, "Verify needs a print"))
		return t
	}
	a, err := d.begin(ctx, ActionVerify)
	if err != nil {
		t.resolve(VerifyResult{}, err)
		return t
	}
	a.target = p
	a.report = report
	a.finish = func(err error) {
		t.resolve(VerifyResult{Matched: a.match != nil, Print: a.scanned}, err)
	}
	d.start(a, d.drv.Verify)
	return t
}

// Identify matches one scan against the candidates in order.
func (d *Device) Identify(ctx context.Context, prints []*fprint.Print, report ReportFunc) *Task[IdentifyResult] {
	t := newTask[IdentifyResult](d.loop)
	a, err := d.begin(ctx, ActionIdentify)
	if err != nil {
		t.resolve(IdentifyResult{}, err)
		return t
	}
	a.gallery = prints
	a.report = report
	a.finish = func(err error) {
		t.resolve(IdentifyResult{Match: a.match, Print: a.scanned}, err)
	}
	d.start(a, d.drv.Identify)
	return t
}

// ListPrints returns the prints stored on the device.
func (d *Device) ListPrints(ctx context.Context) *Task[[]*fprint.Print] {
	t := newTask[[]*fprint.Print](d.loop)
	a, err := d.begin(ctx, ActionList)
	if err != nil {
		t.resolve(nil, err)
		return t
	}
	a.finish = func(err error) { t.resolve(a.listed, err) }
	d.start(a, d.drv.List)
	return t
}

// DeletePrint removes p from the device storage.
func (d *Device) DeletePrint(ctx context.Context, p *fprint.Print) *Task[bool] {
	t := newTask[bool](d.loop)
	if p == nil {
		t.resolve(false, Errorf(CodeDataInvalid, "Delete needs a print"))
		return t
	}
	a, err := d.begin(ctx, ActionDelete)
	if err != nil {
		t.resolve(false, err)
		return t
	}
	a.target = p
	a.finish = func(err error) { t.resolve(err == nil, err) }
	d.start(a, d.drv.Delete)
	return t
}

func detached(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

// The Sync variants iterate the loop until the operation completes.
// Cancelling ctx cancels the operation; the wait itself continues until the
// driver completes it.

func (d *Device) OpenSync(ctx context.Context) error {
	_, err := d.Open(ctx).Wait(detached(ctx))
	return err
}

func (d *Device) CloseSync(ctx context.Context) error {
	_, err := d.Close(ctx).Wait(detached(ctx))
	return err
}

func (d *Device) EnrollSync(ctx context.Context, template *fprint.Print, progress ProgressFunc) (*fprint.Print, error) {
	return d.Enroll(ctx, template, progress).Wait(detached(ctx))
}

func (d *Device) VerifySync(ctx context.Context, p *fprint.Print, report ReportFunc) (bool, *fprint.Print, error) {
	res, err := d.Verify(ctx, p, report).Wait(detached(ctx))
	return res.Matched, res.Print, err
}

func (d *Device) IdentifySync(ctx context.Context, prints []*fprint.Print, report ReportFunc) (*fprint.Print, *fprint.Print, error) {
	res, err := d.Identify(ctx, prints, report).Wait(detached(ctx))
	return res.Match, res.Print, err
}

func (d *Device) ListPrintsSync(ctx context.Context) ([]*fprint.Print, error) {
	return d.ListPrints(ctx).Wait(detached(ctx))
}

func (d *Device) DeletePrintSync(ctx context.Context, p *fprint.Print) error {
	_, err := d.DeletePrint(ctx, p).Wait(detached(ctx))
	return err
}
