package virtual

import (
	"errors"
	"time"

	"github.com/cowboyrushforth/fprintvirt/device"
	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprint"
	"github.com/cowboyrushforth/fprintvirt/store"
)

var (
	errSleeping   = errors.New("waiting for a SLEEP to elapse")
	errNoCommands = errors.New("no commands left that can be run")
)

// process consumes queued commands for a. INSERT, REMOVE, SLEEP and ERROR
// apply to every action; the rest only when scan is set. It returns the id
// of a SCAN, an injected error, errSleeping or errNoCommands.
func (v *driver) process(a *device.Action, scan bool) (string, error) {
	if a.Interrupted() {
		return "", a.InterruptError()
	}

	for v.queue.Len() > 0 {
		cmd := v.queue.Peek().(Command)
		fplog.Debug("Processing command %s", cmd)

		switch cmd.Verb {
		case VerbInsert:
			v.queue.Dequeue()
			v.insert(cmd.Arg())
			continue
		case VerbRemove:
			v.queue.Dequeue()
			v.remove(cmd.Arg())
			continue
		case VerbSleep:
			v.queue.Dequeue()
			v.sleep(cmd)
			return "", errSleeping
		case VerbError:
			v.queue.Dequeue()
			return "", device.NewError(device.ErrorCode(cmd.Int()))
		}

		if !scan {
			fplog.Warn("Could not process command: %s", cmd)
			v.queue.Dequeue()
			break
		}

		switch cmd.Verb {
		case VerbScan:
			v.queue.Dequeue()
			return cmd.Arg(), nil
		case VerbRetry:
			v.queue.Dequeue()
			return "", device.NewRetry(device.RetryCode(cmd.Int()))
		case VerbFinger:
			v.queue.Dequeue()
			if cmd.Bool() {
				v.dev.ReportFingerStatus(device.FingerStatusPresent, device.FingerStatusNone)
			} else {
				v.dev.ReportFingerStatus(device.FingerStatusNone, device.FingerStatusPresent)
			}
		default:
			fplog.Warn("Could not process command: %s", cmd)
			v.queue.Dequeue()
		}
	}
	return "", errNoCommands
}

func (v *driver) insert(id string) {
	if v.cfg.Store == nil {
		fplog.Warn("Device has no storage, cannot insert %s", id)
		return
	}
	p := v.newScan(id)
	p.EnrollDate = time.Now()
	if err := v.cfg.Store.Insert(id, p); err != nil {
		fplog.Warn("Cannot insert %s into storage: %v", id, err)
	}
}

func (v *driver) remove(id string) {
	if v.cfg.Store == nil {
		fplog.Warn("Device has no storage, cannot remove %s", id)
		return
	}
	if err := v.cfg.Store.Remove(id); err != nil {
		fplog.Warn("ID %s was not found in storage", id)
	}
}

func (v *driver) sleep(cmd Command) {
	d := time.Duration(cmd.Int()) * time.Millisecond
	fplog.Debug("Sleeping %s", d)
	v.sleepTimer = v.loop.AfterFunc(d, func() {
		v.sleepTimer = nil
		if a := v.dev.CurrentAction(); a != nil {
			v.continueAction(a)
		}
	})
}

// sleepAfterReport starts a SLEEP queued right behind a scan, delaying the
// completion of the action that reported it.
func (v *driver) sleepAfterReport() bool {
	if v.queue.Len() == 0 {
		return false
	}
	cmd := v.queue.Peek().(Command)
	if cmd.Verb != VerbSleep {
		return false
	}
	v.queue.Dequeue()
	v.sleep(cmd)
	return true
}

// waiting handles the two ways a step suspends. With nothing queued the
// device asks for a finger.
func (v *driver) waiting(a *device.Action, err error) bool {
	switch {
	case errors.Is(err, errSleeping):
		return true
	case errors.Is(err, errNoCommands):
		v.dev.ReportFingerStatus(device.FingerStatusNeeded, device.FingerStatusNone)
		if v.cfg.CommandTimeout > 0 && v.waitTimer == nil {
			v.waitTimer = v.loop.AfterFunc(v.cfg.CommandTimeout, func() {
				v.waitTimer = nil
				if !a.Done() {
					a.Fail(device.ErrTimedOut)
				}
			})
		}
		return true
	}
	return false
}

func (v *driver) scanStarted() {
	v.dev.ReportFingerStatus(device.FingerStatusPresent, device.FingerStatusNone)
}

func (v *driver) scanResolved() {
	v.dev.ReportFingerStatus(device.FingerStatusNone, device.FingerStatusPresent|device.FingerStatusNeeded)
}

func (v *driver) newScan(id string) *fprint.Print {
	p := fprint.New(v.cfg.Driver, v.cfg.DeviceID)
	p.DeviceStored = v.cfg.Store != nil
	p.Tag = id
	p.Data = fprint.PayloadFromScan(id)
	return p
}

// checkStored fails with DATA_NOT_FOUND when the storage variant scanned an
// id it does not hold.
func (v *driver) checkStored(id string) error {
	if v.cfg.Store == nil {
		return nil
	}
	ok, err := v.cfg.Store.Contains(id)
	if err != nil {
		return device.Errorf(device.CodeGeneral, "cannot read storage: %v", err)
	}
	if !ok {
		return device.NewError(device.CodeDataNotFound)
	}
	return nil
}

func (v *driver) stepEnroll(a *device.Action) {
	id, err := v.process(a, true)
	if v.waiting(a, err) {
		return
	}

	if id == "" {
		if device.IsRetry(err) {
			v.scanStarted()
			v.scanResolved()
			a.EnrollProgress(v.enrollStage, nil, err)
			v.loop.Post(func() { v.continueAction(a) })
			return
		}
		v.enrollStage = 0
		a.CompleteEnroll(nil, err)
		return
	}

	v.scanStarted()
	if v.cfg.Store != nil {
		if ok, _ := v.cfg.Store.Contains(id); ok {
			v.enrollStage = 0
			a.CompleteEnroll(nil, device.NewError(device.CodeDataDuplicate))
			return
		}
	}
	if v.enrollStage > 0 && id != v.enrollID {
		v.scanResolved()
		a.EnrollProgress(v.enrollStage, nil, &device.RetryError{Code: device.RetryGeneral, Msg: "ID Mismatch"})
		v.loop.Post(func() { v.continueAction(a) })
		return
	}

	v.enrollID = id
	stage := v.enrollStage
	v.enrollStage++
	v.scanResolved()

	if v.enrollStage < v.dev.NrEnrollStages() {
		a.EnrollProgress(stage, nil, nil)
		v.loop.Post(func() { v.continueAction(a) })
		return
	}

	p := v.enrolledPrint(a.Template(), id)
	if v.cfg.Store != nil {
		if err := v.cfg.Store.Insert(id, p); err != nil {
			v.enrollStage = 0
			a.CompleteEnroll(nil, device.Errorf(device.CodeGeneral, "cannot store print: %v", err))
			return
		}
	}
	v.enrollStage = 0
	a.EnrollProgress(stage, p, nil)
	a.CompleteEnroll(p, nil)
}

func (v *driver) enrolledPrint(template *fprint.Print, id string) *fprint.Print {
	p := template.Clone()
	p.Driver = v.cfg.Driver
	p.DeviceID = v.cfg.DeviceID
	p.DeviceStored = v.cfg.Store != nil
	p.EnrollDate = time.Now()
	p.Tag = id
	p.Data = fprint.PayloadFromScan(id)
	return p
}

func (v *driver) stepVerify(a *device.Action) {
	if a.Reported() {
		v.completeReported(a)
		return
	}

	id, err := v.process(a, true)
	if v.waiting(a, err) {
		return
	}

	if id != "" {
		v.scanStarted()
		scan := v.newScan(id)
		var match *fprint.Print
		if err = v.checkStored(id); err == nil && v.cfg.Matcher.Match(a.Target(), scan) {
			match = a.Target()
		}
		fplog.Debug("Virtual device scanned print %s, match: %t", id, match != nil)
		a.ReportMatch(match, scan, nil)
	} else if device.IsRetry(err) {
		v.scanStarted()
		a.ReportMatch(nil, nil, err)
	}
	v.finishMatch(a, err)
}

func (v *driver) stepIdentify(a *device.Action) {
	if a.Reported() {
		v.completeReported(a)
		return
	}

	id, err := v.process(a, true)
	if v.waiting(a, err) {
		return
	}

	if id != "" {
		v.scanStarted()
		scan := v.newScan(id)
		var match *fprint.Print
		if err = v.checkStored(id); err == nil {
			for _, p := range a.Gallery() {
				if v.cfg.Matcher.Match(p, scan) {
					match = p
					break
				}
			}
		}
		fplog.Debug("Virtual device scanned print %s, identified: %t", id, match != nil)
		a.ReportMatch(match, scan, nil)
	} else if device.IsRetry(err) {
		v.scanStarted()
		a.ReportMatch(nil, nil, err)
	}
	v.finishMatch(a, err)
}

// finishMatch completes a verify or identify, unless a SLEEP queued behind
// the scan has to elapse first.
func (v *driver) finishMatch(a *device.Action, err error) {
	v.scanResolved()
	if a.Reported() && v.sleepAfterReport() {
		v.pendingErr = err
		return
	}
	a.Complete(err)
}

func (v *driver) completeReported(a *device.Action) {
	err := v.pendingErr
	v.pendingErr = nil
	if a.Interrupted() {
		err = a.InterruptError()
	}
	a.Complete(err)
}

func (v *driver) stepList(a *device.Action) {
	_, err := v.process(a, false)
	if errors.Is(err, errSleeping) {
		return
	}
	if !errors.Is(err, errNoCommands) {
		a.CompleteList(nil, err)
		return
	}

	prints, err := v.cfg.Store.List()
	if err != nil {
		a.CompleteList(nil, device.Errorf(device.CodeGeneral, "cannot list storage: %v", err))
		return
	}
	a.CompleteList(prints, nil)
}

func (v *driver) stepDelete(a *device.Action) {
	_, err := v.process(a, false)
	if errors.Is(err, errSleeping) {
		return
	}
	if !errors.Is(err, errNoCommands) {
		a.Complete(err)
		return
	}

	id := a.Target().Tag
	if id == "" {
		a.Complete(device.NewError(device.CodeDataInvalid))
		return
	}
	if err := v.cfg.Store.Remove(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.Complete(device.NewError(device.CodeDataNotFound))
			return
		}
		a.Complete(device.Errorf(device.CodeGeneral, "cannot delete %s: %v", id, err))
		return
	}
	a.Complete(nil)
}

func (v *driver) stepClose(a *device.Action) {
	_, err := v.process(a, false)
	if errors.Is(err, errSleeping) {
		return
	}
	if errors.Is(err, errNoCommands) {
		err = nil
	}
	v.teardown()
	a.Complete(err)
}
