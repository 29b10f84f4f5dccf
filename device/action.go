package device

import (
	"context"

	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprint"
)

// ProgressFunc receives every enroll stage result. err is a *RetryError when
// the stage has to be scanned again.
type ProgressFunc func(stage int, p *fprint.Print, err error)

// ReportFunc receives the match report of a verify or identify, before the
// operation completes. For verify match is the target when it matched.
type ReportFunc func(match, scanned *fprint.Print, err error)

// Action is the live operation of a device. Drivers receive it from the
// Driver methods and finish it through its Complete methods. All methods
// must be called on the device loop.
type Action struct {
	dev       *Device
	kind      ActionKind
	ctx       context.Context
	stopWatch func() bool

	cancelled bool
	completed bool
	stage     int
	reported  bool

	template *fprint.Print
	target   *fprint.Print
	gallery  []*fprint.Print
	progress ProgressFunc
	report   ReportFunc

	enrolled *fprint.Print
	listed   []*fprint.Print
	match    *fprint.Print
	scanned  *fprint.Print
	lastErr  error

	finish func(err error)
}

func (a *Action) Kind() ActionKind { return a.kind }

func (a *Action) Device() *Device { return a.dev }

func (a *Action) Context() context.Context { return a.ctx }

// Cancelled reports whether the caller asked to cancel the action.
func (a *Action) Cancelled() bool { return a.cancelled }

// Interrupted reports whether the action should stop at its next suspension
// point, either because it was cancelled or because the device is gone.
func (a *Action) Interrupted() bool {
	return a.cancelled || a.dev.removed
}

// InterruptError is the error an interrupted action completes with.
func (a *Action) InterruptError() error {
	if a.dev.removed {
		return NewError(CodeRemoved)
	}
	return ErrCancelled
}

// Stage is the current enroll stage, or -1 outside enroll.
func (a *Action) Stage() int { return a.stage }

// LastError is the last retry reported through progress or report.
func (a *Action) LastError() error { return a.lastErr }

// Template is the print an enroll fills in.
func (a *Action) Template() *fprint.Print { return a.template }

// Target is the print to verify against or to delete.
func (a *Action) Target() *fprint.Print { return a.target }

// Gallery is the ordered candidate list of an identify.
func (a *Action) Gallery() []*fprint.Print { return a.gallery }

// Reported tells whether the match report was already delivered.
func (a *Action) Reported() bool { return a.reported }

// Done tells whether the action has completed.
func (a *Action) Done() bool { return a.completed }

// EnrollProgress delivers the result of one enroll stage. A nil err moves
// the stage forward.
func (a *Action) EnrollProgress(stage int, p *fprint.Print, err error) {
	if a.kind != ActionEnroll {
		fplog.Error("Enroll progress reported for %s action", a.kind)
		return
	}
	if a.completed {
		fplog.Error("Enroll progress reported after completion")
		return
	}
	a.stage = stage
	if err != nil {
		a.lastErr = err
		fplog.Debug("Enroll stage %d/%d needs a retry: %v", stage, a.dev.nrEnrollStages, err)
	} else {
		fplog.Debug("Enroll stage %d/%d passed", stage, a.dev.nrEnrollStages)
	}
	if a.progress != nil {
		a.progress(stage, p, err)
	}
}

// ReportMatch delivers the match report of a verify or identify. It may be
// called once per action; err is a retry or nil.
func (a *Action) ReportMatch(match, scanned *fprint.Print, err error) {
	if a.kind != ActionVerify && a.kind != ActionIdentify {
		fplog.Error("Match reported for %s action", a.kind)
		return
	}
	if a.completed || a.reported {
		fplog.Error("Match reported twice for %s action", a.kind)
		return
	}
	a.reported = true
	if err != nil {
		a.lastErr = err
		match, scanned = nil, nil
	}
	a.match = match
	a.scanned = scanned

	if a.report != nil {
		a.report(match, scanned, err)
	}
	r := Report{Action: a.kind, Match: match, Print: scanned, Err: err}
	a.dev.bus.report.each(func(fn func(Report)) { fn(r) })
}

// Complete finishes an open, close, verify, identify or delete action.
func (a *Action) Complete(err error) {
	a.dev.complete(a, err)
}

// CompleteEnroll finishes an enroll with the new print or an error.
func (a *Action) CompleteEnroll(p *fprint.Print, err error) {
	if err == nil {
		a.enrolled = p
	}
	a.dev.complete(a, err)
}

// CompleteList finishes a list with the stored prints or an error.
func (a *Action) CompleteList(prints []*fprint.Print, err error) {
	if err == nil {
		a.listed = prints
		if a.listed == nil {
			a.listed = []*fprint.Print{}
		}
	}
	a.dev.complete(a, err)
}

// Fail finishes any kind of action with err.
func (a *Action) Fail(err error) {
	if err == nil {
		err = NewError(CodeGeneral)
	}
	a.dev.complete(a, err)
}
