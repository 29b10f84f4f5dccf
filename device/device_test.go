package device

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/fprint"
	"github.com/cowboyrushforth/fprintvirt/loop"
)

// fakeDriver completes open and close right away and parks every other
// action so tests can drive it by hand.
type fakeDriver struct {
	pending   *Action
	cancels   int
	closeErr  error
	autoAbort bool
}

func (f *fakeDriver) Open(a *Action)     { a.Complete(nil) }
func (f *fakeDriver) Close(a *Action)    { a.Complete(f.closeErr) }
func (f *fakeDriver) Enroll(a *Action)   { f.pending = a }
func (f *fakeDriver) Verify(a *Action)   { f.pending = a }
func (f *fakeDriver) Identify(a *Action) { f.pending = a }
func (f *fakeDriver) List(a *Action)     { f.pending = a }
func (f *fakeDriver) Delete(a *Action)   { f.pending = a }

func (f *fakeDriver) Cancel(a *Action) {
	f.cancels++
	if f.autoAbort {
		a.Fail(a.InterruptError())
	}
}

func newTestDevice(t *testing.T, caps Capability) (*Device, *fakeDriver) {
	t.Helper()
	drv := &fakeDriver{}
	dev := New(loop.New(), drv, Info{
		Driver:         "fake",
		DeviceID:       "0",
		FullName:       "Fake device",
		ScanType:       ScanTypeSwipe,
		NrEnrollStages: 5,
		Capabilities:   caps,
	})
	return dev, drv
}

func openDevice(t *testing.T, caps Capability) (*Device, *fakeDriver) {
	t.Helper()
	dev, drv := newTestDevice(t, caps)
	require.NoError(t, dev.OpenSync(context.Background()))
	return dev, drv
}

func testTemplate() *fprint.Print {
	p := fprint.New("", "")
	p.Finger = fprint.LeftLittle
	p.Username = "testuser"
	return p
}

func scanned(dev *Device, id string) *fprint.Print {
	p := fprint.New(dev.Driver(), dev.DeviceID())
	p.Tag = id
	p.Data = fprint.PayloadFromScan(id)
	return p
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	fplog.SetOutput(&buf)
	t.Cleanup(func() { fplog.SetOutput(os.Stderr) })
	return &buf
}

func TestOpenClose(t *testing.T) {
	dev, _ := newTestDevice(t, 0)
	var props []Property
	dev.OnNotify(func(p Property) { props = append(props, p) })

	assert.False(t, dev.IsOpen())
	require.NoError(t, dev.OpenSync(context.Background()))
	assert.True(t, dev.IsOpen())

	task := dev.Open(context.Background())
	require.True(t, task.Done())
	_, err := task.Result()
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, dev.CloseSync(context.Background()))
	assert.False(t, dev.IsOpen())
	assert.ErrorIs(t, dev.CloseSync(context.Background()), ErrBusy)

	assert.Equal(t, []Property{PropOpen, PropOpen}, props)
}

func TestCloseErrorLeavesDeviceClosed(t *testing.T) {
	dev, drv := openDevice(t, 0)
	drv.closeErr = NewError(CodeProto)

	assert.ErrorIs(t, dev.CloseSync(context.Background()), ErrProto)
	assert.False(t, dev.IsOpen())
}

func TestGateChecks(t *testing.T) {
	dev, _ := newTestDevice(t, 0)
	_, _, err := dev.VerifySync(context.Background(), testTemplate(), nil)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, dev.OpenSync(context.Background()))
	_, _, err = dev.IdentifySync(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNotSupported)
	_, err = dev.ListPrintsSync(context.Background())
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.ErrorIs(t, dev.DeletePrintSync(context.Background(), testTemplate()), ErrNotSupported)

	_, err = dev.EnrollSync(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrDataInvalid)
}

func TestBusyIsSynchronous(t *testing.T) {
	dev, drv := openDevice(t, CapStorage|CapIdentify)

	verify := dev.Verify(context.Background(), testTemplate(), nil)
	require.False(t, verify.Done())
	require.NotNil(t, drv.pending)

	for _, task := range []interface{ Done() bool }{
		dev.ListPrints(context.Background()),
		dev.Enroll(context.Background(), testTemplate(), nil),
		dev.Close(context.Background()),
	} {
		assert.True(t, task.Done())
	}
	_, err := dev.ListPrints(context.Background()).Result()
	assert.ErrorIs(t, err, ErrBusy)
	assert.Same(t, drv.pending, dev.CurrentAction())
}

func TestEnrollProgress(t *testing.T) {
	dev, drv := openDevice(t, 0)
	require.NoError(t, dev.SetNrEnrollStages(3))

	var stages []int
	var errs []error
	task := dev.Enroll(context.Background(), testTemplate(), func(stage int, p *fprint.Print, err error) {
		stages = append(stages, stage)
		errs = append(errs, err)
	})
	a := drv.pending
	require.NotNil(t, a)
	assert.Equal(t, ActionEnroll, a.Kind())
	assert.Equal(t, 0, a.Stage())

	dev.ReportFingerStatus(FingerStatusNeeded, 0)
	a.EnrollProgress(0, nil, nil)
	a.EnrollProgress(1, nil, NewRetry(RetryTooShort))
	a.EnrollProgress(1, nil, nil)
	a.EnrollProgress(2, nil, nil)

	result := testTemplate()
	result.Tag = "print-id"
	a.CompleteEnroll(result, nil)

	require.True(t, task.Done())
	p, err := task.Result()
	require.NoError(t, err)
	assert.Same(t, result, p)
	assert.Equal(t, []int{0, 1, 1, 2}, stages)
	assert.ErrorIs(t, errs[1], NewRetry(RetryTooShort))
	assert.ErrorIs(t, a.LastError(), NewRetry(RetryTooShort))
	assert.Equal(t, FingerStatusNone, dev.FingerStatus())
	assert.Nil(t, dev.CurrentAction())
}

func TestEnrollWithoutPrintFails(t *testing.T) {
	dev, drv := openDevice(t, 0)
	task := dev.Enroll(context.Background(), testTemplate(), nil)
	drv.pending.CompleteEnroll(nil, nil)

	_, err := task.Result()
	assert.ErrorIs(t, err, ErrGeneral)
}

func TestVerifyReportBeforeCompletion(t *testing.T) {
	dev, drv := openDevice(t, 0)
	target := testTemplate()

	var order []string
	dev.OnReport(func(r Report) {
		assert.Equal(t, ActionVerify, r.Action)
		order = append(order, "bus")
	})
	task := dev.Verify(context.Background(), target, func(match, scan *fprint.Print, err error) {
		assert.Same(t, target, match)
		order = append(order, "report")
	})
	task.Then(func(res VerifyResult, err error) {
		order = append(order, "done")
	})

	a := drv.pending
	assert.Same(t, target, a.Target())
	scan := scanned(dev, "right-thumb")
	a.ReportMatch(target, scan, nil)
	assert.True(t, a.Reported())
	a.Complete(nil)

	res, err := task.Result()
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Same(t, scan, res.Print)
	assert.Equal(t, []string{"report", "bus", "done"}, order)
}

func TestVerifyWithoutReportIsDriverError(t *testing.T) {
	buf := captureLog(t)
	dev, drv := openDevice(t, 0)
	task := dev.Verify(context.Background(), testTemplate(), nil)
	drv.pending.Complete(nil)

	_, err := task.Result()
	assert.ErrorIs(t, err, ErrGeneral)
	assert.Contains(t, buf.String(), "without reporting a result")
}

func TestRetryCompletionSynthesizesReport(t *testing.T) {
	dev, drv := openDevice(t, CapIdentify)
	reports := 0
	var reported error
	task := dev.Identify(context.Background(), []*fprint.Print{testTemplate()}, func(match, scan *fprint.Print, err error) {
		reports++
		reported = err
		assert.Nil(t, match)
		assert.Nil(t, scan)
	})
	drv.pending.Complete(NewRetry(RetryCenterFinger))

	res, err := task.Result()
	assert.True(t, IsRetry(err))
	assert.Nil(t, res.Match)
	assert.Equal(t, 1, reports)
	assert.ErrorIs(t, reported, NewRetry(RetryCenterFinger))
}

func TestCancelThroughContext(t *testing.T) {
	dev, drv := openDevice(t, 0)
	drv.autoAbort = true

	ctx, cancel := context.WithCancel(context.Background())
	reports := 0
	task := dev.Verify(ctx, testTemplate(), func(*fprint.Print, *fprint.Print, error) { reports++ })
	dev.ReportFingerStatus(FingerStatusNeeded, 0)
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	res, err := task.Wait(waitCtx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, res.Matched)
	assert.Zero(t, reports)
	assert.Equal(t, 1, drv.cancels)
	assert.Equal(t, FingerStatusNone, dev.FingerStatus())
}

func TestRemovedWhileIdle(t *testing.T) {
	dev, _ := openDevice(t, 0)
	var props []Property
	removed := 0
	dev.OnNotify(func(p Property) { props = append(props, p) })
	dev.OnRemoved(func() { removed++ })

	dev.ReportRemoved()
	dev.ReportRemoved()

	assert.True(t, dev.Removed())
	assert.Equal(t, 1, removed)
	assert.Equal(t, []Property{PropRemoved}, props)
	assert.ErrorIs(t, dev.CloseSync(context.Background()), ErrRemoved)
	assert.ErrorIs(t, dev.CloseSync(context.Background()), ErrRemoved)
}

func TestRemovedDuringAction(t *testing.T) {
	dev, drv := openDevice(t, 0)
	removed := 0
	dev.OnRemoved(func() { removed++ })

	task := dev.Verify(context.Background(), testTemplate(), nil)
	a := drv.pending

	dev.ReportRemoved()
	assert.True(t, dev.Removed())
	assert.Equal(t, 1, drv.cancels)
	assert.True(t, a.Interrupted())
	assert.Zero(t, removed, "removed fires only after the action completes")

	a.Fail(ErrCancelled)
	_, err := task.Result()
	assert.ErrorIs(t, err, ErrRemoved)
	assert.Equal(t, 1, removed)

	assert.ErrorIs(t, dev.CloseSync(context.Background()), ErrRemoved)
}

func TestSetNrEnrollStages(t *testing.T) {
	buf := captureLog(t)
	dev, _ := newTestDevice(t, 0)
	notified := 0
	dev.OnNotify(func(p Property) {
		if p == PropNrEnrollStages {
			notified++
		}
	})

	require.NoError(t, dev.SetNrEnrollStages(1))
	assert.Equal(t, 1, dev.NrEnrollStages())
	assert.Equal(t, 1, notified)

	assert.Error(t, dev.SetNrEnrollStages(0))
	assert.Error(t, dev.SetNrEnrollStages(-4))
	assert.Equal(t, 1, dev.NrEnrollStages())
	assert.Equal(t, 1, notified)
	assert.Contains(t, buf.String(), "enroll_stages > 0")
}

func TestSetScanType(t *testing.T) {
	buf := captureLog(t)
	dev, _ := newTestDevice(t, 0)
	var props []Property
	dev.OnNotify(func(p Property) { props = append(props, p) })

	require.NoError(t, dev.SetScanType("press"))
	assert.Equal(t, ScanTypePress, dev.ScanType())
	require.NoError(t, dev.SetScanType("swipe"))
	assert.Equal(t, ScanTypeSwipe, dev.ScanType())

	assert.Error(t, dev.SetScanType("eye-contact"))
	assert.Equal(t, ScanTypeSwipe, dev.ScanType())
	assert.Contains(t, buf.String(), "Scan type 'eye-contact' not found")
	assert.Equal(t, []Property{PropScanType, PropScanType}, props)
}

func TestFingerStatusNotifiesOnChangeOnly(t *testing.T) {
	dev, _ := newTestDevice(t, 0)
	notified := 0
	unsubscribe := dev.OnNotify(func(p Property) {
		if p == PropFingerStatus {
			notified++
		}
	})

	dev.ReportFingerStatus(FingerStatusNeeded, 0)
	dev.ReportFingerStatus(FingerStatusNeeded, 0)
	dev.ReportFingerStatus(FingerStatusPresent, 0)
	assert.Equal(t, FingerStatusNeeded|FingerStatusPresent, dev.FingerStatus())
	dev.ReportFingerStatus(0, FingerStatusPresent|FingerStatusNeeded)
	assert.Equal(t, FingerStatusNone, dev.FingerStatus())
	assert.Equal(t, 3, notified)

	unsubscribe()
	dev.ReportFingerStatus(FingerStatusPresent, 0)
	assert.Equal(t, 3, notified)
	assert.Equal(t, "present", dev.FingerStatus().String())
}

func TestTaskThenAfterDone(t *testing.T) {
	dev, drv := openDevice(t, CapStorage)
	task := dev.DeletePrint(context.Background(), testTemplate())
	drv.pending.Complete(nil)
	require.True(t, task.Done())

	called := false
	task.Then(func(ok bool, err error) {
		called = true
		assert.True(t, ok)
		assert.NoError(t, err)
	})
	assert.False(t, called)
	dev.Loop().Iterate(false)
	assert.True(t, called)
}

func TestListReturnsEmptySlice(t *testing.T) {
	dev, drv := openDevice(t, CapStorage)
	task := dev.ListPrints(context.Background())
	drv.pending.CompleteList(nil, nil)

	prints, err := task.Result()
	require.NoError(t, err)
	assert.NotNil(t, prints)
	assert.Empty(t, prints)
}
