package fprintd

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/cowboyrushforth/fprintvirt/device"
)

// VerifyStatus results
const (
	VerifyMatch          = "verify-match"
	VerifyNoMatch        = "verify-no-match"
	VerifyRetryScan      = "verify-retry-scan"
	VerifySwipeTooShort  = "verify-swipe-too-short"
	VerifyNotCentered    = "verify-finger-not-centered"
	VerifyRemoveAndRetry = "verify-remove-and-retry"
	VerifyDisconnected   = "verify-disconnected"
	VerifyUnknownError   = "verify-unknown-error"
)

// EnrollStatus results
const (
	EnrollStagePassed    = "enroll-stage-passed"
	EnrollCompleted      = "enroll-completed"
	EnrollFailed         = "enroll-failed"
	EnrollDuplicate      = "enroll-duplicate"
	EnrollDataFull       = "enroll-data-full"
	EnrollRetryScan      = "enroll-retry-scan"
	EnrollSwipeTooShort  = "enroll-swipe-too-short"
	EnrollNotCentered    = "enroll-finger-not-centered"
	EnrollRemoveAndRetry = "enroll-remove-and-retry"
	EnrollDisconnected   = "enroll-disconnected"
	EnrollUnknownError   = "enroll-unknown-error"
)

// D-Bus error names
const (
	ErrClaimDevice         = "net.reactivated.Fprint.Error.ClaimDevice"
	ErrAlreadyInUse        = "net.reactivated.Fprint.Error.AlreadyInUse"
	ErrInternal            = "net.reactivated.Fprint.Error.Internal"
	ErrPermissionDenied    = "net.reactivated.Fprint.Error.PermissionDenied"
	ErrNoEnrolledPrints    = "net.reactivated.Fprint.Error.NoEnrolledPrints"
	ErrNoActionInProgress  = "net.reactivated.Fprint.Error.NoActionInProgress"
	ErrInvalidFingername   = "net.reactivated.Fprint.Error.InvalidFingername"
	ErrNoSuchDevice        = "net.reactivated.Fprint.Error.NoSuchDevice"
	ErrPrintsNotDeleted    = "net.reactivated.Fprint.Error.PrintsNotDeleted"
	ErrPrintsNotDeletedDev = "net.reactivated.Fprint.Error.PrintsNotDeletedFromDevice"
)

const (
	signalVerifyStatus         = "VerifyStatus"
	signalVerifyFingerSelected = "VerifyFingerSelected"
	signalEnrollStatus         = "EnrollStatus"

	fingerAny = "any"
)

func dbusError(name string, err error) *dbus.Error {
	msg := name
	if err != nil {
		msg = err.Error()
	}
	return dbus.NewError(name, []interface{}{msg})
}

func retryCode(err error) (device.RetryCode, bool) {
	var r *device.RetryError
	if !errors.As(err, &r) {
		return 0, false
	}
	return r.Code, true
}

// verifyResult maps the outcome of a verify or identify to the status
// string and the done flag of VerifyStatus. Retries keep the operation
// going.
func verifyResult(matched bool, err error) (string, bool) {
	if code, ok := retryCode(err); ok {
		switch code {
		case device.RetryTooShort:
			return VerifySwipeTooShort, false
		case device.RetryCenterFinger:
			return VerifyNotCentered, false
		case device.RetryRemoveFinger:
			return VerifyRemoveAndRetry, false
		default:
			return VerifyRetryScan, false
		}
	}

	switch {
	case err == nil && matched:
		return VerifyMatch, true
	case err == nil, errors.Is(err, device.ErrDataNotFound):
		return VerifyNoMatch, true
	case errors.Is(err, device.ErrRemoved):
		return VerifyDisconnected, true
	}
	return VerifyUnknownError, true
}

// enrollProgress maps an enroll progress report. Only intermediate stages
// and retries produce a status.
func enrollProgress(err error) (string, bool) {
	if code, ok := retryCode(err); ok {
		switch code {
		case device.RetryTooShort:
			return EnrollSwipeTooShort, true
		case device.RetryCenterFinger:
			return EnrollNotCentered, true
		case device.RetryRemoveFinger:
			return EnrollRemoveAndRetry, true
		default:
			return EnrollRetryScan, true
		}
	}
	if err != nil {
		return "", false
	}
	return EnrollStagePassed, true
}

// enrollResult maps the completion of an enroll. It always ends the
// operation.
func enrollResult(err error) string {
	var derr *device.Error
	switch {
	case err == nil:
		return EnrollCompleted
	case errors.Is(err, device.ErrDataDuplicate):
		return EnrollDuplicate
	case errors.Is(err, device.ErrDataFull):
		return EnrollDataFull
	case errors.Is(err, device.ErrRemoved):
		return EnrollDisconnected
	case errors.As(err, &derr):
		return EnrollFailed
	}
	return EnrollUnknownError
}
