package fprintd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cowboyrushforth/fprintvirt/device"
)

func TestVerifyResult(t *testing.T) {
	for _, tc := range []struct {
		matched bool
		err     error
		status  string
		done    bool
	}{
		{true, nil, VerifyMatch, true},
		{false, nil, VerifyNoMatch, true},
		{false, device.NewError(device.CodeDataNotFound), VerifyNoMatch, true},
		{false, device.NewRetry(device.RetryGeneral), VerifyRetryScan, false},
		{false, device.NewRetry(device.RetryTooShort), VerifySwipeTooShort, false},
		{false, device.NewRetry(device.RetryCenterFinger), VerifyNotCentered, false},
		{false, device.NewRetry(device.RetryRemoveFinger), VerifyRemoveAndRetry, false},
		{false, device.NewError(device.CodeRemoved), VerifyDisconnected, true},
		{false, device.NewError(device.CodeProto), VerifyUnknownError, true},
		{false, device.ErrTimedOut, VerifyUnknownError, true},
	} {
		status, done := verifyResult(tc.matched, tc.err)
		assert.Equal(t, tc.status, status, "%v", tc.err)
		assert.Equal(t, tc.done, done, "%v", tc.err)
	}
}

func TestEnrollProgress(t *testing.T) {
	status, ok := enrollProgress(nil)
	assert.True(t, ok)
	assert.Equal(t, EnrollStagePassed, status)

	status, ok = enrollProgress(device.NewRetry(device.RetryCenterFinger))
	assert.True(t, ok)
	assert.Equal(t, EnrollNotCentered, status)

	_, ok = enrollProgress(device.ErrProto)
	assert.False(t, ok)
}

func TestEnrollResult(t *testing.T) {
	assert.Equal(t, EnrollCompleted, enrollResult(nil))
	assert.Equal(t, EnrollDuplicate, enrollResult(device.NewError(device.CodeDataDuplicate)))
	assert.Equal(t, EnrollDataFull, enrollResult(device.NewError(device.CodeDataFull)))
	assert.Equal(t, EnrollDisconnected, enrollResult(device.NewError(device.CodeRemoved)))
	assert.Equal(t, EnrollFailed, enrollResult(device.ErrGeneral))
	assert.Equal(t, EnrollUnknownError, enrollResult(errors.New("boom")))
}

func TestDBusError(t *testing.T) {
	err := dbusError(ErrNoEnrolledPrints, errors.New("No fingerprints enrolled"))
	assert.Equal(t, ErrNoEnrolledPrints, err.Name)
	assert.Equal(t, "No fingerprints enrolled", err.Error())
}
