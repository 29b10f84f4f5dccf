package device

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode numbers the device error domain. The values are part of the
// simulation wire protocol (ERROR <code>).
type ErrorCode int

const (
	CodeGeneral ErrorCode = iota
	CodeNotSupported
	CodeNotOpen
	CodeAlreadyOpen
	CodeBusy
	CodeProto
	CodeDataInvalid
	CodeDataNotFound
	CodeDataFull
	CodeDataDuplicate
	CodeRemoved
)

var errorMessages = map[ErrorCode]string{
	CodeGeneral:       "An unspecified error occurred!",
	CodeNotSupported:  "The operation is not supported on this device!",
	CodeNotOpen:       "The device needs to be opened first!",
	CodeAlreadyOpen:   "The device has already been opened!",
	CodeBusy:          "The device is still busy with another operation, please try again later.",
	CodeProto:         "The driver encountered a protocol error with the device.",
	CodeDataInvalid:   "Passed (print) data is not valid.",
	CodeDataNotFound:  "Print was not found on the devices storage.",
	CodeDataFull:      "On device storage space is full.",
	CodeDataDuplicate: "This finger has already enrolled, please try a different finger",
	CodeRemoved:       "This device has been removed from the system.",
}

// Error is a failure of a device operation.
type Error struct {
	Code ErrorCode
	Msg  string
}

// NewError returns the error for code with its standard message.
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("%s (code %d)", errorMessages[CodeGeneral], int(code))
	}
	return &Error{Code: code, Msg: msg}
}

// Errorf returns an error for code with a custom message.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches any *Error with the same code, so callers can compare against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrGeneral       = NewError(CodeGeneral)
	ErrNotSupported  = NewError(CodeNotSupported)
	ErrNotOpen       = NewError(CodeNotOpen)
	ErrAlreadyOpen   = NewError(CodeAlreadyOpen)
	ErrBusy          = NewError(CodeBusy)
	ErrProto         = NewError(CodeProto)
	ErrDataInvalid   = NewError(CodeDataInvalid)
	ErrDataNotFound  = NewError(CodeDataNotFound)
	ErrDataFull      = NewError(CodeDataFull)
	ErrDataDuplicate = NewError(CodeDataDuplicate)
	ErrRemoved       = NewError(CodeRemoved)
)

// RetryCode numbers the retry domain (RETRY <code> on the wire).
type RetryCode int

const (
	RetryGeneral RetryCode = iota
	RetryTooShort
	RetryCenterFinger
	RetryRemoveFinger
)

var retryMessages = map[RetryCode]string{
	RetryGeneral:      "Please try again.",
	RetryTooShort:     "The swipe was too short, please try again.",
	RetryCenterFinger: "The finger was not centered properly, please try again.",
	RetryRemoveFinger: "Please try again after removing the finger first.",
}

// RetryError is a non-fatal scan quality problem. During enroll it is
// reported through progress and the stage is attempted again; verify and
// identify end with it.
type RetryError struct {
	Code RetryCode
	Msg  string
}

// NewRetry returns the retry error for code with its standard message.
func NewRetry(code RetryCode) *RetryError {
	msg, ok := retryMessages[code]
	if !ok {
		msg = retryMessages[RetryGeneral]
	}
	return &RetryError{Code: code, Msg: msg}
}

func (e *RetryError) Error() string {
	return e.Msg
}

func (e *RetryError) Is(target error) bool {
	t, ok := target.(*RetryError)
	return ok && t.Code == e.Code
}

// IsRetry reports whether err belongs to the retry domain.
func IsRetry(err error) bool {
	var r *RetryError
	return errors.As(err, &r)
}

var (
	// ErrCancelled ends an action whose context was cancelled.
	ErrCancelled = fmt.Errorf("operation was cancelled: %w", context.Canceled)
	// ErrTimedOut ends a scanning action when no simulation command arrives
	// within the configured wait.
	ErrTimedOut = errors.New("no commands arrived in time to run")
)
