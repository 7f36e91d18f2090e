package types

import (
	"errors"
	"fmt"
)

// Failure is a classified failure: an error carrying an explicit ResultCode.
// Probes return a *Failure to report a specific severity. Any other error is
// an unclassified fault and is reclassified as ResultError by the runner.
type Failure struct {
	Code    ResultCode
	Message string
}

// NewFailure creates a classified failure. A malformed code is clamped to ResultError.
func NewFailure(code ResultCode, format string, args ...any) *Failure {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if !code.Valid() {
		msg = fmt.Sprintf("%s (unknown result code %d)", msg, int(code))
		code = ResultError
	}
	return &Failure{Code: code, Message: msg}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (%d)", f.Message, int(f.Code))
}

// Is matches another *Failure with the same code, so errors.Is(err, &Failure{Code: ResultFatal})
// can be used to check for a severity.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Code == f.Code && (t.Message == "" || t.Message == f.Message)
}

// AsFailure extracts a classified failure from err, if there is one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if err != nil && errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsFatal reports whether err is, or wraps, a Fatal classified failure.
func IsFatal(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Code == ResultFatal
}

// CodeOf classifies an arbitrary error: nil is Pass, a *Failure keeps its
// (sanitized) code and anything else is Error.
func CodeOf(err error) ResultCode {
	if err == nil {
		return ResultPass
	}
	if f, ok := AsFailure(err); ok {
		return f.Code.Sanitize()
	}
	return ResultError
}
