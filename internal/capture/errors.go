package capture

import (
	"errors"
	"fmt"
)

// ErrMalformedCapture marks captures that cannot be normalized.
var ErrMalformedCapture = errors.New("malformed capture")

// MalformedCaptureError names the field that failed validation.
type MalformedCaptureError struct {
	Path   string
	Field  string
	Reason string
	Err    error
}

func (e *MalformedCaptureError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", ErrMalformedCapture, e.Field, e.Reason)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *MalformedCaptureError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedCapture}
	}
	return []error{ErrMalformedCapture, e.Err}
}

func malformed(field, reason string, err error) *MalformedCaptureError {
	return &MalformedCaptureError{Field: field, Reason: reason, Err: err}
}
