// Package roierr defines the error kinds surfaced by a separation run.
//
// Every failure that reaches the command line is one of three kinds: the
// input container does not hold a usable signal array, the separator failed
// for a particular ROI, or a file could not be read or written. Each kind has
// a concrete type carrying context and a sentinel usable with errors.Is.
package roierr

import (
	"errors"
	"fmt"
)

var (
	ErrInputFormat = errors.New("input format error")
	ErrSeparation  = errors.New("separation error")
	ErrIO          = errors.New("io error")
)

// Kind names an error category for reporting.
type Kind string

const (
	KindInputFormat Kind = "InputFormatError"
	KindSeparation  Kind = "SeparationError"
	KindIO          Kind = "IOError"
	KindUnknown     Kind = "Error"
)

// InputFormatError reports a missing field or an array the pipeline cannot
// interpret.
type InputFormatError struct {
	Field string
	Msg   string
}

func (e *InputFormatError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInputFormat, e.Msg)
	}
	return fmt.Sprintf("%s: field %q: %s", ErrInputFormat, e.Field, e.Msg)
}

func (e *InputFormatError) Unwrap() error { return ErrInputFormat }

// InputFormatf builds an InputFormatError for field.
func InputFormatf(field, format string, args ...any) error {
	return &InputFormatError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// SeparationError reports a separator failure for one ROI.
type SeparationError struct {
	ROI int
	Err error
}

func (e *SeparationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: roi %d: %v", ErrSeparation, e.ROI, e.Err)
}

// Is matches the ErrSeparation sentinel; Unwrap exposes the cause.
func (e *SeparationError) Is(target error) bool { return target == ErrSeparation }

func (e *SeparationError) Unwrap() error { return e.Err }

// IOError reports a failed file operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrIO, e.Op, e.Path, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *IOError) Unwrap() error { return e.Err }

// KindOf classifies err. Wrapped errors are unwrapped; the first matching
// kind wins in the order input format, separation, IO.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInputFormat):
		return KindInputFormat
	case errors.Is(err, ErrSeparation):
		return KindSeparation
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindUnknown
	}
}

// FailedROI returns the ROI index carried by a SeparationError in err's chain.
func FailedROI(err error) (int, bool) {
	var se *SeparationError
	if errors.As(err, &se) {
		return se.ROI, true
	}
	return 0, false
}
