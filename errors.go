package pdfmark

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the pdfmark packages matches exactly one
// of these with errors.Is.
var (
	ErrInvalidSpec     = errors.New("invalid watermark spec")
	ErrFontLoad        = errors.New("font load failed")
	ErrCorruptDocument = errors.New("corrupt document")
	ErrIO              = errors.New("i/o failure")
)

// Error represents a failure of a specific watermarking operation.
// It carries the operation name, the path involved (if any), the error kind
// and the underlying cause.
type Error struct {
	Op   string // operation name, e.g. "build", "compose", "write"
	Path string // input or destination path, empty for in-memory operations
	Kind error  // one of the Err* kinds above
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := "pdfmark." + e.Op + ": "
	if e.Path != "" {
		msg += e.Path + ": "
	}
	if e.Kind != nil {
		msg += e.Kind.Error()
	}
	if e.Err != nil {
		if e.Kind != nil {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause, so that errors.Is works for
// ErrIO as well as for fs.ErrNotExist on the same error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError creates an Error of the given kind.
func NewError(kind error, op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// Errorf creates an Error of the given kind with a formatted cause.
func Errorf(kind error, op, path, format string, args ...any) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the error kind of err, or nil if err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrInvalidSpec, ErrFontLoad, ErrCorruptDocument, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// WithPath returns err with Path filled in when err is an *Error without one.
// Other errors are returned unchanged.
func WithPath(err error, path string) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Path == "" {
		cp := *pe
		cp.Path = path
		return &cp
	}
	return err
}
