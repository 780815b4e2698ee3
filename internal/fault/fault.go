// Package fault defines the error kinds shared by every transform.
// Kinds are recorded for operators and never shown to end users.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindDecode means the input is not a valid media container or image.
	KindDecode Kind = "decode"
	// KindExternalProcess means the encode process crashed, timed out or exited non-zero.
	KindExternalProcess Kind = "external_process"
	// KindEncodingTooSmall means the encoder reported success but the output is implausibly small.
	KindEncodingTooSmall Kind = "encoding_too_small"
	// KindIO means a temp file read, write or remove failed.
	KindIO Kind = "io"
	// KindConfiguration means a required setting is missing. Fatal at startup.
	KindConfiguration Kind = "configuration"
	// KindUnknown is used for errors that carry no kind.
	KindUnknown Kind = "unknown"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrDecode           = errors.New("decode error")
	ErrExternalProcess  = errors.New("external process error")
	ErrEncodingTooSmall = errors.New("encoding too small")
	ErrIO               = errors.New("io error")
	ErrConfiguration    = errors.New("configuration error")
)

var sentinels = map[Kind]error{
	KindDecode:           ErrDecode,
	KindExternalProcess:  ErrExternalProcess,
	KindEncodingTooSmall: ErrEncodingTooSmall,
	KindIO:               ErrIO,
	KindConfiguration:    ErrConfiguration,
}

// Error is a classified failure. It matches both its kind sentinel and
// the wrapped cause under errors.Is.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

// New creates an Error.
func New(kind Kind, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}

// DetailOf returns the operator-facing detail of err.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Detail != "" {
		return fe.Detail
	}
	return err.Error()
}
