package tarheader

import (
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// Kinds of HeaderError. Use errors.Is to test for them.
var (
	ErrChecksumMismatch    = errors.New("header checksum mismatch")
	ErrInvalidNumericField = errors.New("invalid numeric field")
	ErrUnknownMagic        = errors.New("unknown header magic")
	ErrMalformedSparseMap  = errors.New("malformed sparse map")
	ErrMalformedPAX        = errors.New("malformed pax records")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrTruncated           = errors.New("truncated archive")

	// ErrZeroBlock marks an all-zero block. Two in a row end an archive.
	ErrZeroBlock = errors.New("zero block")
)

// Errors returned by Encode when a value cannot be represented in a ustar
// header.
var (
	ErrNameTooLong  = errors.New("name too long for ustar header")
	ErrFieldTooLong = errors.New("value does not fit ustar header field")
)

// HeaderError reports a header block or extended header payload that could
// not be decoded.
type HeaderError struct {
	Kind   error  // one of the Err* kinds above
	Field  string // header field or pax key involved, if any
	Offset int64  // archive offset of the block, -1 when unknown
	Err    error  // underlying cause, may be nil
}

func (e *HeaderError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	}
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at offset %d", msg, e.Offset)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind, its errdefs class and the cause.
func (e *HeaderError) Unwrap() []error {
	return compact(e.Kind, Class(e.Kind), e.Err)
}

// Recoverable reports whether parsing can continue past the error. Only
// truncation is final.
func (e *HeaderError) Recoverable() bool {
	return e.Kind != ErrTruncated
}

// Class maps an error kind of this package to the errdefs class callers can
// match with the cerrdefs.Is* helpers.
func Class(kind error) error {
	switch kind {
	case ErrLimitExceeded:
		return cerrdefs.ErrResourceExhausted
	case ErrTruncated:
		return cerrdefs.ErrDataLoss
	case nil:
		return nil
	default:
		return cerrdefs.ErrInvalidArgument
	}
}

func newError(kind error, field string, offset int64, err error) *HeaderError {
	return &HeaderError{Kind: kind, Field: field, Offset: offset, Err: err}
}

func compact(errs ...error) []error {
	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
