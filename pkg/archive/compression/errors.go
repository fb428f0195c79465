package compression

import (
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// Kinds of Error.
var (
	ErrUnrecognizedEnvelope = errors.New("unrecognized compression envelope")
	ErrCorruptHeader        = errors.New("corrupt member header")
	ErrCorruptData          = errors.New("corrupt compressed data")
	ErrCorruptTrailer       = errors.New("corrupt member trailer")
	ErrTruncated            = errors.New("truncated member")
	ErrIO                   = errors.New("i/o failure")
	ErrUnsupported          = errors.New("compression not supported")
)

// Error reports a failure to decode or encode a compression envelope.
type Error struct {
	Kind     error
	Envelope Compression
	Member   int // 1-based index of the member, 0 when not known
	Err      error
}

func (e *Error) Error() string {
	msg := e.Envelope.String()
	if e.Member > 0 {
		msg = fmt.Sprintf("%s member %d", msg, e.Member)
	}
	msg = fmt.Sprintf("%s: %v", msg, e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind, its errdefs class and the cause.
func (e *Error) Unwrap() []error {
	out := []error{e.Kind, class(e.Kind)}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func class(kind error) error {
	switch kind {
	case ErrIO:
		return cerrdefs.ErrUnavailable
	case ErrUnsupported:
		return cerrdefs.ErrNotImplemented
	case ErrUnrecognizedEnvelope:
		return cerrdefs.ErrInvalidArgument
	default:
		return cerrdefs.ErrDataLoss
	}
}
