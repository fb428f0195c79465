package tarstream

import (
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// Kinds of WriteError, besides tarheader.ErrNameTooLong,
// tarheader.ErrFieldTooLong and tarheader.ErrMalformedSparseMap.
var (
	ErrSizeMismatch    = errors.New("entry size mismatch")
	ErrIO              = errors.New("write failed")
	ErrWriteAfterClose = errors.New("write after close")
)

// WriteError reports a failure to serialize an entry.
type WriteError struct {
	Kind error  // one of the Err* kinds
	Name string // entry name, if the failure concerns one
	Err  error  // underlying cause, may be nil
}

func (e *WriteError) Error() string {
	msg := e.Kind.Error()
	if e.Name != "" {
		msg = fmt.Sprintf("%s: %s", e.Name, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind, its errdefs class and the cause.
func (e *WriteError) Unwrap() []error {
	out := make([]error, 0, 3)
	for _, err := range []error{e.Kind, writeClass(e.Kind), e.Err} {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func writeClass(kind error) error {
	switch kind {
	case ErrSizeMismatch, ErrWriteAfterClose:
		return cerrdefs.ErrFailedPrecondition
	case ErrIO:
		return cerrdefs.ErrUnavailable
	case nil:
		return nil
	default:
		return cerrdefs.ErrInvalidArgument
	}
}
