package tarheader

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	nameSize   = 100
	prefixSize = 155
)

// Encode serializes h into a single header block. Headers are written with
// ustar magic, or GNU magic when h.Format is FormatGNU, or none at all for
// FormatV7. Values that do not fit their field yield ErrNameTooLong or
// ErrFieldTooLong; callers that want pax extended headers for such values
// must write them first and shorten h themselves.
//
// GNU headers may carry base-256 numbers. Sparse maps and pax records are
// not encoded.
func Encode(h *Header) (*Block, error) {
	var b Block

	name, prefix := h.Name, ""
	if len(name) > nameSize {
		var ok bool
		if h.Format == FormatV7 || h.Format == FormatGNU {
			return nil, errors.Wrapf(ErrNameTooLong, "%d bytes", len(name))
		}
		if prefix, name, ok = splitUSTARPath(h.Name); !ok {
			return nil, errors.Wrapf(ErrNameTooLong, "%d bytes", len(h.Name))
		}
	}
	copy(b[offName:], name)
	copy(b[offPrefix:], prefix)

	if err := putString(b[offLinkname:offMagic], "linkname", h.Linkname); err != nil {
		return nil, err
	}

	gnu := h.Format == FormatGNU
	typeflag := h.Typeflag
	if typeflag == TypeRegA {
		typeflag = TypeReg
	}
	b[offTypeflag] = typeflag

	err := firstError(
		putNumeric(b[offMode:offUID], "mode", h.Mode, gnu),
		putNumeric(b[offUID:offGID], "uid", int64(h.Uid), gnu),
		putNumeric(b[offGID:offSize], "gid", int64(h.Gid), gnu),
		putNumeric(b[offSize:offMtime], "size", h.Size, gnu),
		putNumeric(b[offMtime:offChksum], "mtime", unixTime(h.ModTime), gnu),
	)
	if err != nil {
		return nil, err
	}

	if h.Format != FormatV7 {
		err := firstError(
			putString(b[offUname:offGname], "uname", h.Uname),
			putString(b[offGname:offDevmajor], "gname", h.Gname),
			putNumeric(b[offDevmajor:offDevminor], "devmajor", h.Devmajor, gnu),
			putNumeric(b[offDevminor:offPrefix], "devminor", h.Devminor, gnu),
		)
		if err != nil {
			return nil, err
		}
		if gnu {
			copy(b[offMagic:], magicGNU)
			copy(b[offVersion:], versionGNU)
		} else {
			copy(b[offMagic:], magicUSTAR)
			copy(b[offVersion:], versionUSTAR)
		}
	}
	if gnu {
		if !h.AccessTime.IsZero() {
			if err := putNumeric(b[offAtime:offCtime], "atime", h.AccessTime.Unix(), true); err != nil {
				return nil, err
			}
		}
		if !h.ChangeTime.IsZero() {
			if err := putNumeric(b[offCtime:offCtime+12], "ctime", h.ChangeTime.Unix(), true); err != nil {
				return nil, err
			}
		}
	}

	b.SetChecksum()
	return &b, nil
}

// splitUSTARPath splits a path according to USTAR prefix and suffix rules.
func splitUSTARPath(name string) (prefix, suffix string, ok bool) {
	length := len(name)
	if length > prefixSize+1 {
		length = prefixSize + 1
	} else if name[length-1] == '/' {
		length--
	}
	i := strings.LastIndex(name[:length], "/")
	nlen := len(name) - i - 1
	if i <= 0 || nlen > nameSize || nlen == 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// FitsUSTAR reports whether name can be stored in the name and prefix
// fields of a ustar header.
func FitsUSTAR(name string) bool {
	if len(name) <= nameSize {
		return true
	}
	_, _, ok := splitUSTARPath(name)
	return ok
}

func putString(b []byte, field, s string) error {
	if len(s) > len(b) {
		return errors.Wrapf(ErrFieldTooLong, "%s is %d bytes, field holds %d", field, len(s), len(b))
	}
	copy(b, s)
	return nil
}

func putNumeric(b []byte, field string, x int64, base256 bool) error {
	if fitsOctal(x, len(b)) {
		formatOctal(b, x)
		return nil
	}
	if base256 && formatNumeric(b, x) {
		return nil
	}
	return errors.Wrapf(ErrFieldTooLong, "%s value %d", field, x)
}

// unixTime maps the zero time to the epoch instead of year one.
func unixTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
