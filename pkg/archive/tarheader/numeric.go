package tarheader

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

var errOverflow = errors.New("value overflows int64")

// parseNumeric reads a numeric header field. Fields are octal, padded with
// spaces or NULs, unless the high bit of the first byte is set, in which
// case the rest of the field is a big-endian two's complement number (the
// GNU base-256 extension).
func parseNumeric(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		var inv byte
		if b[0]&0x40 != 0 {
			inv = 0xff
		}
		var x uint64
		for i, c := range b {
			c ^= inv
			if i == 0 {
				c &= 0x7f
			}
			if x>>56 > 0 {
				return 0, errOverflow
			}
			x = x<<8 | uint64(c)
		}
		if x>>63 > 0 {
			return 0, errOverflow
		}
		if inv == 0xff {
			return ^int64(x), nil
		}
		return int64(x), nil
	}
	return parseOctal(b)
}

func parseOctal(b []byte) (int64, error) {
	b = bytes.Trim(b, " \x00")
	if len(b) == 0 {
		return 0, nil
	}
	x, err := strconv.ParseUint(string(b), 8, 63)
	if err != nil {
		return 0, errors.Errorf("bad octal value %q", b)
	}
	return int64(x), nil
}

// fitsOctal reports whether x can be written as octal into a field of n
// bytes, leaving room for the terminating NUL.
func fitsOctal(x int64, n int) bool {
	digits := n - 1
	return x >= 0 && (digits >= 22 || x < 1<<(3*digits))
}

// formatOctal writes x as zero-padded octal followed by a NUL.
func formatOctal(b []byte, x int64) {
	s := strconv.FormatInt(x, 8)
	for len(s) < len(b)-1 {
		s = "0" + s
	}
	copy(b, s)
	b[len(b)-1] = 0
}

// fitsBase256 reports whether x can be written in base-256 into n bytes.
func fitsBase256(x int64, n int) bool {
	bits := uint(n-1) * 8
	return n >= 9 || (x >= -1<<bits && x < 1<<bits)
}

// formatBase256 writes x in the GNU base-256 encoding.
func formatBase256(b []byte, x int64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(x)
		x >>= 8
	}
	b[0] |= 0x80
}

// formatNumeric writes x as octal when it fits and in base-256 otherwise.
// It reports false when neither encoding can hold the value.
func formatNumeric(b []byte, x int64) bool {
	if fitsOctal(x, len(b)) {
		formatOctal(b, x)
		return true
	}
	if fitsBase256(x, len(b)) {
		formatBase256(b, x)
		return true
	}
	return false
}
