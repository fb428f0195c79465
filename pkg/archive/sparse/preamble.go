package sparse

import (
	"strconv"

	"github.com/pkg/errors"
)

const (
	blockSize = 512

	// maxDigits bounds a single number in the 1.0 preamble. An int64 never
	// needs more than 19 decimal digits.
	maxDigits = 20
)

// FormatPreamble renders the GNU sparse 1.0 map that precedes the data of a
// sparse entry: the extent count, then each offset and length, one decimal
// number per line, zero padded to a 512 byte boundary.
func FormatPreamble(m Map) []byte {
	b := strconv.AppendInt(nil, int64(len(m)), 10)
	b = append(b, '\n')
	for _, e := range m {
		b = strconv.AppendInt(b, e.Offset, 10)
		b = append(b, '\n')
		b = strconv.AppendInt(b, e.Length, 10)
		b = append(b, '\n')
	}
	if rem := len(b) % blockSize; rem != 0 {
		b = append(b, make([]byte, blockSize-rem)...)
	}
	return b
}

// PreambleDecoder incrementally parses a GNU sparse 1.0 preamble. Bytes are
// fed with Write as they arrive; the decoder keeps no more state than the
// digits of the number being read and the extents decoded so far.
type PreambleDecoder struct {
	limit int

	digits   [maxDigits]byte
	ndigits  int
	count    int64 // extents announced, -1 until read
	numbers  int64 // numbers read after the count
	offset   int64
	consumed int64
	parsed   bool
	done     bool
	extents  *Builder
}

// NewPreambleDecoder returns a decoder accepting at most limit extents.
func NewPreambleDecoder(limit int) *PreambleDecoder {
	return &PreambleDecoder{
		limit:   limit,
		count:   -1,
		extents: NewBuilder(limit),
	}
}

// Write consumes bytes from p. It returns the number of bytes that belong
// to the preamble and whether the preamble, padding included, is complete.
// Bytes past the preamble are left unconsumed.
func (d *PreambleDecoder) Write(p []byte) (int, bool, error) {
	var n int
	for n < len(p) && !d.done {
		if d.parsed {
			// padding up to the block boundary
			pad := int(blockSize - d.consumed%blockSize)
			if pad == blockSize {
				d.done = true
				break
			}
			if pad > len(p)-n {
				pad = len(p) - n
			}
			n += pad
			d.consumed += int64(pad)
			continue
		}

		c := p[n]
		n++
		d.consumed++
		if c != '\n' {
			if c < '0' || c > '9' {
				return n, false, errors.Wrapf(ErrInvalidMap, "unexpected byte %#x in preamble", c)
			}
			if d.ndigits == maxDigits {
				return n, false, errors.Wrap(ErrInvalidMap, "preamble number too long")
			}
			d.digits[d.ndigits] = c
			d.ndigits++
			continue
		}
		if err := d.number(); err != nil {
			return n, false, err
		}
	}
	if d.parsed && d.consumed%blockSize == 0 {
		d.done = true
	}
	return n, d.done, nil
}

func (d *PreambleDecoder) number() error {
	if d.ndigits == 0 {
		return errors.Wrap(ErrInvalidMap, "empty number in preamble")
	}
	v, err := strconv.ParseInt(string(d.digits[:d.ndigits]), 10, 64)
	d.ndigits = 0
	if err != nil {
		return errors.Wrap(ErrInvalidMap, err.Error())
	}

	switch {
	case d.count < 0:
		if d.limit > 0 && v > int64(d.limit) {
			return errors.Wrapf(ErrTooManyExtents, "preamble announces %d extents, limit is %d", v, d.limit)
		}
		d.count = v
	case d.numbers%2 == 0:
		d.offset = v
		d.numbers++
	default:
		if err := d.extents.Add(d.offset, v); err != nil {
			return err
		}
		d.numbers++
	}
	if d.numbers == 2*d.count {
		d.parsed = true
	}
	return nil
}

// Consumed returns the number of preamble bytes seen so far.
func (d *PreambleDecoder) Consumed() int64 {
	return d.consumed
}

// Map returns the decoded extents. It is only meaningful once Write has
// reported completion.
func (d *PreambleDecoder) Map() Map {
	return d.extents.Map()
}
