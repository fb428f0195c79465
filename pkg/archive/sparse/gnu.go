package sparse

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseMap parses the GNU sparse 0.1 encoding carried in the
// GNU.sparse.map pax record: a comma separated list of alternating offsets
// and lengths. At most limit extents are accepted when limit is positive.
func ParseMap(s string, limit int) (Map, error) {
	if s == "" {
		return Map{}, nil
	}
	b := NewBuilder(limit)
	for len(s) > 0 {
		off, rest, err := nextNumber(s)
		if err != nil {
			return nil, errors.Wrap(err, "offset")
		}
		if rest == "" {
			return nil, errors.Wrapf(ErrInvalidMap, "offset %d has no length", off)
		}
		length, rest, err := nextNumber(rest)
		if err != nil {
			return nil, errors.Wrap(err, "length")
		}
		if err := b.Add(off, length); err != nil {
			return nil, err
		}
		s = rest
	}
	return b.Map(), nil
}

func nextNumber(s string) (int64, string, error) {
	field, rest, found := strings.Cut(s, ",")
	if found && rest == "" {
		return 0, "", errors.Wrap(ErrInvalidMap, "trailing comma")
	}
	n, err := strconv.ParseInt(field, 10, 64)
	if err != nil || n < 0 {
		return 0, "", errors.Wrapf(ErrInvalidMap, "bad number %q", field)
	}
	return n, rest, nil
}

// FormatMap renders m in the GNU sparse 0.1 encoding.
func FormatMap(m Map) string {
	var sb strings.Builder
	for i, e := range m {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(e.Offset, 10))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatInt(e.Length, 10))
	}
	return sb.String()
}
