// Package sparse describes the layout of sparse files stored in tar
// archives: which ranges of the logical file carry literal data and which
// are holes that read back as zeros. It converts between that layout and the
// GNU wire encodings, and expands a condensed data stream back to the
// logical file.
package sparse

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidMap is returned when a sparse map is not well formed, either
	// because its textual encoding cannot be parsed or because its extents
	// overlap, go backwards or run past the end of the file.
	ErrInvalidMap = errors.New("invalid sparse map")

	// ErrTooManyExtents is returned when a sparse map holds more extents than
	// the configured maximum.
	ErrTooManyExtents = errors.New("too many sparse extents")
)

// Extent is a range of literal data within a sparse file.
type Extent struct {
	Offset int64
	Length int64
}

// End returns the logical offset just past the extent.
func (e Extent) End() int64 {
	return e.Offset + e.Length
}

func (e Extent) String() string {
	return fmt.Sprintf("%d+%d", e.Offset, e.Length)
}

// Map is an ordered list of data extents. Everything not covered by an
// extent is a hole.
type Map []Extent

// Validate checks that the extents are ordered, do not overlap and lie within
// a file of the given logical size.
func (m Map) Validate(size int64) error {
	if size < 0 {
		return errors.Wrapf(ErrInvalidMap, "negative logical size %d", size)
	}
	var next int64
	for i, e := range m {
		switch {
		case e.Offset < 0 || e.Length < 0:
			return errors.Wrapf(ErrInvalidMap, "extent %d (%s) is negative", i, e)
		case e.Offset < next:
			return errors.Wrapf(ErrInvalidMap, "extent %d (%s) overlaps or precedes the previous one", i, e)
		case e.Length > size-e.Offset:
			return errors.Wrapf(ErrInvalidMap, "extent %d (%s) runs past logical size %d", i, e, size)
		}
		next = e.End()
	}
	return nil
}

// PhysicalSize returns the number of literal bytes the map describes, which
// is the number of bytes stored in the archive for the entry.
func (m Map) PhysicalSize() int64 {
	var n int64
	for _, e := range m {
		n += e.Length
	}
	return n
}

// Normalize returns the map without zero-length extents. GNU tar terminates
// its maps with an empty extent at the end of the file; such markers carry
// no data.
func (m Map) Normalize() Map {
	out := make(Map, 0, len(m))
	for _, e := range m {
		if e.Length != 0 {
			out = append(out, e)
		}
	}
	return out
}

// Segment is one contiguous piece of the logical file, either literal data
// or a hole.
type Segment struct {
	Hole   bool
	Offset int64
	Length int64
}

// Segments walks the logical file of the given size and returns its data and
// hole segments in order. The map must be valid for size.
func (m Map) Segments(size int64) []Segment {
	var (
		segs []Segment
		pos  int64
	)
	for _, e := range m {
		if e.Length == 0 {
			continue
		}
		if e.Offset > pos {
			segs = append(segs, Segment{Hole: true, Offset: pos, Length: e.Offset - pos})
		}
		segs = append(segs, Segment{Offset: e.Offset, Length: e.Length})
		pos = e.End()
	}
	if pos < size {
		segs = append(segs, Segment{Hole: true, Offset: pos, Length: size - pos})
	}
	return segs
}

// Builder accumulates extents while enforcing an upper bound on their
// number. The bound is checked before the map grows.
type Builder struct {
	limit int
	m     Map
}

// NewBuilder returns a Builder that accepts at most limit extents. A limit
// of zero or less means no bound.
func NewBuilder(limit int) *Builder {
	return &Builder{limit: limit}
}

// Add appends an extent.
func (b *Builder) Add(offset, length int64) error {
	if b.limit > 0 && len(b.m) >= b.limit {
		return errors.Wrapf(ErrTooManyExtents, "limit is %d", b.limit)
	}
	b.m = append(b.m, Extent{Offset: offset, Length: length})
	return nil
}

// Len returns the number of extents added so far.
func (b *Builder) Len() int {
	return len(b.m)
}

// Map returns the accumulated extents in normalized form.
func (b *Builder) Map() Map {
	return b.m.Normalize()
}

// Scan derives a sparse map from a logical file held in memory: every run of
// non-zero bytes becomes an extent. Expanding the extracted literal bytes
// with the returned map reproduces logical exactly.
func Scan(logical []byte) Map {
	var (
		m     Map
		start = -1
	)
	for i, c := range logical {
		switch {
		case c != 0 && start < 0:
			start = i
		case c == 0 && start >= 0:
			m = append(m, Extent{Offset: int64(start), Length: int64(i - start)})
			start = -1
		}
	}
	if start >= 0 {
		m = append(m, Extent{Offset: int64(start), Length: int64(len(logical) - start)})
	}
	return m
}

// Condense returns the literal bytes of logical selected by m, in order.
func Condense(logical []byte, m Map) []byte {
	out := make([]byte, 0, m.PhysicalSize())
	for _, e := range m {
		out = append(out, logical[e.Offset:e.End()]...)
	}
	return out
}
