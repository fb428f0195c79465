package tarheader

import (
	"time"

	"github.com/moby/tarstream/pkg/archive/sparse"
)

// Header is the normalized description of one archive entry, whichever
// dialect it was read from. Size is the logical size; for sparse entries the
// archive holds only SparseMap.PhysicalSize() bytes of it.
type Header struct {
	Typeflag byte

	Name     string
	Linkname string

	Size  int64
	Mode  int64
	Uid   int
	Gid   int
	Uname string
	Gname string

	ModTime    time.Time
	AccessTime time.Time // GNU and pax only
	ChangeTime time.Time // GNU and pax only

	Devmajor int64
	Devminor int64

	SparseMap    sparse.Map
	SparseFormat SparseFormat

	// PAXRecords holds the pax records that did not map onto a field above,
	// global records included.
	PAXRecords []Record

	Format Format
}

// EntryType returns the kind of object h describes.
func (h *Header) EntryType() EntryType {
	return EntryTypeOf(h.Typeflag)
}

// IsSparse reports whether h carries a sparse map.
func (h *Header) IsSparse() bool {
	return h.SparseMap != nil
}

// PhysicalSize returns the number of data bytes stored in the archive for
// the entry.
func (h *Header) PhysicalSize() int64 {
	if h.EntryType().HeaderOnly() {
		return 0
	}
	if h.SparseMap != nil {
		return h.SparseMap.PhysicalSize()
	}
	return h.Size
}
