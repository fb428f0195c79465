// Package tarheader decodes and encodes single 512-byte tar header blocks
// in the v7, ustar and GNU dialects, and the pax extended header records
// that accompany them.
package tarheader

import "math"

// BlockSize is the size of a tar block. Headers occupy one block and entry
// data is padded to a multiple of it.
const BlockSize = 512

// MaxSize is the largest entry size accepted from a header or pax record.
// An entry of this size still ends, padding included, at an offset an
// int64 can hold.
const MaxSize = math.MaxInt64 &^ (BlockSize - 1)

// Type flags.
const (
	TypeReg           = '0'
	TypeRegA          = '\x00' // pre-POSIX regular file
	TypeLink          = '1'
	TypeSymlink       = '2'
	TypeChar          = '3'
	TypeBlock         = '4'
	TypeDir           = '5'
	TypeFifo          = '6'
	TypeCont          = '7'
	TypeXHeader       = 'x'
	TypeXGlobalHeader = 'g'
	TypeGNULongName   = 'L'
	TypeGNULongLink   = 'K'
	TypeGNUSparse     = 'S'
)

// Format is the dialect a header was read in or is written as.
type Format int

const (
	FormatUnknown Format = iota
	FormatV7
	FormatUSTAR
	FormatPAX
	FormatGNU
)

func (f Format) String() string {
	switch f {
	case FormatV7:
		return "v7"
	case FormatUSTAR:
		return "ustar"
	case FormatPAX:
		return "pax"
	case FormatGNU:
		return "gnu"
	default:
		return "unknown"
	}
}

// SparseFormat records which GNU encoding described a sparse entry's map.
type SparseFormat int

const (
	SparseNone SparseFormat = iota
	SparseGNUOld
	SparseGNU00
	SparseGNU01
	SparseGNU10
)

func (f SparseFormat) String() string {
	switch f {
	case SparseGNUOld:
		return "gnu-old"
	case SparseGNU00:
		return "gnu-0.0"
	case SparseGNU01:
		return "gnu-0.1"
	case SparseGNU10:
		return "gnu-1.0"
	default:
		return "none"
	}
}

// EntryType is the kind of object a header describes.
type EntryType int

const (
	RegularFile EntryType = iota
	Directory
	SymbolicLink
	HardLink
	Fifo
	CharDevice
	BlockDevice
	Contiguous
	PaxExtendedHeader
	PaxGlobalHeader
	GnuLongName
	GnuLongLink
	GnuSparse
	Other
)

var entryTypeNames = [...]string{
	RegularFile:       "file",
	Directory:         "dir",
	SymbolicLink:      "symlink",
	HardLink:          "link",
	Fifo:              "fifo",
	CharDevice:        "char",
	BlockDevice:       "block",
	Contiguous:        "contiguous",
	PaxExtendedHeader: "pax",
	PaxGlobalHeader:   "pax-global",
	GnuLongName:       "gnu-longname",
	GnuLongLink:       "gnu-longlink",
	GnuSparse:         "gnu-sparse",
	Other:             "other",
}

func (t EntryType) String() string {
	if t < 0 || int(t) >= len(entryTypeNames) {
		return "other"
	}
	return entryTypeNames[t]
}

// EntryTypeOf maps a type flag to its EntryType.
func EntryTypeOf(flag byte) EntryType {
	switch flag {
	case TypeReg, TypeRegA:
		return RegularFile
	case TypeDir:
		return Directory
	case TypeSymlink:
		return SymbolicLink
	case TypeLink:
		return HardLink
	case TypeFifo:
		return Fifo
	case TypeChar:
		return CharDevice
	case TypeBlock:
		return BlockDevice
	case TypeCont:
		return Contiguous
	case TypeXHeader:
		return PaxExtendedHeader
	case TypeXGlobalHeader:
		return PaxGlobalHeader
	case TypeGNULongName:
		return GnuLongName
	case TypeGNULongLink:
		return GnuLongLink
	case TypeGNUSparse:
		return GnuSparse
	default:
		return Other
	}
}

// HeaderOnly reports whether entries of this type carry no data, whatever
// their size field says.
func (t EntryType) HeaderOnly() bool {
	switch t {
	case Directory, SymbolicLink, HardLink, Fifo, CharDevice, BlockDevice:
		return true
	}
	return false
}

// Magic and version values.
const (
	magicGNU, versionGNU     = "ustar ", " \x00"
	magicUSTAR, versionUSTAR = "ustar\x00", "00"
)

// Field offsets within a header block.
const (
	offName     = 0
	offMode     = 100
	offUID      = 108
	offGID      = 116
	offSize     = 124
	offMtime    = 136
	offChksum   = 148
	offTypeflag = 156
	offLinkname = 157
	offMagic    = 257
	offVersion  = 263
	offUname    = 265
	offGname    = 297
	offDevmajor = 329
	offDevminor = 337
	offPrefix   = 345

	// GNU reuses the prefix area.
	offAtime      = 345
	offCtime      = 357
	offSparse     = 386
	offIsExtended = 482
	offRealSize   = 483

	sparseEntrySize   = 24 // offset and length, 12 bytes each
	sparseHeaderSlots = 4
	sparseExtSlots    = 21
	offExtIsExtended  = sparseExtSlots * sparseEntrySize
)
