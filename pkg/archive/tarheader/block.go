package tarheader

import (
	"bytes"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/moby/tarstream/pkg/archive/sparse"
)

// Block is one raw 512-byte tar block.
type Block [BlockSize]byte

var zeroBlock Block

// IsZero reports whether every byte of the block is zero.
func (b *Block) IsZero() bool {
	return *b == zeroBlock
}

// Checksum computes the header checksum the way POSIX defines it, with the
// checksum field itself counted as spaces. The signed variant matches
// archives written by historic Sun tar.
func (b *Block) Checksum() (unsigned, signed int64) {
	for i, c := range b {
		if offChksum <= i && i < offChksum+8 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}

// SetChecksum computes and stores the checksum: six octal digits, a NUL
// and a space.
func (b *Block) SetChecksum() {
	sum, _ := b.Checksum()
	formatOctal(b[offChksum:offChksum+7], sum)
	b[offChksum+7] = ' '
}

func (b *Block) verifyChecksum() error {
	stored, err := parseOctal(b[offChksum : offChksum+8])
	if err != nil {
		return err
	}
	unsigned, signed := b.Checksum()
	if stored != unsigned && stored != signed {
		return errors.Errorf("stored %d, computed %d", stored, unsigned)
	}
	return nil
}

// Format reports the dialect indicated by the magic and version fields.
func (b *Block) Format() (Format, error) {
	magic := string(b[offMagic:offVersion])
	version := string(b[offVersion:offUname])
	switch {
	case magic == magicUSTAR && version == versionUSTAR:
		return FormatUSTAR, nil
	case magic == magicGNU && version == versionGNU:
		return FormatGNU, nil
	case strings.HasPrefix(magic, "ustar"):
		return FormatUnknown, errors.Errorf("magic %q version %q", magic, version)
	default:
		return FormatV7, nil
	}
}

// Decode parses the block as a header. An all-zero block yields a
// HeaderError of kind ErrZeroBlock. GNU sparse ('S') headers are returned
// with Size holding the stored size; use GNUSparse for the rest.
func (b *Block) Decode() (*Header, error) {
	if b.IsZero() {
		return nil, newError(ErrZeroBlock, "", -1, nil)
	}
	if err := b.verifyChecksum(); err != nil {
		return nil, newError(ErrChecksumMismatch, "", -1, err)
	}
	format, err := b.Format()
	if err != nil {
		return nil, newError(ErrUnknownMagic, "", -1, err)
	}

	var p fieldParser
	h := &Header{
		Typeflag: b[offTypeflag],
		Name:     cstring(b[offName:offMode]),
		Linkname: cstring(b[offLinkname:offMagic]),
		Mode:     p.numeric("mode", b[offMode:offUID]),
		Uid:      int(p.numeric("uid", b[offUID:offGID])),
		Gid:      int(p.numeric("gid", b[offGID:offSize])),
		Size:     p.numeric("size", b[offSize:offMtime]),
		ModTime:  time.Unix(p.numeric("mtime", b[offMtime:offChksum]), 0),
		Format:   format,
	}
	if p.err == nil {
		switch {
		case h.Size < 0:
			p.err = newError(ErrInvalidNumericField, "size", -1, errors.New("negative size"))
		case h.Size > MaxSize:
			p.err = newError(ErrInvalidNumericField, "size", -1, errors.Errorf("size %d out of range", h.Size))
		}
	}

	if format != FormatV7 {
		h.Uname = cstring(b[offUname:offGname])
		h.Gname = cstring(b[offGname:offDevmajor])
		h.Devmajor = p.numeric("devmajor", b[offDevmajor:offDevminor])
		h.Devminor = p.numeric("devminor", b[offDevminor:offPrefix])
	}
	switch format {
	case FormatUSTAR:
		if prefix := cstring(b[offPrefix : offPrefix+155]); prefix != "" {
			h.Name = prefix + "/" + h.Name
		}
	case FormatGNU:
		if !allZero(b[offAtime:offCtime]) {
			h.AccessTime = time.Unix(p.numeric("atime", b[offAtime:offCtime]), 0)
		}
		if !allZero(b[offCtime : offCtime+12]) {
			h.ChangeTime = time.Unix(p.numeric("ctime", b[offCtime:offCtime+12]), 0)
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	if h.Typeflag == TypeRegA {
		h.Typeflag = TypeReg
		if strings.HasSuffix(h.Name, "/") {
			h.Typeflag = TypeDir
		}
	}
	return h, nil
}

// GNUSparse decodes the sparse fields of an old GNU 'S' header: the logical
// size, the (up to four) extents stored in the header and whether extension
// blocks follow.
func (b *Block) GNUSparse() (realSize int64, entries []sparse.Extent, extended bool, err error) {
	realSize, err = parseNumeric(b[offRealSize : offRealSize+12])
	if err != nil {
		return 0, nil, false, newError(ErrInvalidNumericField, "realsize", -1, err)
	}
	if realSize < 0 || realSize > MaxSize {
		return 0, nil, false, newError(ErrInvalidNumericField, "realsize", -1, errors.Errorf("size %d out of range", realSize))
	}
	entries, err = parseSparseEntries(b[offSparse:offIsExtended], sparseHeaderSlots)
	if err != nil {
		return 0, nil, false, err
	}
	return realSize, entries, b[offIsExtended] != 0, nil
}

// GNUSparseExtension decodes an extension block following an old GNU sparse
// header: 21 more extents and the flag announcing another block.
func (b *Block) GNUSparseExtension() (entries []sparse.Extent, extended bool, err error) {
	entries, err = parseSparseEntries(b[:offExtIsExtended], sparseExtSlots)
	if err != nil {
		return nil, false, err
	}
	return entries, b[offExtIsExtended] != 0, nil
}

// parseSparseEntries reads up to n offset/length pairs. A slot whose offset
// field is empty ends the list.
func parseSparseEntries(b []byte, n int) ([]sparse.Extent, error) {
	var out []sparse.Extent
	for i := 0; i < n; i++ {
		slot := b[i*sparseEntrySize : (i+1)*sparseEntrySize]
		if slot[0] == 0 {
			break
		}
		off, err := parseNumeric(slot[:12])
		if err != nil {
			return nil, newError(ErrMalformedSparseMap, "offset", -1, err)
		}
		length, err := parseNumeric(slot[12:])
		if err != nil {
			return nil, newError(ErrMalformedSparseMap, "numbytes", -1, err)
		}
		out = append(out, sparse.Extent{Offset: off, Length: length})
	}
	return out, nil
}

type fieldParser struct {
	err error
}

func (p *fieldParser) numeric(field string, b []byte) int64 {
	if p.err != nil {
		return 0
	}
	x, err := parseNumeric(b)
	if err != nil {
		p.err = newError(ErrInvalidNumericField, field, -1, err)
	}
	return x
}

// cstring returns the bytes of b up to the first NUL.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
