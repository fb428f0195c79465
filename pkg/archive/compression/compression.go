// Package compression detects, removes and applies the compression envelopes
// that commonly wrap tar archives.
package compression

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"github.com/moby/tarstream/pkg/pools"
)

// Compression is the state represents if compressed or not.
type Compression int

const (
	None    Compression = 0 // None represents the uncompressed.
	Bzip2   Compression = 1 // Bzip2 is bzip2 compression algorithm.
	Gzip    Compression = 2 // Gzip is gzip compression algorithm.
	Xz      Compression = 3 // Xz is xz compression algorithm.
	Zstd    Compression = 4 // Zstd is zstd compression algorithm.
	Zlib    Compression = 5 // Zlib is a deflate stream in a zlib envelope.
	Deflate Compression = 6 // Deflate is a raw deflate stream.
)

var names = map[Compression]string{
	None:    "none",
	Bzip2:   "bzip2",
	Gzip:    "gzip",
	Xz:      "xz",
	Zstd:    "zstd",
	Zlib:    "zlib",
	Deflate: "deflate",
}

func (compression Compression) String() string {
	if s, ok := names[compression]; ok {
		return s
	}
	return "compression(" + strconv.Itoa(int(compression)) + ")"
}

// Parse returns the Compression named s, as printed by String.
func Parse(s string) (Compression, error) {
	for c, name := range names {
		if name == s {
			return c, nil
		}
	}
	return None, errors.Errorf("unknown compression %q", s)
}

// Extension returns the extension of a file that uses the specified compression algorithm.
func (compression *Compression) Extension() string {
	switch *compression {
	case None:
		return "tar"
	case Bzip2:
		return "tar.bz2"
	case Gzip:
		return "tar.gz"
	case Xz:
		return "tar.xz"
	case Zstd:
		return "tar.zst"
	case Zlib:
		return "tar.zz"
	case Deflate:
		return "tar.deflate"
	}
	return ""
}

type matcher = func([]byte) bool

func magicNumberMatcher(m []byte) matcher {
	return func(source []byte) bool {
		return bytes.HasPrefix(source, m)
	}
}

const (
	zstdMagicSkippableStart = 0x184D2A50
	zstdMagicSkippableMask  = 0xFFFFFFF0
)

var (
	bzip2Magic = []byte{0x42, 0x5A, 0x68}
	gzipMagic  = []byte{0x1F, 0x8B}
	xzMagic    = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// zstdMatcher detects zstd compression algorithm.
// Zstandard compressed data is made of one or more frames.
// There are two frame formats defined by Zstandard: Zstandard frames and Skippable frames.
// See https://datatracker.ietf.org/doc/html/rfc8878#section-3 for more details.
func zstdMatcher() matcher {
	return func(source []byte) bool {
		if bytes.HasPrefix(source, zstdMagic) {
			// Zstandard frame
			return true
		}
		// skippable frame
		if len(source) < 8 {
			return false
		}
		// magic number from 0x184D2A50 to 0x184D2A5F.
		if binary.LittleEndian.Uint32(source[:4])&zstdMagicSkippableMask == zstdMagicSkippableStart {
			offset := 8 + uint64(binary.LittleEndian.Uint32(source[4:8]))
			return offset < uint64(len(source)) && bytes.HasPrefix(source[offset:], zstdMagic)
		}
		return false
	}
}

// zlibMatcher accepts a zlib header with the deflate method, a window of at
// most 32KiB, no preset dictionary and a valid check value (RFC 1950).
func zlibMatcher(source []byte) bool {
	if len(source) < 2 {
		return false
	}
	cmf, flg := source[0], source[1]
	return cmf&0x0f == 8 && cmf>>4 <= 7 && flg&0x20 == 0 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// Detect detects the compression algorithm of the source from its magic
// bytes. Raw deflate has no magic and is never reported here.
func Detect(source []byte) Compression {
	compressionMap := []struct {
		c Compression
		m matcher
	}{
		{Gzip, magicNumberMatcher(gzipMagic)},
		{Bzip2, magicNumberMatcher(bzip2Magic)},
		{Xz, magicNumberMatcher(xzMagic)},
		{Zstd, zstdMatcher()},
		{Zlib, zlibMatcher},
	}
	for _, e := range compressionMap {
		if e.m(source) {
			return e.c
		}
	}
	return None
}

// DecompressStream decompresses the archive and returns a ReaderCloser with the decompressed archive.
// The envelope is detected up front; an empty archive reads as an empty
// uncompressed stream.
func DecompressStream(archive io.Reader) (io.ReadCloser, error) {
	p := pools.BufioReader32KPool
	src := &sourceReader{r: archive}
	buf := p.Get(src)

	z := &Reader{src: src, br: buf}
	if _, err := z.Envelope(); err != nil {
		p.Put(buf)
		return nil, err
	}
	return p.NewReadCloserWrapper(buf, z), nil
}

// CompressStream compresses the dest with specified compression algorithm.
// The trailer of the envelope is written when the returned writer is closed.
func CompressStream(dest io.Writer, comp Compression) (io.WriteCloser, error) {
	p := pools.BufioWriter32KPool
	buf := p.Get(dest)

	var (
		w   io.WriteCloser
		err error
	)
	switch comp {
	case None:
		return p.NewWriteCloserWrapper(buf, buf), nil
	case Gzip:
		w = gzip.NewWriter(buf)
	case Zlib:
		w = zlib.NewWriter(buf)
	case Deflate:
		w, err = flate.NewWriter(buf, flate.DefaultCompression)
	case Xz:
		w, err = xz.NewWriter(buf)
	case Zstd:
		w, err = zstd.NewWriter(buf)
	default:
		// compress/bzip2 does not support writing
		p.Put(buf)
		return nil, &Error{Kind: ErrUnsupported, Envelope: comp}
	}
	if err != nil {
		p.Put(buf)
		return nil, &Error{Kind: ErrIO, Envelope: comp, Err: err}
	}
	return p.NewWriteCloserWrapper(buf, w), nil
}
