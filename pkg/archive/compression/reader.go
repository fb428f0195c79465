package compression

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"io"

	"github.com/containerd/log"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"github.com/moby/tarstream/pkg/archive/tarheader"
)

const (
	readerBufSize = 32 * 1024

	// peekSize is how much of a member is peeked at to recognize it.
	peekSize = 4 * 1024
	// inflateLimit bounds the speculative inflate of the peeked bytes.
	inflateLimit = 64 * 1024
)

// Reader decompresses a stream made of one or more members. The envelope
// of the first member is detected from its leading bytes; when a gzip, zlib
// or raw deflate member ends and more bytes follow, detection runs again so
// that concatenated gzip and zlib members read as one continuous stream.
// Trailing zero bytes after the last member are ignored.
//
// Uncompressed input, including anything that starts with a valid tar header
// block, is passed through. Bzip2, xz and zstd streams are handed to their
// decoders as a whole.
type Reader struct {
	src *sourceReader
	br  *bufio.Reader

	first  Compression // envelope of the first member
	env    Compression // envelope of the current member
	member int         // members started so far
	cur    io.Reader

	gz *gzip.Reader
	zr io.ReadCloser
	fr io.ReadCloser
	zd *zstd.Decoder

	err error // sticky
}

// NewReader returns a Reader decompressing r.
func NewReader(r io.Reader) *Reader {
	src := &sourceReader{r: r}
	return &Reader{src: src, br: bufio.NewReaderSize(src, readerBufSize)}
}

// Envelope returns the envelope of the first member, detecting it if no
// data has been read yet.
func (z *Reader) Envelope() (Compression, error) {
	if z.member == 0 && z.err == nil {
		if err := z.nextMember(); err != nil {
			z.err = err
			if err != io.EOF {
				return None, err
			}
		}
	}
	return z.first, nil
}

// Members returns the number of members started so far.
func (z *Reader) Members() int {
	return z.member
}

func (z *Reader) Read(p []byte) (int, error) {
	for {
		if z.err != nil {
			return 0, z.err
		}
		if z.cur == nil {
			if err := z.nextMember(); err != nil {
				z.err = err
				return 0, err
			}
		}
		n, err := z.cur.Read(p)
		switch {
		case err == io.EOF:
			z.cur = nil
			if !z.env.framed() {
				z.err = io.EOF
			}
		case err != nil:
			z.err = z.wrap(err)
			return n, z.err
		}
		if n > 0 || len(p) == 0 {
			return n, nil
		}
	}
}

// Close releases the decoders. It does not close the underlying reader.
func (z *Reader) Close() error {
	if z.zd != nil {
		z.zd.Close()
		z.zd = nil
	}
	if z.err == nil {
		z.err = errors.New("read from closed decompressor")
	}
	return nil
}

// framed reports whether the envelope ends with a known trailer after which
// another member may follow.
func (compression Compression) framed() bool {
	switch compression {
	case Gzip, Zlib, Deflate:
		return true
	default:
		return false
	}
}

func (z *Reader) nextMember() error {
	bs, err := z.br.Peek(peekSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return z.wrap(err)
	}
	if len(bs) == 0 {
		return io.EOF
	}

	var env Compression
	if z.member == 0 {
		env = detectFirst(bs)
		z.first = env
	} else {
		env = Detect(bs)
		if env != Gzip && env != Zlib {
			return z.drainZeros()
		}
	}
	z.member++
	z.env = env
	log.G(context.TODO()).WithFields(log.Fields{
		"envelope": env,
		"member":   z.member,
	}).Debug("decompressing member")
	return z.open(env)
}

func (z *Reader) open(env Compression) error {
	var err error
	switch env {
	case None:
		z.cur = z.br
	case Gzip:
		if z.gz == nil {
			z.gz, err = gzip.NewReader(z.br)
		} else {
			err = z.gz.Reset(z.br)
		}
		if err != nil {
			return z.wrap(err)
		}
		z.gz.Multistream(false)
		z.cur = z.gz
	case Zlib:
		if z.zr == nil {
			var zr io.ReadCloser
			if zr, err = zlib.NewReader(z.br); err == nil {
				z.zr = zr
			}
		} else {
			err = z.zr.(zlib.Resetter).Reset(z.br, nil)
		}
		if err != nil {
			return z.wrap(err)
		}
		z.cur = z.zr
	case Deflate:
		if z.fr == nil {
			z.fr = flate.NewReader(z.br)
		} else if err := z.fr.(flate.Resetter).Reset(z.br, nil); err != nil {
			return z.wrap(err)
		}
		z.cur = z.fr
	case Bzip2:
		z.cur = bzip2.NewReader(z.br)
	case Xz:
		xr, err := xz.NewReader(z.br)
		if err != nil {
			return z.wrap(err)
		}
		z.cur = xr
	case Zstd:
		zd, err := zstd.NewReader(z.br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return z.wrap(err)
		}
		z.zd = zd
		z.cur = zd
	}
	return nil
}

// drainZeros consumes the rest of the input, which must be zero padding.
func (z *Reader) drainZeros() error {
	var n int64
	for {
		b, err := z.br.ReadByte()
		if err == io.EOF {
			if n > 0 {
				log.G(context.TODO()).WithField("bytes", n).Debug("ignoring zero padding after last member")
			}
			return io.EOF
		}
		if err != nil {
			return z.wrap(err)
		}
		if b != 0 {
			return &Error{
				Kind:     ErrUnrecognizedEnvelope,
				Envelope: None,
				Member:   z.member + 1,
				Err:      errors.Errorf("unexpected data %d bytes after member %d", n, z.member),
			}
		}
		n++
	}
}

// wrap classifies an error raised while decoding the current member.
func (z *Reader) wrap(err error) error {
	kind := ErrCorruptData
	switch {
	case z.src.err != nil:
		kind, err = ErrIO, z.src.err
	case errors.Is(err, gzip.ErrChecksum), errors.Is(err, zlib.ErrChecksum):
		kind = ErrCorruptTrailer
	case errors.Is(err, gzip.ErrHeader), errors.Is(err, zlib.ErrHeader), errors.Is(err, zlib.ErrDictionary):
		kind = ErrCorruptHeader
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		kind = ErrTruncated
	}
	return &Error{Kind: kind, Envelope: z.env, Member: z.member, Err: err}
}

// detectFirst recognizes the envelope of the first member. Input that looks
// like a tar header is never taken for a zlib stream, and input without any
// magic is tried as raw deflate before it is passed through.
func detectFirst(bs []byte) Compression {
	if looksLikeTar(bs) {
		return None
	}
	if c := Detect(bs); c != None {
		return c
	}
	if inflates(bs) {
		return Deflate
	}
	return None
}

func looksLikeTar(bs []byte) bool {
	if len(bs) < tarheader.BlockSize {
		return false
	}
	var b tarheader.Block
	copy(b[:], bs)
	_, err := b.Decode()
	return err == nil || errors.Is(err, tarheader.ErrZeroBlock)
}

// inflates reports whether window decodes as the start of a raw deflate
// stream producing some output. A stream that ends inside the window must be
// followed by what may follow a member: zero padding or a gzip or zlib
// member.
func inflates(window []byte) bool {
	br := bytes.NewReader(window)
	fr := flate.NewReader(br)
	defer fr.Close()
	n, err := io.Copy(io.Discard, io.LimitReader(fr, inflateLimit))
	switch {
	case n == 0:
		return false
	case errors.Is(err, io.ErrUnexpectedEOF), n == inflateLimit:
		return true
	case err != nil:
		return false
	}
	rest := window[len(window)-br.Len():]
	if c := Detect(rest); c == Gzip || c == Zlib {
		return true
	}
	return len(bytes.TrimLeft(rest, "\x00")) == 0
}

// sourceReader remembers the last failure of the underlying reader so it
// can be told apart from decoding errors.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}
