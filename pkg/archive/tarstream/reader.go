package tarstream

import (
	"io"

	"github.com/pkg/errors"

	"github.com/moby/tarstream/pkg/archive/sparse"
	"github.com/moby/tarstream/pkg/archive/tarheader"
)

const readBufferSize = 32 * 1024

// Region is a piece of a sparse entry in logical order. Data regions carry
// a reader for their literal bytes; holes read back as zeros and have none.
type Region struct {
	sparse.Segment
	Data io.Reader
}

// Reader provides sequential access to the entries of a tar archive read
// from an io.Reader. Call Next to advance to an entry, then Read, NextRegion
// or Logical to get at its contents.
type Reader struct {
	r   io.Reader
	p   *Parser
	buf []byte
	in  []byte
	eof bool
	err error // sticky

	hdr      *tarheader.Header
	data     []byte // unread part of the last data event
	entryEnd bool

	regions    []sparse.Segment
	regionData *io.LimitedReader
}

// NewReader creates a Reader reading from r. Zero fields of cfg take their
// defaults.
func NewReader(r io.Reader, cfg Config) (*Reader, error) {
	p, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, p: p, buf: make([]byte, readBufferSize)}, nil
}

// Next advances to the next entry, skipping whatever is left of the
// current one. It returns io.EOF at the end of the archive.
//
// A damaged entry is reported as a *tarheader.HeaderError; if the error is
// Recoverable, calling Next again continues with the following entry.
// Errors from the underlying reader are returned as is and end the archive.
func (tr *Reader) Next() (*tarheader.Header, error) {
	if tr.err != nil {
		return nil, tr.err
	}
	tr.hdr, tr.data, tr.regions, tr.regionData = nil, nil, nil, nil
	for {
		ev, err := tr.next()
		if err != nil {
			return nil, err
		}
		switch ev.Kind {
		case EventHeader:
			tr.hdr = ev.Header
			tr.entryEnd = false
			m := ev.Header.SparseMap
			if m == nil && ev.Header.Size > 0 {
				m = sparse.Map{{Offset: 0, Length: ev.Header.Size}}
			}
			tr.regions = m.Segments(ev.Header.Size)
			return ev.Header, nil
		case EventArchiveEnd:
			tr.err = io.EOF
			return nil, io.EOF
		}
	}
}

// Read reads the stored bytes of the current entry: for a sparse entry only
// its data extents, back to back. It returns io.EOF at the end of the
// entry.
func (tr *Reader) Read(b []byte) (int, error) {
	if tr.hdr == nil || tr.entryEnd {
		if tr.err != nil && tr.err != io.EOF {
			return 0, tr.err
		}
		return 0, io.EOF
	}
	for len(tr.data) == 0 {
		ev, err := tr.next()
		if err != nil {
			return 0, err
		}
		switch ev.Kind {
		case EventData:
			tr.data = ev.Data
		case EventEntryEnd:
			tr.entryEnd = true
			return 0, io.EOF
		case EventArchiveEnd:
			tr.err = io.EOF
			return 0, io.EOF
		}
	}
	n := copy(b, tr.data)
	tr.data = tr.data[n:]
	return n, nil
}

// NextRegion returns the next data or hole region of the current entry,
// discarding any unread bytes of the previous data region. Entries that are
// not sparse consist of a single data region. It returns io.EOF after the
// last region. Do not mix NextRegion with direct calls to Read.
func (tr *Reader) NextRegion() (Region, error) {
	if tr.hdr == nil {
		return Region{}, io.EOF
	}
	if tr.regionData != nil {
		if _, err := io.Copy(io.Discard, tr.regionData); err != nil {
			return Region{}, err
		}
		tr.regionData = nil
	}
	if len(tr.regions) == 0 {
		return Region{}, io.EOF
	}
	seg := tr.regions[0]
	tr.regions = tr.regions[1:]
	r := Region{Segment: seg}
	if !seg.Hole {
		tr.regionData = &io.LimitedReader{R: tr, N: seg.Length}
		r.Data = tr.regionData
	}
	return r, nil
}

// Logical returns a reader for the logical content of the current entry,
// with the holes of a sparse entry expanded to zeros.
func (tr *Reader) Logical() io.Reader {
	if tr.hdr == nil || tr.hdr.SparseMap == nil {
		return onlyReader{tr}
	}
	return sparse.NewReader(onlyReader{tr}, tr.hdr.SparseMap, tr.hdr.Size)
}

type onlyReader struct {
	io.Reader
}

// next pulls one event from the parser, reading more input as needed.
func (tr *Reader) next() (Event, error) {
	if tr.err != nil {
		return Event{}, tr.err
	}
	for {
		n, ev, err := tr.p.Parse(tr.in)
		tr.in = tr.in[n:]
		if err != nil {
			return ev, tr.check(err)
		}
		if ev.Kind != EventNeedInput {
			return ev, nil
		}
		if tr.eof {
			if err := tr.p.Close(); err != nil {
				return Event{}, tr.check(err)
			}
			return Event{Kind: EventArchiveEnd}, nil
		}
		n, err = tr.r.Read(tr.buf)
		tr.in = tr.buf[:n]
		switch {
		case err == io.EOF:
			tr.eof = true
		case err != nil:
			tr.err = err
			return Event{}, err
		}
	}
}

// check makes errors the parser cannot continue past sticky.
func (tr *Reader) check(err error) error {
	var herr *tarheader.HeaderError
	if errors.As(err, &herr) && herr.Recoverable() {
		return err
	}
	tr.err = err
	return err
}
