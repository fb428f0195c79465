package tarstream

import (
	"io"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/moby/tarstream/pkg/archive/sparse"
	"github.com/moby/tarstream/pkg/archive/tarheader"
)

var zeroBlock [tarheader.BlockSize]byte

const (
	maxOctal8  = 1<<21 - 1 // largest value of an 8 byte octal field
	maxOctal12 = 1<<33 - 1 // largest value of a 12 byte octal field
)

var (
	minTime = time.Unix(0, 0)
	// There is room for 11 octal digits (33 bits) of mtime.
	maxTime = minTime.Add(maxOctal12 * time.Second)
)

// A Writer provides sequential writing of a tar archive in pax format.
// Call BeginEntry to start an entry, Write to supply its data and
// FinishEntry to end it. Close writes the end-of-archive marker.
type Writer struct {
	w       io.Writer
	cfg     Config
	written int64 // bytes written to w
	nb      int64 // unwritten bytes of the current entry
	pad     int64 // padding after the current entry
	name    string
	inEntry bool
	closed  bool
	err     error // sticky
}

// NewWriter creates a Writer writing to w. Zero fields of cfg take their
// defaults.
func NewWriter(w io.Writer, cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{w: w, cfg: cfg.withDefaults()}, nil
}

// BeginEntry writes hdr and prepares to accept the entry's data. When m is
// not nil the entry is stored as a GNU 1.0 sparse file: hdr.Size is the
// logical size and exactly m.PhysicalSize() bytes, the contents of the
// extents in order, must follow.
//
// Fields that do not fit a ustar header, or are not 7-bit ASCII, are
// carried in a pax extended header. hdr.PAXRecords are written as well.
// An entry still open is finished first.
func (tw *Writer) BeginEntry(hdr *tarheader.Header, m sparse.Map) error {
	if tw.closed {
		return &WriteError{Kind: ErrWriteAfterClose, Name: hdr.Name}
	}
	if tw.inEntry {
		if err := tw.FinishEntry(); err != nil {
			return err
		}
	}
	if tw.err != nil {
		return tw.err
	}

	h := *hdr
	h.SparseMap, h.SparseFormat, h.PAXRecords = nil, tarheader.SparseNone, nil
	h.Format = tarheader.FormatUSTAR

	records := make(map[string]string)
	for _, r := range hdr.PAXRecords {
		records[r.Key] = r.Value
	}

	var preamble []byte
	if m != nil {
		if h.EntryType() != tarheader.RegularFile {
			return &WriteError{Kind: tarheader.ErrMalformedSparseMap, Name: hdr.Name, Err: errors.New("only regular files can be sparse")}
		}
		m = m.Normalize()
		if err := m.Validate(h.Size); err != nil {
			return &WriteError{Kind: tarheader.ErrMalformedSparseMap, Name: hdr.Name, Err: err}
		}
		preamble = sparse.FormatPreamble(m)
		records[tarheader.PAXGNUSparseMajor] = "1"
		records[tarheader.PAXGNUSparseMinor] = "0"
		records[tarheader.PAXGNUSparseName] = h.Name
		records[tarheader.PAXGNUSparseRealSize] = strconv.FormatInt(h.Size, 10)
		h.Name = sparseName(h.Name)
		h.Typeflag = tarheader.TypeReg
		h.Size = int64(len(preamble)) + m.PhysicalSize()
	}
	if h.EntryType().HeaderOnly() {
		h.Size = 0
	}
	stored := h.Size
	fullName := h.Name

	promote(&h, records)

	blk, err := tarheader.Encode(&h)
	if err != nil {
		kind := tarheader.ErrFieldTooLong
		if errors.Is(err, tarheader.ErrNameTooLong) {
			kind = tarheader.ErrNameTooLong
		}
		return &WriteError{Kind: kind, Name: hdr.Name, Err: err}
	}

	tw.name = hdr.Name
	if len(records) > 0 {
		if err := tw.writePAXHeader(fullName, h.ModTime, records); err != nil {
			return err
		}
	}
	if _, err := tw.write(blk[:]); err != nil {
		return err
	}
	if _, err := tw.write(preamble); err != nil {
		return err
	}
	tw.nb = stored - int64(len(preamble))
	tw.pad = blockPadding(stored)
	tw.inEntry = true
	return nil
}

// promote moves values that cannot be represented in a ustar header into
// pax records, leaving a shortened or zeroed value in the header.
func promote(h *tarheader.Header, records map[string]string) {
	if !isASCII7Bit(h.Name) || !tarheader.FitsUSTAR(h.Name) {
		records[tarheader.PAXPath] = h.Name
		h.Name = stripTo7BitsAndShorten(h.Name, 100)
	}
	fillString(&h.Linkname, 100, records, tarheader.PAXLinkpath)
	fillString(&h.Uname, 32, records, tarheader.PAXUname)
	fillString(&h.Gname, 32, records, tarheader.PAXGname)

	if h.Uid < 0 || h.Uid > maxOctal8 {
		records[tarheader.PAXUid] = strconv.Itoa(h.Uid)
		h.Uid = 0
	}
	if h.Gid < 0 || h.Gid > maxOctal8 {
		records[tarheader.PAXGid] = strconv.Itoa(h.Gid)
		h.Gid = 0
	}
	if h.Size > maxOctal12 {
		records[tarheader.PAXSize] = strconv.FormatInt(h.Size, 10)
		h.Size = 0
	}

	// Handle out of range ModTime carefully.
	switch {
	case h.ModTime.IsZero():
	case h.ModTime.Before(minTime) || h.ModTime.After(maxTime):
		records[tarheader.PAXMtime] = tarheader.FormatPAXTime(h.ModTime)
		h.ModTime = minTime
	default:
		h.ModTime = time.Unix(h.ModTime.Unix(), 0)
	}
	h.AccessTime, h.ChangeTime = time.Time{}, time.Time{}
}

func fillString(s *string, size int, records map[string]string, key string) {
	if len(*s) > size || !isASCII7Bit(*s) {
		records[key] = *s
		*s = stripTo7BitsAndShorten(*s, size)
	}
}

// sparseName is the name GNU tar gives the header of a 1.0 sparse file so
// that readers without sparse support do not clobber the real file.
func sparseName(name string) string {
	dir, file := path.Split(name)
	return path.Join(dir, "GNUSparseFile.0", file)
}

// writePAXHeader writes an extended pax header to the archive. Records are
// written in key order so the output is reproducible.
func (tw *Writer) writePAXHeader(name string, modTime time.Time, records map[string]string) error {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var body []byte
	for _, k := range keys {
		rec, err := tarheader.FormatPAXRecord(k, records[k])
		if err != nil {
			return &WriteError{Kind: tarheader.ErrFieldTooLong, Name: tw.name, Err: err}
		}
		body = append(body, rec...)
	}

	// The pseudo file is namespaced the way GNU tar does it, with 0 in
	// place of the process id.
	dir, file := path.Split(name)
	ext := &tarheader.Header{
		Typeflag: tarheader.TypeXHeader,
		Name:     stripTo7BitsAndShorten(path.Join(dir, "PaxHeaders.0", file), 100),
		Mode:     0o644,
		Size:     int64(len(body)),
		ModTime:  modTime,
		Format:   tarheader.FormatUSTAR,
	}
	blk, err := tarheader.Encode(ext)
	if err != nil {
		return &WriteError{Kind: tarheader.ErrFieldTooLong, Name: tw.name, Err: err}
	}
	if _, err := tw.write(blk[:]); err != nil {
		return err
	}
	if _, err := tw.write(body); err != nil {
		return err
	}
	return tw.writeZeros(blockPadding(int64(len(body))))
}

// Write writes to the current entry. It returns an ErrSizeMismatch
// WriteError if more bytes are written than BeginEntry announced.
func (tw *Writer) Write(b []byte) (int, error) {
	if tw.closed {
		return 0, &WriteError{Kind: ErrWriteAfterClose}
	}
	if tw.err != nil {
		return 0, tw.err
	}
	if !tw.inEntry {
		return 0, &WriteError{Kind: ErrSizeMismatch, Err: errors.New("no entry in progress")}
	}
	overwrite := false
	if int64(len(b)) > tw.nb {
		b = b[:tw.nb]
		overwrite = true
	}
	n, err := tw.write(b)
	tw.nb -= int64(n)
	if err != nil {
		return n, err
	}
	if overwrite {
		return n, &WriteError{Kind: ErrSizeMismatch, Name: tw.name, Err: errors.New("write exceeds entry size")}
	}
	return n, nil
}

// FinishEntry pads the current entry to a block boundary. It fails with
// ErrSizeMismatch if fewer bytes were written than announced; the archive
// cannot be completed after that.
func (tw *Writer) FinishEntry() error {
	if tw.err != nil {
		return tw.err
	}
	if !tw.inEntry {
		return nil
	}
	if tw.nb > 0 {
		tw.err = &WriteError{Kind: ErrSizeMismatch, Name: tw.name, Err: errors.Errorf("missed writing %d bytes", tw.nb)}
		return tw.err
	}
	tw.inEntry = false
	return tw.writeZeros(tw.pad)
}

// Close finishes the current entry, writes the end-of-archive marker and
// pads the archive to a multiple of the output block size. It does not
// close the underlying writer.
func (tw *Writer) Close() error {
	if tw.closed {
		return tw.err
	}
	if err := tw.FinishEntry(); err != nil {
		return err
	}
	tw.closed = true

	// trailer: two zero blocks
	if err := tw.writeZeros(2 * tarheader.BlockSize); err != nil {
		return err
	}
	if rem := tw.written % int64(tw.cfg.OutputBlockSize); rem != 0 {
		return tw.writeZeros(int64(tw.cfg.OutputBlockSize) - rem)
	}
	return nil
}

func (tw *Writer) write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := tw.w.Write(b)
	tw.written += int64(n)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		tw.err = &WriteError{Kind: ErrIO, Name: tw.name, Err: err}
		return n, tw.err
	}
	return n, nil
}

func (tw *Writer) writeZeros(n int64) error {
	for n > 0 {
		chunk := n
		if chunk > tarheader.BlockSize {
			chunk = tarheader.BlockSize
		}
		if _, err := tw.write(zeroBlock[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func isASCII7Bit(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == 0 || c >= 0x80 {
			return false
		}
	}
	return true
}

// stripTo7BitsAndShorten replaces bytes outside 7-bit ASCII and truncates s
// to at most n bytes.
func stripTo7BitsAndShorten(s string, n int) string {
	b := make([]byte, 0, min(len(s), n))
	for i := 0; i < len(s) && len(b) < n; i++ {
		c := s[i]
		if c == 0 || c >= 0x80 {
			c = '_'
		}
		b = append(b, c)
	}
	return string(b)
}
