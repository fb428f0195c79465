// Package tarstream reads and writes tar archives as streams.
//
// Parser is a push parser: the caller hands it whatever bytes it has and
// receives events back, one at a time, without the parser ever blocking or
// buffering entry data. Reader wraps a Parser around an io.Reader for the
// usual pull style, and Writer produces pax archives with GNU sparse 1.0
// support.
package tarstream

import (
	"context"
	"io"
	"strconv"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/moby/tarstream/pkg/archive/sparse"
	"github.com/moby/tarstream/pkg/archive/tarheader"
)

// EventKind identifies what a Parser produced.
type EventKind int

const (
	// EventNeedInput means all input was consumed and more is required.
	EventNeedInput EventKind = iota
	// EventHeader starts an entry. Event.Header is fully resolved: long
	// names, pax records and sparse maps have been applied.
	EventHeader
	// EventData carries literal entry bytes. Event.Data aliases the input
	// passed to Parse and is only valid until the next call.
	EventData
	// EventHole reports a run of zeros in a sparse entry that is not stored
	// in the archive.
	EventHole
	// EventEntryEnd follows the last data or hole of an entry.
	EventEntryEnd
	// EventArchiveEnd reports the end-of-archive marker. Bytes after it
	// are ignored.
	EventArchiveEnd

	// eventContinue is internal: a step changed state without producing
	// anything.
	eventContinue EventKind = -1
)

func (k EventKind) String() string {
	switch k {
	case EventNeedInput:
		return "need-input"
	case EventHeader:
		return "header"
	case EventData:
		return "data"
	case EventHole:
		return "hole"
	case EventEntryEnd:
		return "entry-end"
	case EventArchiveEnd:
		return "archive-end"
	default:
		return "event(" + strconv.Itoa(int(k)) + ")"
	}
}

// Event is one step of parser output.
type Event struct {
	Kind   EventKind
	Header *tarheader.Header // EventHeader, EventEntryEnd
	Data   []byte            // EventData
	Offset int64             // logical offset of Data or of the hole
	Length int64             // length of Data or of the hole
}

type state int

const (
	stateHeader state = iota
	stateSparseExt
	statePAX
	stateLongName
	statePreamble
	stateData
	stateSkip
	stateEnd
)

// Cursor is the position of a Parser within the archive.
type Cursor struct {
	Offset     int64 // archive bytes consumed
	Remaining  int64 // bytes left in the payload being read
	Padding    int64 // padding that follows the payload
	ZeroBlocks int   // consecutive zero blocks seen
}

// overrides are the extended headers waiting for the next real header.
type overrides struct {
	longName, longLink       string
	hasLongName, hasLongLink bool
	local                    []tarheader.Record
	hasLocal                 bool

	// discard drops the next entry because the extended header meant for
	// it could not be read.
	discard bool
}

// Parser is the tar state machine. The zero value is not usable; create one
// with NewParser. A Parser is not safe for concurrent use.
type Parser struct {
	cfg   Config
	state state
	cur   Cursor

	block      tarheader.Block
	nblock     int
	blockStart int64

	payload     []byte
	payloadType byte

	global  []tarheader.Record
	pending overrides

	// old GNU sparse headers and 1.0 preambles
	hdr       *tarheader.Header
	extents   *sparse.Builder
	extentErr error
	realSize  int64
	preamble  *sparse.PreambleDecoder

	entry *tarheader.Header
	data  sparse.Map // extents of entry not yet streamed
	pos   int64      // logical position within entry
	after int64      // stored bytes to skip after the entry's data
}

// NewParser returns a Parser using cfg. Zero fields of cfg take their
// defaults.
func NewParser(cfg Config) (*Parser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Parser{cfg: cfg.withDefaults()}
	if len(cfg.InitialGlobalRecords) > 0 {
		if err := p.mergeGlobal(cfg.InitialGlobalRecords); err != nil {
			return nil, errors.Wrapf(cerrdefs.ErrInvalidArgument, "initial global records: %v", err)
		}
	}
	return p, nil
}

// Cursor returns the current position.
func (p *Parser) Cursor() Cursor {
	return p.cur
}

// Parse consumes a prefix of in and returns the number of bytes consumed
// together with at most one event. EventNeedInput is only returned once all
// of in has been consumed. Events that need no input, such as holes and
// entry ends, may be returned with n == 0, so callers must keep calling
// Parse until it asks for input.
//
// A *tarheader.HeaderError is returned for a damaged entry. Parsing can
// continue with the next call unless the error is not Recoverable; the
// damaged entry's data is skipped when its size is known.
func (p *Parser) Parse(in []byte) (int, Event, error) {
	var n int
	for {
		c, ev, err := p.step(in[n:])
		n += c
		p.cur.Offset += int64(c)
		switch {
		case err != nil:
			return n, Event{Kind: EventNeedInput}, err
		case ev.Kind == eventContinue:
			continue
		case ev.Kind == EventNeedInput && n < len(in):
			continue
		default:
			return n, ev, nil
		}
	}
}

// Close tells the parser the input has ended. Ending at a block boundary
// between entries, with or without end-of-archive blocks, is a clean end;
// ending anywhere else is a truncated archive.
func (p *Parser) Close() error {
	switch {
	case p.state == stateEnd:
		return nil
	case p.state == stateHeader && p.nblock == 0:
		p.state = stateEnd
		return nil
	case p.state == stateSkip && p.cur.Remaining == 0:
		p.state = stateEnd
		return nil
	}
	err := &tarheader.HeaderError{
		Kind:   tarheader.ErrTruncated,
		Offset: p.cur.Offset,
		Err:    errors.Wrapf(io.ErrUnexpectedEOF, "%d bytes missing", p.missing()),
	}
	p.state = stateEnd
	return err
}

func (p *Parser) missing() int64 {
	switch p.state {
	case stateHeader, stateSparseExt:
		return int64(tarheader.BlockSize - p.nblock)
	case stateData:
		return p.cur.Remaining + p.cur.Padding + p.after
	default:
		return p.cur.Remaining + p.cur.Padding
	}
}

var (
	needInput = Event{Kind: EventNeedInput}
	cont      = Event{Kind: eventContinue}
)

func (p *Parser) step(in []byte) (int, Event, error) {
	switch p.state {
	case stateHeader:
		n, full := p.fillBlock(in)
		if !full {
			return n, needInput, nil
		}
		ev, err := p.readHeader()
		return n, ev, err
	case stateSparseExt:
		n, full := p.fillBlock(in)
		if !full {
			return n, needInput, nil
		}
		ev, err := p.readSparseExtension()
		return n, ev, err
	case statePAX, stateLongName:
		return p.readPayload(in)
	case statePreamble:
		return p.readPreamble(in)
	case stateData:
		return p.readData(in)
	case stateSkip:
		n := len(in)
		if int64(n) > p.cur.Remaining {
			n = int(p.cur.Remaining)
		}
		p.cur.Remaining -= int64(n)
		if p.cur.Remaining > 0 {
			return n, needInput, nil
		}
		p.state = stateHeader
		return n, cont, nil
	default:
		return len(in), Event{Kind: EventArchiveEnd}, nil
	}
}

func (p *Parser) fillBlock(in []byte) (int, bool) {
	if p.nblock == 0 {
		p.blockStart = p.cur.Offset
	}
	n := copy(p.block[p.nblock:], in)
	p.nblock += n
	if p.nblock < tarheader.BlockSize {
		return n, false
	}
	p.nblock = 0
	return n, true
}

func (p *Parser) readHeader() (Event, error) {
	if p.block.IsZero() {
		p.cur.ZeroBlocks++
		if p.cur.ZeroBlocks >= 2 {
			p.state = stateEnd
			return Event{Kind: EventArchiveEnd}, nil
		}
		return cont, nil
	}
	p.cur.ZeroBlocks = 0

	hdr, err := p.block.Decode()
	if err != nil {
		// The size of a damaged header cannot be trusted, so resume at the
		// next block.
		p.pending = overrides{}
		return cont, p.fail(err)
	}

	switch hdr.Typeflag {
	case tarheader.TypeXHeader, tarheader.TypeXGlobalHeader:
		return p.beginPayload(hdr, statePAX, p.cfg.MaxPAXRecordBytes)
	case tarheader.TypeGNULongName, tarheader.TypeGNULongLink:
		return p.beginPayload(hdr, stateLongName, p.cfg.MaxLongNameBytes)
	case tarheader.TypeGNUSparse:
		return p.beginOldSparse(hdr)
	default:
		return p.finishHeader(hdr, false)
	}
}

func (p *Parser) beginPayload(hdr *tarheader.Header, next state, limit int64) (Event, error) {
	p.payloadType = hdr.Typeflag
	if hdr.Size > limit {
		if hdr.Typeflag != tarheader.TypeXGlobalHeader {
			p.pending.discard = true
			p.pending.local, p.pending.hasLocal = nil, false
		}
		p.skip(hdr.Size)
		return cont, p.fail(&tarheader.HeaderError{
			Kind:   tarheader.ErrLimitExceeded,
			Field:  hdr.EntryType().String(),
			Offset: -1,
			Err:    errors.Errorf("payload of %d bytes, limit is %d", hdr.Size, limit),
		})
	}
	p.payload = p.payload[:0]
	p.cur.Remaining = hdr.Size
	p.cur.Padding = blockPadding(hdr.Size)
	p.state = next
	return cont, nil
}

func (p *Parser) readPayload(in []byte) (int, Event, error) {
	n := len(in)
	if int64(n) > p.cur.Remaining {
		n = int(p.cur.Remaining)
	}
	p.payload = append(p.payload, in[:n]...)
	p.cur.Remaining -= int64(n)
	if p.cur.Remaining > 0 {
		return n, needInput, nil
	}

	var err error
	switch p.payloadType {
	case tarheader.TypeXHeader:
		var recs []tarheader.Record
		if recs, err = tarheader.ParsePAXRecords(p.payload); err == nil && !p.pending.discard {
			local := append(p.pending.local, recs...)
			if err = p.checkRecords("pax", local); err == nil {
				p.pending.local, p.pending.hasLocal = local, true
			}
		}
		if err != nil {
			p.pending.discard = true
			p.pending.local, p.pending.hasLocal = nil, false
		}
	case tarheader.TypeXGlobalHeader:
		var recs []tarheader.Record
		if recs, err = tarheader.ParsePAXRecords(p.payload); err == nil {
			err = p.mergeGlobal(recs)
		}
	case tarheader.TypeGNULongName:
		p.pending.longName, p.pending.hasLongName = cstring(p.payload), true
	case tarheader.TypeGNULongLink:
		p.pending.longLink, p.pending.hasLongLink = cstring(p.payload), true
	}
	p.skipRest()
	if err != nil {
		var herr *tarheader.HeaderError
		if !errors.As(err, &herr) {
			err = &tarheader.HeaderError{Kind: tarheader.ErrMalformedPAX, Offset: -1, Err: err}
		}
		return n, cont, p.fail(err)
	}
	return n, cont, nil
}

// mergeGlobal folds global records into the set applied to every following
// entry. A later record replaces an earlier one with the same key and an
// empty value deletes it.
func (p *Parser) mergeGlobal(recs []tarheader.Record) error {
	global := append([]tarheader.Record(nil), p.global...)
	for _, r := range recs {
		i := -1
		for j := range global {
			if global[j].Key == r.Key {
				i = j
				break
			}
		}
		switch {
		case r.Value == "" && i >= 0:
			global = append(global[:i], global[i+1:]...)
		case r.Value == "":
		case i >= 0:
			global[i].Value = r.Value
		default:
			global = append(global, r)
		}
	}
	if err := p.checkRecords("pax-global", global); err != nil {
		return err
	}
	p.global = global
	return nil
}

// checkRecords applies the pax limits to a record set that is kept across
// headers.
func (p *Parser) checkRecords(field string, recs []tarheader.Record) error {
	if len(recs) > p.cfg.MaxPAXRecords {
		return &tarheader.HeaderError{
			Kind:   tarheader.ErrLimitExceeded,
			Field:  field,
			Offset: -1,
			Err:    errors.Errorf("%d records, limit is %d", len(recs), p.cfg.MaxPAXRecords),
		}
	}
	var size int64
	for _, r := range recs {
		size += int64(len(r.Key) + len(r.Value))
	}
	if size > p.cfg.MaxPAXRecordBytes {
		return &tarheader.HeaderError{
			Kind:   tarheader.ErrLimitExceeded,
			Field:  field,
			Offset: -1,
			Err:    errors.Errorf("records hold %d bytes, limit is %d", size, p.cfg.MaxPAXRecordBytes),
		}
	}
	return nil
}

func (p *Parser) beginOldSparse(hdr *tarheader.Header) (Event, error) {
	realSize, entries, extended, err := p.block.GNUSparse()
	if err != nil {
		p.pending = overrides{}
		p.skip(hdr.Size)
		return cont, p.fail(err)
	}
	p.hdr = hdr
	p.realSize = realSize
	p.extents = sparse.NewBuilder(p.cfg.MaxSparseExtents)
	p.extentErr = nil
	p.addExtents(entries)
	return p.endOldSparse(extended)
}

func (p *Parser) readSparseExtension() (Event, error) {
	entries, extended, err := p.block.GNUSparseExtension()
	if err != nil {
		// The chain of extension blocks is broken and the data that
		// follows cannot be located reliably.
		p.pending = overrides{}
		p.state = stateHeader
		p.hdr, p.extents = nil, nil
		return cont, p.fail(err)
	}
	p.addExtents(entries)
	return p.endOldSparse(extended)
}

// addExtents collects old GNU sparse entries. Once the limit is hit the
// remaining entries are ignored but their extension blocks are still read,
// so the entry's data can be skipped as a whole.
func (p *Parser) addExtents(entries []sparse.Extent) {
	for _, e := range entries {
		if p.extentErr != nil {
			return
		}
		p.extentErr = p.extents.Add(e.Offset, e.Length)
	}
}

func (p *Parser) endOldSparse(extended bool) (Event, error) {
	if extended {
		p.state = stateSparseExt
		return cont, nil
	}
	hdr := p.hdr
	p.hdr = nil
	if err := p.extentErr; err != nil {
		p.pending = overrides{}
		p.extents, p.extentErr = nil, nil
		p.skip(hdr.Size)
		return cont, p.fail(err)
	}
	return p.finishHeader(hdr, true)
}

// finishHeader applies the pending overrides to hdr and starts the entry.
// oldSparse is set for GNU 'S' headers whose map has been collected in
// p.extents.
func (p *Parser) finishHeader(hdr *tarheader.Header, oldSparse bool) (Event, error) {
	o := p.pending
	p.pending = overrides{}
	extents := p.extents
	p.extents, p.extentErr = nil, nil

	if o.discard {
		log.G(context.TODO()).WithFields(log.Fields{
			"name":   hdr.Name,
			"offset": p.blockStart,
		}).Debug("skipping entry whose extended header was unreadable")
		p.skip(hdr.Size)
		return cont, nil
	}

	if o.hasLongName {
		hdr.Name = o.longName
	}
	if o.hasLongLink {
		hdr.Linkname = o.longLink
	}

	var extra, sparseRecs []tarheader.Record
	if len(p.global) > 0 {
		rest, err := tarheader.ApplyPAX(hdr, p.global)
		if err != nil {
			p.skip(hdr.Size)
			return cont, p.fail(err)
		}
		for _, r := range rest {
			if !strings.HasPrefix(r.Key, tarheader.PAXGNUSparse) {
				extra = append(extra, r)
			}
		}
		hdr.Format = tarheader.FormatPAX
	}
	if o.hasLocal {
		rest, err := tarheader.ApplyPAX(hdr, o.local)
		if err != nil {
			p.skip(hdr.Size)
			return cont, p.fail(err)
		}
		for _, r := range rest {
			if strings.HasPrefix(r.Key, tarheader.PAXGNUSparse) {
				sparseRecs = append(sparseRecs, r)
			} else {
				extra = append(extra, r)
			}
		}
		hdr.Format = tarheader.FormatPAX
	}
	hdr.PAXRecords = extra

	// stored is the number of bytes that follow the header in the archive.
	stored := hdr.Size
	if hdr.EntryType().HeaderOnly() {
		hdr.Size = 0
		return p.startEntry(hdr, 0, stored), nil
	}

	switch {
	case oldSparse:
		hdr.Typeflag = tarheader.TypeReg
		hdr.Size = p.realSize
		hdr.SparseMap = extents.Map()
		hdr.SparseFormat = tarheader.SparseGNUOld
	case len(sparseRecs) > 0:
		preamble, err := p.applySparse(hdr, sparseRecs)
		if err != nil {
			p.skip(stored)
			return cont, p.fail(err)
		}
		if preamble {
			p.hdr = hdr
			p.preamble = sparse.NewPreambleDecoder(p.cfg.MaxSparseExtents)
			p.cur.Remaining = stored
			p.cur.Padding = blockPadding(stored)
			p.state = statePreamble
			return cont, nil
		}
	}
	if hdr.SparseMap != nil {
		if err := checkSparse(hdr, stored); err != nil {
			p.skip(stored)
			return cont, p.fail(err)
		}
	}
	return p.startEntry(hdr, stored, 0), nil
}

// applySparse interprets the GNU.sparse.* records of a pax header. It
// reports whether the map is stored in a 1.0 preamble at the start of the
// data.
func (p *Parser) applySparse(hdr *tarheader.Header, recs []tarheader.Record) (bool, error) {
	var (
		major, minor     string
		name, mapStr     string
		hasName, hasMap  bool
		size, realSize   int64 = -1, -1
		pairs            = sparse.NewBuilder(p.cfg.MaxSparseExtents)
		offset           int64
		hasOffset, sawV0 bool
	)
	for _, r := range recs {
		var err error
		switch r.Key {
		case tarheader.PAXGNUSparseMajor:
			major = r.Value
		case tarheader.PAXGNUSparseMinor:
			minor = r.Value
		case tarheader.PAXGNUSparseName:
			name, hasName = r.Value, true
		case tarheader.PAXGNUSparseSize:
			size, err = parseSparseInt(r.Value)
		case tarheader.PAXGNUSparseRealSize:
			realSize, err = parseSparseInt(r.Value)
		case tarheader.PAXGNUSparseMap:
			mapStr, hasMap = r.Value, true
		case tarheader.PAXGNUSparseNumBlocks:
			var n int64
			if n, err = parseSparseInt(r.Value); err == nil && p.cfg.MaxSparseExtents > 0 && n > int64(p.cfg.MaxSparseExtents) {
				err = errors.Wrapf(sparse.ErrTooManyExtents, "%d extents announced", n)
			}
			sawV0 = true
		case tarheader.PAXGNUSparseOffset:
			if hasOffset {
				err = errors.Wrap(sparse.ErrInvalidMap, "offset without numbytes")
				break
			}
			offset, err = parseSparseInt(r.Value)
			hasOffset, sawV0 = true, true
		case tarheader.PAXGNUSparseNumBytes:
			var n int64
			if !hasOffset {
				err = errors.Wrap(sparse.ErrInvalidMap, "numbytes without offset")
			} else if n, err = parseSparseInt(r.Value); err == nil {
				err = pairs.Add(offset, n)
			}
			hasOffset = false
		}
		if err != nil {
			return false, errors.Wrap(err, r.Key)
		}
	}
	if hasOffset {
		return false, errors.Wrap(sparse.ErrInvalidMap, "offset without numbytes")
	}

	switch {
	case major == "1":
		if minor != "0" {
			return false, errors.Wrapf(sparse.ErrInvalidMap, "unsupported sparse format 1.%s", minor)
		}
		if realSize < 0 {
			return false, errors.Wrap(sparse.ErrInvalidMap, "missing "+tarheader.PAXGNUSparseRealSize)
		}
		hdr.SparseFormat = tarheader.SparseGNU10
		size = realSize
	case major != "" && major != "0":
		return false, errors.Wrapf(sparse.ErrInvalidMap, "unsupported sparse format %s.%s", major, minor)
	case hasMap:
		m, err := sparse.ParseMap(mapStr, p.cfg.MaxSparseExtents)
		if err != nil {
			return false, errors.Wrap(err, tarheader.PAXGNUSparseMap)
		}
		hdr.SparseMap = m
		hdr.SparseFormat = tarheader.SparseGNU01
	case sawV0:
		hdr.SparseMap = pairs.Map()
		hdr.SparseFormat = tarheader.SparseGNU00
	default:
		// GNU.sparse.* keys that describe no map
		return false, nil
	}

	if size < 0 {
		size = realSize
	}
	if size < 0 {
		return false, errors.Wrap(sparse.ErrInvalidMap, "missing logical size")
	}
	hdr.Size = size
	if hasName {
		hdr.Name = name
	}
	return hdr.SparseFormat == tarheader.SparseGNU10, nil
}

func parseSparseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 || n > tarheader.MaxSize {
		return 0, errors.Wrapf(sparse.ErrInvalidMap, "bad number %q", s)
	}
	return n, nil
}

// checkSparse verifies a decoded map against the entry's logical size and
// the number of bytes actually stored.
func checkSparse(hdr *tarheader.Header, stored int64) error {
	if err := hdr.SparseMap.Validate(hdr.Size); err != nil {
		return err
	}
	if phys := hdr.SparseMap.PhysicalSize(); phys != stored {
		return errors.Wrapf(sparse.ErrInvalidMap, "map describes %d bytes, archive stores %d", phys, stored)
	}
	return nil
}

func (p *Parser) readPreamble(in []byte) (int, Event, error) {
	avail := in
	if int64(len(avail)) > p.cur.Remaining {
		avail = avail[:p.cur.Remaining]
	}
	n, done, err := p.preamble.Write(avail)
	p.cur.Remaining -= int64(n)
	if err == nil && !done {
		if p.cur.Remaining > 0 {
			return n, needInput, nil
		}
		err = errors.Wrap(sparse.ErrInvalidMap, "preamble runs past the entry data")
	}

	hdr := p.hdr
	if err == nil {
		hdr.SparseMap = p.preamble.Map()
		err = checkSparse(hdr, p.cur.Remaining)
	}
	p.hdr, p.preamble = nil, nil
	if err != nil {
		p.skipRest()
		return n, cont, p.fail(err)
	}
	// The preamble is a whole number of blocks, so the padding of the
	// remaining data equals that of the stored entry.
	return n, p.startEntry(hdr, p.cur.Remaining, 0), nil
}

func (p *Parser) startEntry(hdr *tarheader.Header, stored, after int64) Event {
	p.entry = hdr
	switch {
	case hdr.SparseMap != nil:
		p.data = hdr.SparseMap
	case hdr.Size > 0:
		p.data = sparse.Map{{Offset: 0, Length: hdr.Size}}
	default:
		p.data = nil
	}
	p.pos = 0
	p.after = after
	p.cur.Remaining = stored
	p.cur.Padding = blockPadding(stored + after)
	p.state = stateData
	return Event{Kind: EventHeader, Header: hdr}
}

func (p *Parser) readData(in []byte) (int, Event, error) {
	hdr := p.entry
	if len(p.data) == 0 {
		if p.pos < hdr.Size {
			ev := Event{Kind: EventHole, Offset: p.pos, Length: hdr.Size - p.pos}
			p.pos = hdr.Size
			return 0, ev, nil
		}
		p.entry = nil
		p.state = stateSkip
		p.cur.Remaining += p.after + p.cur.Padding
		p.cur.Padding, p.after = 0, 0
		return 0, Event{Kind: EventEntryEnd, Header: hdr}, nil
	}

	e := p.data[0]
	if p.pos < e.Offset {
		ev := Event{Kind: EventHole, Offset: p.pos, Length: e.Offset - p.pos}
		p.pos = e.Offset
		return 0, ev, nil
	}
	if len(in) == 0 {
		return 0, needInput, nil
	}
	n := len(in)
	if left := e.End() - p.pos; int64(n) > left {
		n = int(left)
	}
	ev := Event{Kind: EventData, Data: in[:n:n], Offset: p.pos, Length: int64(n)}
	p.pos += int64(n)
	p.cur.Remaining -= int64(n)
	if p.pos == e.End() {
		p.data = p.data[1:]
	}
	return n, ev, nil
}

// skip arranges for n payload bytes and their padding to be discarded
// before the next header.
func (p *Parser) skip(n int64) {
	p.state = stateSkip
	p.cur.Remaining = n + blockPadding(n)
	p.cur.Padding = 0
}

// skipRest discards what is left of the current payload and its padding.
func (p *Parser) skipRest() {
	p.state = stateSkip
	p.cur.Remaining += p.cur.Padding
	p.cur.Padding = 0
}

// fail stamps err with the offset of the current header block and logs the
// resynchronisation.
func (p *Parser) fail(err error) error {
	var herr *tarheader.HeaderError
	if !errors.As(err, &herr) {
		kind := tarheader.ErrMalformedSparseMap
		if errors.Is(err, sparse.ErrTooManyExtents) {
			kind = tarheader.ErrLimitExceeded
		}
		herr = &tarheader.HeaderError{Kind: kind, Offset: -1, Err: err}
	}
	if herr.Offset < 0 {
		herr.Offset = p.blockStart
	}
	log.G(context.TODO()).WithError(herr).WithField("offset", herr.Offset).Debug("skipping damaged tar entry")
	return herr
}

// blockPadding returns the padding needed to round n up to a whole block.
func blockPadding(n int64) int64 {
	return -n & (tarheader.BlockSize - 1)
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
