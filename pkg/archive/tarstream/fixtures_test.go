package tarstream

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gotest.tools/v3/assert"

	"github.com/moby/tarstream/pkg/archive/sparse"
	"github.com/moby/tarstream/pkg/archive/tarheader"
)

// fixture is one archive member in logical form.
type fixture struct {
	hdr  tarheader.Header
	data []byte     // logical content
	m    sparse.Map // set for sparse files
}

var fixtureTime = time.Unix(1700000000, 0)

const sparseFileSize = 2 << 20

// sparseMap has literal runs at 0, 1024 and 1MiB inside a 2MiB file.
var sparseMap = sparse.Map{
	{Offset: 0, Length: 512},
	{Offset: 1024, Length: 100},
	{Offset: 1 << 20, Length: 4096},
}

func sparseContent() []byte {
	b := make([]byte, sparseFileSize)
	for i, e := range sparseMap {
		for j := e.Offset; j < e.End(); j++ {
			b[j] = byte('a' + i)
		}
	}
	return b
}

func baseHeader(typeflag byte, name string, mode int64) tarheader.Header {
	return tarheader.Header{
		Typeflag: typeflag,
		Name:     name,
		Mode:     mode,
		Uid:      1000,
		Gid:      1000,
		Uname:    "user",
		Gname:    "group",
		ModTime:  fixtureTime,
	}
}

// commonFixtures fit every dialect.
func commonFixtures() []fixture {
	file := baseHeader(tarheader.TypeReg, "dir/file.txt", 0o644)
	file.Size = 13
	hard := baseHeader(tarheader.TypeLink, "dir/hard", 0o644)
	hard.Linkname = "dir/file.txt"
	sym := baseHeader(tarheader.TypeSymlink, "dir/sym", 0o777)
	sym.Linkname = "file.txt"
	img := baseHeader(tarheader.TypeReg, "dir/sparse.img", 0o600)
	img.Size = sparseFileSize
	return []fixture{
		{hdr: baseHeader(tarheader.TypeDir, "dir/", 0o755)},
		{hdr: file, data: []byte("hello, world\n")},
		{hdr: hard},
		{hdr: sym},
		{hdr: baseHeader(tarheader.TypeFifo, "dir/fifo", 0o644)},
		{hdr: img, data: sparseContent(), m: sparseMap},
	}
}

var (
	longName = "dir/" + strings.Repeat("n", 160)
	longLink = strings.Repeat("t/", 75) + "target"
)

// extendedFixtures need pax or GNU extensions.
func extendedFixtures() []fixture {
	long := baseHeader(tarheader.TypeReg, longName, 0o644)
	long.Size = 4
	sym := baseHeader(tarheader.TypeSymlink, "dir/longsym", 0o777)
	sym.Linkname = longLink
	return []fixture{
		{hdr: long, data: []byte("long")},
		{hdr: sym},
	}
}

type dialect struct {
	name     string
	extended bool   // carries extendedFixtures
	sparse   string // how sparse files are stored; "" stores them dense
	build    func(t assert.TestingT, fs []fixture) []byte
}

var dialects = []dialect{
	{name: "v7", build: rawArchive(tarheader.FormatV7, "")},
	{name: "ustar", build: rawArchive(tarheader.FormatUSTAR, "")},
	{name: "gnu", extended: true, build: rawArchive(tarheader.FormatGNU, "")},
	{name: "gnu-sparse-old", extended: true, sparse: "old", build: rawArchive(tarheader.FormatGNU, "old")},
	{name: "gnu-sparse-0.0", extended: true, sparse: "0.0", build: rawArchive(tarheader.FormatUSTAR, "0.0")},
	{name: "gnu-sparse-0.1", extended: true, sparse: "0.1", build: rawArchive(tarheader.FormatUSTAR, "0.1")},
	{name: "pax", extended: true, sparse: "1.0", build: writerArchive},
}

func (d dialect) fixtures() []fixture {
	fs := commonFixtures()
	if d.extended {
		fs = append(fs, extendedFixtures()...)
	}
	return fs
}

// writerArchive produces a pax archive with Writer; sparse files use the
// 1.0 encoding.
func writerArchive(t assert.TestingT, fs []fixture) []byte {
	var buf bytes.Buffer
	tw, err := NewWriter(&buf, Config{})
	assert.NilError(t, err)
	for _, f := range fs {
		hdr := f.hdr
		assert.NilError(t, tw.BeginEntry(&hdr, f.m))
		data := f.data
		if f.m != nil {
			data = sparse.Condense(f.data, f.m)
		}
		_, err := tw.Write(data)
		assert.NilError(t, err)
		assert.NilError(t, tw.FinishEntry())
	}
	assert.NilError(t, tw.Close())
	return buf.Bytes()
}

// rawArchive assembles an archive block by block in the given format, using
// GNU long name entries for the GNU format and pax records otherwise.
func rawArchive(format tarheader.Format, sparseEnc string) func(assert.TestingT, []fixture) []byte {
	return func(t assert.TestingT, fs []fixture) []byte {
		var buf bytes.Buffer
		for _, f := range fs {
			hdr := f.hdr
			hdr.Format = format
			data := f.data
			var records []tarheader.Record

			if format == tarheader.FormatGNU {
				if len(hdr.Name) > 100 {
					writeRaw(t, &buf, tarheader.TypeGNULongName, "././@LongLink", []byte(hdr.Name+"\x00"))
					hdr.Name = hdr.Name[:100]
				}
				if len(hdr.Linkname) > 100 {
					writeRaw(t, &buf, tarheader.TypeGNULongLink, "././@LongLink", []byte(hdr.Linkname+"\x00"))
					hdr.Linkname = hdr.Linkname[:100]
				}
			} else {
				if !tarheader.FitsUSTAR(hdr.Name) {
					records = append(records, tarheader.Record{Key: tarheader.PAXPath, Value: hdr.Name})
					hdr.Name = hdr.Name[:100]
				}
				if len(hdr.Linkname) > 100 {
					records = append(records, tarheader.Record{Key: tarheader.PAXLinkpath, Value: hdr.Linkname})
					hdr.Linkname = hdr.Linkname[:100]
				}
			}

			if f.m != nil && sparseEnc != "" {
				data = sparse.Condense(f.data, f.m)
				switch sparseEnc {
				case "old":
					buf.Write(oldSparseBlocks(t, hdr, f.m))
					buf.Write(padded(data))
					continue
				case "0.0":
					records = append(records,
						tarheader.Record{Key: tarheader.PAXGNUSparseSize, Value: strconv.FormatInt(hdr.Size, 10)},
						tarheader.Record{Key: tarheader.PAXGNUSparseNumBlocks, Value: strconv.Itoa(len(f.m))})
					for _, e := range f.m {
						records = append(records,
							tarheader.Record{Key: tarheader.PAXGNUSparseOffset, Value: strconv.FormatInt(e.Offset, 10)},
							tarheader.Record{Key: tarheader.PAXGNUSparseNumBytes, Value: strconv.FormatInt(e.Length, 10)})
					}
				case "0.1":
					records = append(records,
						tarheader.Record{Key: tarheader.PAXGNUSparseSize, Value: strconv.FormatInt(hdr.Size, 10)},
						tarheader.Record{Key: tarheader.PAXGNUSparseNumBlocks, Value: strconv.Itoa(len(f.m))},
						tarheader.Record{Key: tarheader.PAXGNUSparseMap, Value: sparse.FormatMap(f.m)})
				}
				hdr.Size = int64(len(data))
			}

			if len(records) > 0 {
				var body []byte
				for _, r := range records {
					rec, err := tarheader.FormatPAXRecord(r.Key, r.Value)
					assert.NilError(t, err)
					body = append(body, rec...)
				}
				writeRaw(t, &buf, tarheader.TypeXHeader, "PaxHeaders.0/entry", body)
			}
			if hdr.EntryType().HeaderOnly() {
				hdr.Size = 0
			}
			blk, err := tarheader.Encode(&hdr)
			assert.NilError(t, err)
			buf.Write(blk[:])
			buf.Write(padded(data))
		}
		buf.Write(make([]byte, 2*tarheader.BlockSize))
		return buf.Bytes()
	}
}

// writeRaw writes an extension pseudo entry carrying body.
func writeRaw(t assert.TestingT, buf *bytes.Buffer, typeflag byte, name string, body []byte) {
	h := tarheader.Header{
		Typeflag: typeflag,
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(body)),
		ModTime:  fixtureTime,
		Format:   tarheader.FormatUSTAR,
	}
	blk, err := tarheader.Encode(&h)
	assert.NilError(t, err)
	buf.Write(blk[:])
	buf.Write(padded(body))
}

func padded(b []byte) []byte {
	out := append([]byte(nil), b...)
	return append(out, make([]byte, blockPadding(int64(len(b))))...)
}

// GNU sparse header layout.
const (
	offSparse        = 386
	offIsExtended    = 482
	offRealSize      = 483
	offExtIsExtended = 504
	sparseSlot       = 24
)

// oldSparseBlocks builds a GNU 'S' header with extension blocks as needed.
func oldSparseBlocks(t assert.TestingT, hdr tarheader.Header, m sparse.Map) []byte {
	realSize := hdr.Size
	hdr.Typeflag = tarheader.TypeGNUSparse
	hdr.Format = tarheader.FormatGNU
	hdr.Size = m.PhysicalSize()
	blk, err := tarheader.Encode(&hdr)
	assert.NilError(t, err)

	putOctal(blk[offRealSize:offRealSize+12], realSize)
	n := min(len(m), 4)
	putExtents(blk[offSparse:], m[:n])
	rest := m[n:]
	if len(rest) > 0 {
		blk[offIsExtended] = 1
	}
	blk.SetChecksum()

	out := append([]byte(nil), blk[:]...)
	for len(rest) > 0 {
		var ext [tarheader.BlockSize]byte
		n := min(len(rest), 21)
		putExtents(ext[:], rest[:n])
		rest = rest[n:]
		if len(rest) > 0 {
			ext[offExtIsExtended] = 1
		}
		out = append(out, ext[:]...)
	}
	return out
}

func putExtents(b []byte, m sparse.Map) {
	for i, e := range m {
		slot := b[i*sparseSlot:]
		putOctal(slot[:12], e.Offset)
		putOctal(slot[12:24], e.Length)
	}
}

func putOctal(b []byte, x int64) {
	copy(b, fmt.Sprintf("%0*o\x00", len(b)-1, x))
}
