package tarstream

import (
	"bytes"
	"io"
	"strings"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/moby/tarstream/pkg/archive/sparse"
	"github.com/moby/tarstream/pkg/archive/tarheader"
)

// summary is what must survive every dialect.
type summary struct {
	Name     string
	Typeflag byte
	Linkname string
	Size     int64
	Mode     int64
	Uid, Gid int
	Uname    string
	Mtime    int64
	Digest   digest.Digest
	Map      sparse.Map
}

func summarize(hdr *tarheader.Header, logical []byte, withOwner bool) summary {
	s := summary{
		Name:     hdr.Name,
		Typeflag: hdr.Typeflag,
		Linkname: hdr.Linkname,
		Size:     hdr.Size,
		Mode:     hdr.Mode,
		Uid:      hdr.Uid,
		Gid:      hdr.Gid,
		Mtime:    hdr.ModTime.Unix(),
		Digest:   digest.FromBytes(logical),
		Map:      hdr.SparseMap,
	}
	if withOwner {
		s.Uname = hdr.Uname
	}
	return s
}

func expected(d dialect) []summary {
	var out []summary
	for _, f := range d.fixtures() {
		s := summarize(&f.hdr, f.data, d.name != "v7")
		if d.sparse == "" {
			s.Map = nil
		}
		out = append(out, s)
	}
	return out
}

// readAll reads every entry of archive with Logical.
func readAll(t assert.TestingT, archive []byte, withOwner bool) []summary {
	tr, err := NewReader(bytes.NewReader(archive), Config{})
	assert.NilError(t, err)
	var out []summary
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		assert.NilError(t, err)
		data, err := io.ReadAll(tr.Logical())
		assert.NilError(t, err)
		out = append(out, summarize(hdr, data, withOwner))
	}
}

func TestReaderDialects(t *testing.T) {
	for _, d := range dialects {
		t.Run(d.name, func(t *testing.T) {
			archive := d.build(t, d.fixtures())
			got := readAll(t, archive, d.name != "v7")
			assert.Check(t, is.DeepEqual(got, expected(d), cmpopts.EquateEmpty()))
		})
	}
}

func TestReaderSparseFormats(t *testing.T) {
	want := map[string]tarheader.SparseFormat{
		"gnu-sparse-old": tarheader.SparseGNUOld,
		"gnu-sparse-0.0": tarheader.SparseGNU00,
		"gnu-sparse-0.1": tarheader.SparseGNU01,
		"pax":            tarheader.SparseGNU10,
	}
	for _, d := range dialects {
		if d.sparse == "" {
			continue
		}
		t.Run(d.name, func(t *testing.T) {
			tr, err := NewReader(bytes.NewReader(d.build(t, d.fixtures())), Config{})
			assert.NilError(t, err)
			for {
				hdr, err := tr.Next()
				assert.NilError(t, err)
				if hdr.Name != "dir/sparse.img" {
					continue
				}
				assert.Check(t, is.Equal(hdr.SparseFormat, want[d.name]))
				assert.Check(t, is.Equal(hdr.Typeflag, byte(tarheader.TypeReg)))
				assert.Check(t, is.Equal(hdr.PhysicalSize(), int64(512+100+4096)))
				return
			}
		})
	}
}

func TestReaderRegions(t *testing.T) {
	d := dialects[len(dialects)-1]
	tr, err := NewReader(bytes.NewReader(d.build(t, d.fixtures())), Config{})
	assert.NilError(t, err)
	for {
		hdr, err := tr.Next()
		assert.NilError(t, err)
		if hdr.IsSparse() {
			break
		}
	}

	var got []sparse.Segment
	for {
		r, err := tr.NextRegion()
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		got = append(got, r.Segment)
		if r.Hole {
			assert.Check(t, r.Data == nil)
			continue
		}
		data, err := io.ReadAll(r.Data)
		assert.NilError(t, err)
		assert.Check(t, is.Len(data, int(r.Length)))
		assert.Check(t, bytes.Count(data, []byte{0}) == 0)
	}
	assert.Check(t, is.DeepEqual(got, sparseMap.Segments(sparseFileSize)))
}

func TestReaderPhysicalRead(t *testing.T) {
	d := dialects[len(dialects)-1]
	tr, err := NewReader(bytes.NewReader(d.build(t, d.fixtures())), Config{})
	assert.NilError(t, err)
	for {
		hdr, err := tr.Next()
		assert.NilError(t, err)
		if hdr.IsSparse() {
			break
		}
	}
	data, err := io.ReadAll(tr)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(data, sparse.Condense(sparseContent(), sparseMap)))
}

// The skipped remainder of an entry must not leak into the next one.
func TestReaderNextSkipsUnread(t *testing.T) {
	d := dialects[1]
	tr, err := NewReader(bytes.NewReader(d.build(t, d.fixtures())), Config{})
	assert.NilError(t, err)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		names = append(names, hdr.Name)
		if hdr.Size > 0 {
			var b [3]byte
			_, err := io.ReadFull(tr, b[:])
			assert.NilError(t, err)
		}
	}
	assert.Check(t, is.DeepEqual(names, []string{"dir/", "dir/file.txt", "dir/hard", "dir/sym", "dir/fifo", "dir/sparse.img"}))
}

func TestReaderZeroBlockThenEOF(t *testing.T) {
	tr, err := NewReader(bytes.NewReader(make([]byte, tarheader.BlockSize)), Config{})
	assert.NilError(t, err)
	_, err = tr.Next()
	assert.Check(t, is.Equal(err, io.EOF))
}

func TestReaderEmptyInput(t *testing.T) {
	tr, err := NewReader(bytes.NewReader(nil), Config{})
	assert.NilError(t, err)
	_, err = tr.Next()
	assert.Check(t, is.Equal(err, io.EOF))
}

func TestReaderTruncated(t *testing.T) {
	archive := dialects[1].build(t, commonFixtures()[:2])
	// two headers and a data block, then 511 garbage bytes where the
	// trailer was
	archive = archive[:3*tarheader.BlockSize]
	archive = append(archive, bytes.Repeat([]byte{0xa5}, tarheader.BlockSize-1)...)

	tr, err := NewReader(bytes.NewReader(archive), Config{})
	assert.NilError(t, err)
	_, err = tr.Next()
	assert.NilError(t, err)
	_, err = tr.Next()
	assert.NilError(t, err)
	_, err = tr.Next()

	var herr *tarheader.HeaderError
	assert.Assert(t, errors.As(err, &herr))
	assert.Check(t, is.ErrorIs(err, tarheader.ErrTruncated))
	assert.Check(t, is.ErrorIs(err, io.ErrUnexpectedEOF))
	assert.Check(t, cerrdefs.IsDataLoss(err))
	assert.Check(t, !herr.Recoverable())

	// sticky
	_, err = tr.Next()
	assert.Check(t, is.ErrorIs(err, tarheader.ErrTruncated))
}

func TestReaderTruncatedData(t *testing.T) {
	hdr := baseHeader(tarheader.TypeReg, "big", 0o644)
	hdr.Size = 2000
	archive := dialects[1].build(t, []fixture{{hdr: hdr, data: bytes.Repeat([]byte("x"), 2000)}})
	archive = archive[:tarheader.BlockSize+1000]

	tr, err := NewReader(bytes.NewReader(archive), Config{})
	assert.NilError(t, err)
	_, err = tr.Next()
	assert.NilError(t, err)
	_, err = io.ReadAll(tr)
	assert.Check(t, is.ErrorIs(err, tarheader.ErrTruncated))
}

func TestReaderChecksumResync(t *testing.T) {
	archive := dialects[1].build(t, commonFixtures()[:3])
	// corrupt the header of dir/file.txt
	archive[tarheader.BlockSize+10] ^= 0xff

	tr, err := NewReader(bytes.NewReader(archive), Config{})
	assert.NilError(t, err)
	hdr, err := tr.Next()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(hdr.Name, "dir/"))

	var errs int
	for {
		hdr, err = tr.Next()
		if err == nil {
			break
		}
		var herr *tarheader.HeaderError
		assert.Assert(t, errors.As(err, &herr))
		assert.Assert(t, herr.Recoverable())
		assert.Check(t, cerrdefs.IsInvalidArgument(err))
		errs++
	}
	assert.Check(t, errs >= 1)
	assert.Check(t, is.Equal(hdr.Name, "dir/hard"))
	_, err = tr.Next()
	assert.Check(t, is.Equal(err, io.EOF))
}

func TestReaderLongNameLimit(t *testing.T) {
	d := dialects[2] // gnu
	fs := append(commonFixtures()[:2], extendedFixtures()...)
	archive := d.build(t, fs)

	tr, err := NewReader(bytes.NewReader(archive), Config{MaxLongNameBytes: 64})
	assert.NilError(t, err)
	var names []string
	var limited int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			assert.Check(t, is.ErrorIs(err, tarheader.ErrLimitExceeded))
			assert.Check(t, cerrdefs.IsResourceExhausted(err))
			limited++
			continue
		}
		names = append(names, hdr.Name)
	}
	// both extended entries lose their long name record and are dropped
	assert.Check(t, is.Equal(limited, 2))
	assert.Check(t, is.DeepEqual(names, []string{"dir/", "dir/file.txt"}))
}

func TestReaderPAXLimit(t *testing.T) {
	var buf bytes.Buffer
	writeRaw(t, &buf, tarheader.TypeXHeader, "PaxHeaders.0/big", []byte(mustRecord(t, "comment", strings.Repeat("c", 600))))
	file := baseHeader(tarheader.TypeReg, "victim", 0o644)
	file.Format = tarheader.FormatUSTAR
	blk, err := tarheader.Encode(&file)
	assert.NilError(t, err)
	buf.Write(blk[:])
	dir := baseHeader(tarheader.TypeDir, "after/", 0o755)
	dir.Format = tarheader.FormatUSTAR
	blk, err = tarheader.Encode(&dir)
	assert.NilError(t, err)
	buf.Write(blk[:])

	tr, err := NewReader(&buf, Config{MaxPAXRecordBytes: 512})
	assert.NilError(t, err)
	_, err = tr.Next()
	assert.Check(t, is.ErrorIs(err, tarheader.ErrLimitExceeded))
	hdr, err := tr.Next()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(hdr.Name, "after/"))
	_, err = tr.Next()
	assert.Check(t, is.Equal(err, io.EOF))
}

func TestReaderSparseExtentLimit(t *testing.T) {
	for _, d := range dialects {
		if d.sparse == "" {
			continue
		}
		t.Run(d.name, func(t *testing.T) {
			archive := d.build(t, commonFixtures())
			tr, err := NewReader(bytes.NewReader(archive), Config{MaxSparseExtents: 2})
			assert.NilError(t, err)
			var names []string
			var limited int
			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					assert.Check(t, is.ErrorIs(err, tarheader.ErrLimitExceeded))
					limited++
					continue
				}
				names = append(names, hdr.Name)
			}
			assert.Check(t, is.Equal(limited, 1))
			assert.Check(t, is.Len(names, 5))
		})
	}
}

func TestReaderOldSparseExtensionBlocks(t *testing.T) {
	var m sparse.Map
	for i := int64(0); i < 30; i++ {
		m = append(m, sparse.Extent{Offset: i * 1024, Length: 10})
	}
	logical := make([]byte, 30*1024)
	for _, e := range m {
		copy(logical[e.Offset:e.End()], "0123456789")
	}
	hdr := baseHeader(tarheader.TypeReg, "many", 0o644)
	hdr.Size = int64(len(logical))

	archive := rawArchive(tarheader.FormatGNU, "old")(t, []fixture{{hdr: hdr, data: logical, m: m}})
	tr, err := NewReader(bytes.NewReader(archive), Config{})
	assert.NilError(t, err)
	got, err := tr.Next()
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(got.SparseMap, m))
	data, err := io.ReadAll(tr.Logical())
	assert.NilError(t, err)
	assert.Check(t, bytes.Equal(data, logical))
	_, err = tr.Next()
	assert.Check(t, is.Equal(err, io.EOF))
}

func TestReaderGlobalPAX(t *testing.T) {
	var buf bytes.Buffer
	writeRaw(t, &buf, tarheader.TypeXGlobalHeader, "global", []byte(mustRecord(t, "uname", "global")+mustRecord(t, "comment", "hi")))
	for _, name := range []string{"a", "b"} {
		h := baseHeader(tarheader.TypeDir, name+"/", 0o755)
		h.Format = tarheader.FormatUSTAR
		blk, err := tarheader.Encode(&h)
		assert.NilError(t, err)
		buf.Write(blk[:])
	}

	tr, err := NewReader(&buf, Config{})
	assert.NilError(t, err)
	for range 2 {
		hdr, err := tr.Next()
		assert.NilError(t, err)
		assert.Check(t, is.Equal(hdr.Uname, "global"))
		assert.Check(t, is.Equal(hdr.Format, tarheader.FormatPAX))
		assert.Check(t, is.DeepEqual(hdr.PAXRecords, []tarheader.Record{{Key: "comment", Value: "hi"}}))
	}
}

// Local pax records win over a GNU long name for the same entry.
func TestReaderOverridePrecedence(t *testing.T) {
	var buf bytes.Buffer
	writeRaw(t, &buf, tarheader.TypeGNULongName, "././@LongLink", []byte("from-gnu\x00"))
	writeRaw(t, &buf, tarheader.TypeXHeader, "PaxHeaders.0/x", []byte(mustRecord(t, "path", "from-pax")))
	h := baseHeader(tarheader.TypeDir, "from-header/", 0o755)
	h.Format = tarheader.FormatUSTAR
	blk, err := tarheader.Encode(&h)
	assert.NilError(t, err)
	buf.Write(blk[:])

	tr, err := NewReader(&buf, Config{})
	assert.NilError(t, err)
	hdr, err := tr.Next()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(hdr.Name, "from-pax"))
}

func TestNewReaderInvalidConfig(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil), Config{OutputBlockSize: 1000})
	assert.Check(t, cerrdefs.IsInvalidArgument(err))
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestReaderSourceError(t *testing.T) {
	boom := errors.New("boom")
	tr, err := NewReader(failingReader{boom}, Config{})
	assert.NilError(t, err)
	_, err = tr.Next()
	assert.Check(t, is.Equal(err, boom))
}

func mustRecord(t assert.TestingT, k, v string) string {
	rec, err := tarheader.FormatPAXRecord(k, v)
	assert.NilError(t, err)
	return rec
}
