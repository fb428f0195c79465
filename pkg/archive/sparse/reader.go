package sparse

import "io"

// NewReader returns a reader that expands the condensed data read from r
// into the logical file of the given size, producing zeros for the holes
// between the extents of m. r must yield exactly m.PhysicalSize() bytes;
// running out early is reported as io.ErrUnexpectedEOF.
func NewReader(r io.Reader, m Map, size int64) io.Reader {
	return &expander{r: r, m: m, size: size}
}

type expander struct {
	r    io.Reader
	m    Map
	size int64
	pos  int64
}

func (e *expander) Read(b []byte) (int, error) {
	for len(e.m) > 0 && e.pos >= e.m[0].End() {
		e.m = e.m[1:]
	}
	if e.pos >= e.size {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	if len(e.m) == 0 || e.pos < e.m[0].Offset {
		end := e.size
		if len(e.m) > 0 {
			end = e.m[0].Offset
		}
		n := len(b)
		if int64(n) > end-e.pos {
			n = int(end - e.pos)
		}
		clear(b[:n])
		e.pos += int64(n)
		return n, nil
	}

	want := len(b)
	if left := e.m[0].End() - e.pos; int64(want) > left {
		want = int(left)
	}
	n, err := e.r.Read(b[:want])
	e.pos += int64(n)
	if err == io.EOF {
		if e.pos < e.m[0].End() {
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}
