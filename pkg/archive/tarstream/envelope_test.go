package tarstream

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/moby/tarstream/pkg/archive/compression"
)

func gzipMember(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w, err := compression.CompressStream(&buf, compression.Gzip)
	assert.NilError(t, err)
	_, err = w.Write(data)
	assert.NilError(t, err)
	assert.NilError(t, w.Close())
	return buf.Bytes()
}

func gunzip(t *testing.T, data []byte) []byte {
	z := compression.NewReader(bytes.NewReader(data))
	defer z.Close()
	env, err := z.Envelope()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(env, compression.Gzip))
	out, err := io.ReadAll(z)
	assert.NilError(t, err)
	return out
}

func TestReaderDialectsGzip(t *testing.T) {
	for _, d := range dialects {
		t.Run(d.name, func(t *testing.T) {
			archive := d.build(t, d.fixtures())
			got := readAll(t, gunzip(t, gzipMember(t, archive)), d.name != "v7")
			assert.Check(t, is.DeepEqual(got, expected(d), cmpopts.EquateEmpty()))
		})
	}
}

// An archive split across gzip members at an arbitrary offset reads as one.
func TestReaderGzipMembers(t *testing.T) {
	d := dialects[len(dialects)-1]
	archive := d.build(t, d.fixtures())
	split := 1000
	members := append(gzipMember(t, archive[:split]), gzipMember(t, archive[split:])...)

	got := readAll(t, gunzip(t, members), true)
	assert.Check(t, is.DeepEqual(got, expected(d), cmpopts.EquateEmpty()))
}
