package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/moby/tarstream/pkg/archive/compression"
	"github.com/moby/tarstream/pkg/archive/tarheader"
	"github.com/moby/tarstream/pkg/archive/tarstream"
	"github.com/moby/tarstream/pkg/ioutils"
)

// openArchive opens the archive at path, "-" meaning standard input, and
// removes its compression envelope.
func openArchive(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	var src io.ReadCloser
	if path == "-" {
		src = io.NopCloser(cmd.InOrStdin())
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		src = f
	}

	rc, err := compression.DecompressStream(src)
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, path)
	}
	return ioutils.NewReadCloserWrapper(rc, func() error {
		err := rc.Close()
		if cerr := src.Close(); err == nil {
			err = cerr
		}
		return err
	}), nil
}

// skippedError reports entries left out under --keep-going.
type skippedError int

func (n skippedError) Error() string {
	return fmt.Sprintf("%d damaged %s skipped", int(n), pluralize("entry", int(n)))
}

// eachEntry calls fn for every entry of the archive. A damaged entry ends
// the walk unless keepGoing is set, in which case it is logged and counted
// and the walk ends with a skippedError.
func eachEntry(ctx context.Context, tr *tarstream.Reader, keepGoing bool, fn func(*tarheader.Header) error) error {
	var skipped int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var herr *tarheader.HeaderError
			if keepGoing && errors.As(err, &herr) && herr.Recoverable() {
				log.G(ctx).WithError(err).Warn("skipping damaged entry")
				skipped++
				continue
			}
			return err
		}
		if err := fn(hdr); err != nil {
			return err
		}
	}
	if skipped > 0 {
		return skippedError(skipped)
	}
	return nil
}
