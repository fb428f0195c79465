package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
)

// stagedFile is an output file written into a write set next to its
// destination. The destination is only replaced by commit; cancel leaves it
// untouched.
type stagedFile struct {
	io.WriteCloser
	ws   *atomicwriter.WriteSet
	name string
	dest string
}

func createStaged(dest string, perm os.FileMode) (*stagedFile, error) {
	ws, err := atomicwriter.NewWriteSet(filepath.Dir(dest))
	if err != nil {
		return nil, err
	}
	base := filepath.Base(dest)
	w, err := ws.FileWriter(base, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		ws.Cancel()
		return nil, err
	}
	return &stagedFile{
		WriteCloser: w,
		ws:          ws,
		name:        filepath.Join(ws.String(), base),
		dest:        dest,
	}, nil
}

// commit syncs the staged file and moves it over the destination.
func (s *stagedFile) commit() error {
	defer s.ws.Cancel()
	if err := s.WriteCloser.Close(); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(s.name, s.dest), "failed to move output into place")
}

// cancel discards the staged file.
func (s *stagedFile) cancel() error {
	s.WriteCloser.Close()
	return s.ws.Cancel()
}
