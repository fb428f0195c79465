package main

import (
	"io"
	"path"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/moby/tarstream/pkg/archive/tarheader"
	"github.com/moby/tarstream/pkg/archive/tarstream"
)

var errFound = errors.New("entry found")

func newCatCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat ARCHIVE ENTRY",
		Short: "Write the content of an entry to standard output",
		Long:  "Write the content of an entry to standard output, with the holes of sparse files filled with zeros.",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCat(cmd, root, args[0], args[1])
		},
	}
}

func runCat(cmd *cobra.Command, root *rootOptions, archive, name string) error {
	cfg := root.cfg
	rc, err := openArchive(cmd, archive)
	if err != nil {
		return err
	}
	defer rc.Close()

	tr, err := tarstream.NewReader(rc, cfg.Archive)
	if err != nil {
		return err
	}

	want := cleanName(name)
	err = eachEntry(cmd.Context(), tr, cfg.KeepGoing, func(hdr *tarheader.Header) error {
		if cleanName(hdr.Name) != want {
			return nil
		}
		if hdr.EntryType() != tarheader.RegularFile {
			return errors.Wrapf(cerrdefs.ErrInvalidArgument, "%s is a %s, not a regular file", hdr.Name, hdr.EntryType())
		}
		if _, err := io.Copy(cmd.OutOrStdout(), tr.Logical()); err != nil {
			return err
		}
		return errFound
	})
	switch {
	case errors.Is(err, errFound):
		return nil
	case err != nil:
		return err
	}
	return errors.Wrapf(cerrdefs.ErrNotFound, "%s: no such entry in %s", name, archive)
}

// cleanName drops "./" prefixes and trailing slashes.
func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}
