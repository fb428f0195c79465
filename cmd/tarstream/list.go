package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/moby/tarstream/pkg/archive/tarheader"
	"github.com/moby/tarstream/pkg/archive/tarstream"
)

type listOptions struct {
	digest bool
	long   bool
	last   bool
}

func newListCommand(root *rootOptions) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:     "list [OPTIONS] [ARCHIVE]",
		Aliases: []string{"ls"},
		Short:   "List the entries of an archive",
		Args:    requiresMaxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) > 0 {
				path = args[0]
			}
			return runList(cmd, root, opts, path)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.digest, "digest", false, "Show the digest of the content of regular files")
	flags.BoolVarP(&opts.long, "long", "l", false, "Show the header dialect and pax records")
	flags.BoolVar(&opts.last, "last", false, "Show only the last version of entries stored more than once")
	return cmd
}

func runList(cmd *cobra.Command, root *rootOptions, opts listOptions, path string) error {
	cfg := root.cfg
	rc, err := openArchive(cmd, path)
	if err != nil {
		return err
	}
	defer rc.Close()

	tr, err := tarstream.NewReader(rc, cfg.Archive)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 1, ' ', 0)
	var rows listing
	err = eachEntry(cmd.Context(), tr, cfg.KeepGoing, func(hdr *tarheader.Header) error {
		fields := []string{
			modeString(hdr),
			owner(hdr),
			units.BytesSize(float64(hdr.Size)),
			hdr.ModTime.UTC().Format(time.RFC3339),
		}
		if opts.digest {
			dgst := "-"
			if hdr.EntryType() == tarheader.RegularFile {
				d, err := digest.FromReader(tr.Logical())
				if err != nil {
					return err
				}
				dgst = d.String()
			}
			fields = append(fields, dgst)
		}
		fields = append(fields, displayName(hdr))

		var row strings.Builder
		fmt.Fprintln(&row, strings.Join(fields, "\t"))
		if opts.long {
			printDetails(&row, hdr)
		}
		if !opts.last {
			_, err := io.WriteString(w, row.String())
			return err
		}
		rows.add(cleanName(hdr.Name), row.String())
		return nil
	})
	if opts.last {
		for _, row := range rows.rows {
			if row != "" {
				io.WriteString(w, row)
			}
		}
	}
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return err
}

// listing keeps the rows of a listing where a later entry replaces an
// earlier one with the same name.
type listing struct {
	rows  []string
	index map[string]int
}

func (l *listing) add(name, row string) {
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if i, ok := l.index[name]; ok {
		l.rows[i] = ""
	}
	l.index[name] = len(l.rows)
	l.rows = append(l.rows, row)
}

func printDetails(w io.Writer, hdr *tarheader.Header) {
	fmt.Fprintf(w, "    format: %s\n", hdr.Format)
	if hdr.SparseMap != nil {
		fmt.Fprintf(w, "    sparse: %s, %d bytes stored\n", hdr.SparseFormat, hdr.SparseMap.PhysicalSize())
	}
	for _, r := range hdr.PAXRecords {
		fmt.Fprintf(w, "    pax: %s=%s\n", r.Key, r.Value)
	}
}

func modeString(hdr *tarheader.Header) string {
	c := "-"
	switch hdr.EntryType() {
	case tarheader.Directory:
		c = "d"
	case tarheader.SymbolicLink:
		c = "l"
	case tarheader.HardLink:
		c = "h"
	case tarheader.Fifo:
		c = "p"
	case tarheader.CharDevice:
		c = "c"
	case tarheader.BlockDevice:
		c = "b"
	}
	return c + os.FileMode(hdr.Mode).Perm().String()[1:]
}

func owner(hdr *tarheader.Header) string {
	u, g := hdr.Uname, hdr.Gname
	if u == "" {
		u = fmt.Sprint(hdr.Uid)
	}
	if g == "" {
		g = fmt.Sprint(hdr.Gid)
	}
	return u + "/" + g
}

func displayName(hdr *tarheader.Header) string {
	name := hdr.Name
	switch hdr.EntryType() {
	case tarheader.SymbolicLink:
		name += " -> " + hdr.Linkname
	case tarheader.HardLink:
		name += " link to " + hdr.Linkname
	}
	if hdr.SparseMap != nil {
		name += fmt.Sprintf(" (sparse, %d %s)", len(hdr.SparseMap), pluralize("extent", len(hdr.SparseMap)))
	}
	return name
}
