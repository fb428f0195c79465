package main

import (
	"io"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/moby/tarstream/pkg/archive/compression"
	"github.com/moby/tarstream/pkg/archive/tarheader"
	"github.com/moby/tarstream/pkg/archive/tarstream"
)

type convertOptions struct {
	compression string
}

func newConvertCommand(root *rootOptions) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert [OPTIONS] INPUT OUTPUT",
		Short: "Rewrite an archive in pax format",
		Long: "Rewrite an archive in pax format. Sparse files are stored in the GNU 1.0 sparse format.\n" +
			"Use \"-\" to read from standard input or write to standard output.",
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, root, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.compression, "compression", "c", "gzip", "Compression of the output (none, gzip, zlib, deflate, xz, zstd)")
	return cmd
}

func runConvert(cmd *cobra.Command, root *rootOptions, opts convertOptions, input, output string) (retErr error) {
	cfg := root.cfg
	comp := cfg.Compression
	if cmd.Flags().Changed("compression") {
		var err error
		if comp, err = compression.Parse(opts.compression); err != nil {
			return err
		}
	}

	rc, err := openArchive(cmd, input)
	if err != nil {
		return err
	}
	defer rc.Close()

	tr, err := tarstream.NewReader(rc, cfg.Archive)
	if err != nil {
		return err
	}

	var dst io.Writer = cmd.OutOrStdout()
	if output != "-" {
		f, err := createStaged(output, 0o644)
		if err != nil {
			return err
		}
		defer func() {
			if retErr != nil {
				f.cancel()
				return
			}
			retErr = f.commit()
		}()
		dst = f
	}

	cw, err := compression.CompressStream(dst, comp)
	if err != nil {
		return err
	}
	tw, err := tarstream.NewWriter(cw, cfg.Archive)
	if err != nil {
		cw.Close()
		return err
	}

	var entries int
	err = eachEntry(cmd.Context(), tr, cfg.KeepGoing, func(hdr *tarheader.Header) error {
		h := *hdr
		if err := tw.BeginEntry(&h, hdr.SparseMap); err != nil {
			return err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return err
		}
		entries++
		return tw.FinishEntry()
	})
	var skipped skippedError
	if err != nil && !errors.As(err, &skipped) {
		cw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}

	log.G(cmd.Context()).WithFields(log.Fields{
		"entries":     entries,
		"compression": comp,
	}).Debug("archive converted")
	if skipped > 0 {
		log.G(cmd.Context()).Warnf("%s, output written without them", skipped)
	}
	return nil
}
