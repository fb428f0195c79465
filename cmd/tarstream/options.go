package main

import (
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/moby/tarstream/internal/config"
)

const (
	flagConfigFile        = "config"
	flagDebug             = "debug"
	flagMaxPAXRecordBytes = "max-pax-record-bytes"
	flagMaxPAXRecords     = "max-pax-records"
	flagMaxLongNameBytes  = "max-long-name-bytes"
	flagMaxSparseExtents  = "max-sparse-extents"
	flagBlockSize         = "block-size"
	flagKeepGoing         = "keep-going"
)

// rootOptions holds the global flags and the configuration resolved from
// them before any subcommand runs.
type rootOptions struct {
	configFile        string
	debug             bool
	maxPAXRecordBytes string
	maxPAXRecords     int
	maxLongNameBytes  string
	maxSparseExtents  int
	blockSize         string
	keepGoing         bool

	cfg *config.Config
}

func (o *rootOptions) installFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.configFile, flagConfigFile, "", "Configuration file (TOML)")
	flags.BoolVarP(&o.debug, flagDebug, "D", false, "Enable debug logging")
	flags.StringVar(&o.maxPAXRecordBytes, flagMaxPAXRecordBytes, "", "Largest pax extended header accepted (e.g. 1MiB)")
	flags.IntVar(&o.maxPAXRecords, flagMaxPAXRecords, 0, "Most pax records kept for one entry or globally")
	flags.StringVar(&o.maxLongNameBytes, flagMaxLongNameBytes, "", "Largest GNU long name accepted (e.g. 64KiB)")
	flags.IntVar(&o.maxSparseExtents, flagMaxSparseExtents, 0, "Most extents accepted in one sparse map")
	flags.StringVar(&o.blockSize, flagBlockSize, "", "Record size written archives are padded to")
	flags.BoolVar(&o.keepGoing, flagKeepGoing, false, "Skip damaged entries instead of stopping")
}

// setup loads the configuration file, applies the flags that were set on
// the command line over it, and configures logging.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	logrus.SetOutput(cmd.ErrOrStderr())

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed(flagMaxPAXRecordBytes) {
		if cfg.Archive.MaxPAXRecordBytes, err = config.ParseSize(o.maxPAXRecordBytes); err != nil {
			return errors.Wrap(err, "--"+flagMaxPAXRecordBytes)
		}
	}
	if flags.Changed(flagMaxPAXRecords) {
		cfg.Archive.MaxPAXRecords = o.maxPAXRecords
	}
	if flags.Changed(flagMaxLongNameBytes) {
		if cfg.Archive.MaxLongNameBytes, err = config.ParseSize(o.maxLongNameBytes); err != nil {
			return errors.Wrap(err, "--"+flagMaxLongNameBytes)
		}
	}
	if flags.Changed(flagMaxSparseExtents) {
		cfg.Archive.MaxSparseExtents = o.maxSparseExtents
	}
	if flags.Changed(flagBlockSize) {
		n, err := config.ParseSize(o.blockSize)
		if err != nil {
			return errors.Wrap(err, "--"+flagBlockSize)
		}
		cfg.Archive.OutputBlockSize = int(n)
	}
	if flags.Changed(flagKeepGoing) {
		cfg.KeepGoing = o.keepGoing
	}
	if flags.Changed(flagDebug) {
		cfg.Debug = o.debug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}
	log.G(cmd.Context()).WithField("config", cfg.Archive).Debug("configuration loaded")
	o.cfg = cfg
	return nil
}
