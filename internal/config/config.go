// Package config loads the tarstream command configuration file.
package config

import (
	"os"
	"sort"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	units "github.com/docker/go-units"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/moby/tarstream/pkg/archive/compression"
	"github.com/moby/tarstream/pkg/archive/tarheader"
	"github.com/moby/tarstream/pkg/archive/tarstream"
)

// Config is the effective configuration of the tarstream command.
type Config struct {
	Archive     tarstream.Config
	Compression compression.Compression
	KeepGoing   bool
	Debug       bool
}

// fileConfig is the layout of the TOML file. Sizes are human readable
// strings such as "64KiB"; empty values keep the defaults.
type fileConfig struct {
	MaxPAXRecordBytes string            `toml:"max-pax-record-bytes"`
	MaxPAXRecords     int               `toml:"max-pax-records"`
	PAXGlobal         map[string]string `toml:"pax-global"`
	MaxLongNameBytes  string            `toml:"max-long-name-bytes"`
	MaxSparseExtents  int               `toml:"max-sparse-extents"`
	BlockSize         string            `toml:"block-size"`
	Compression       string            `toml:"compression"`
	KeepGoing         bool              `toml:"keep-going"`
	Debug             bool              `toml:"debug"`
}

var knownKeys = map[string]bool{
	"max-pax-record-bytes": true,
	"max-pax-records":      true,
	"pax-global":           true,
	"max-long-name-bytes":  true,
	"max-sparse-extents":   true,
	"block-size":           true,
	"compression":          true,
	"keep-going":           true,
	"debug":                true,
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Archive:     tarstream.DefaultConfig(),
		Compression: compression.Gzip,
	}
}

// Load reads the configuration file at path on top of the defaults. An
// empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading configuration file")
	}
	if err := cfg.Merge(data); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration file %s", path)
	}
	return cfg, nil
}

// Merge applies the TOML document in data to c. Keys that are not set keep
// their current value.
func (c *Config) Merge(data []byte) error {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return errors.Wrap(cerrdefs.ErrInvalidArgument, err.Error())
	}
	var unknown []string
	for _, k := range tree.Keys() {
		if !knownKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Wrapf(cerrdefs.ErrInvalidArgument, "unknown configuration keys: %s", strings.Join(unknown, ", "))
	}

	var f fileConfig
	if err := tree.Unmarshal(&f); err != nil {
		return errors.Wrap(cerrdefs.ErrInvalidArgument, err.Error())
	}

	if f.MaxPAXRecordBytes != "" {
		if c.Archive.MaxPAXRecordBytes, err = ParseSize(f.MaxPAXRecordBytes); err != nil {
			return errors.Wrap(err, "max-pax-record-bytes")
		}
	}
	if f.MaxPAXRecords != 0 {
		c.Archive.MaxPAXRecords = f.MaxPAXRecords
	}
	if len(f.PAXGlobal) > 0 {
		c.Archive.InitialGlobalRecords = globalRecords(f.PAXGlobal)
	}
	if f.MaxLongNameBytes != "" {
		if c.Archive.MaxLongNameBytes, err = ParseSize(f.MaxLongNameBytes); err != nil {
			return errors.Wrap(err, "max-long-name-bytes")
		}
	}
	if f.MaxSparseExtents != 0 {
		c.Archive.MaxSparseExtents = f.MaxSparseExtents
	}
	if f.BlockSize != "" {
		n, err := ParseSize(f.BlockSize)
		if err != nil {
			return errors.Wrap(err, "block-size")
		}
		c.Archive.OutputBlockSize = int(n)
	}
	if f.Compression != "" {
		if c.Compression, err = compression.Parse(f.Compression); err != nil {
			return errors.Wrap(cerrdefs.ErrInvalidArgument, err.Error())
		}
	}
	c.KeepGoing = c.KeepGoing || f.KeepGoing
	c.Debug = c.Debug || f.Debug
	return c.Validate()
}

// globalRecords turns the pax-global table into records, ordered by key.
func globalRecords(m map[string]string) []tarheader.Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	recs := make([]tarheader.Record, 0, len(keys))
	for _, k := range keys {
		recs = append(recs, tarheader.Record{Key: k, Value: m[k]})
	}
	return recs
}

// Validate checks the archive limits.
func (c *Config) Validate() error {
	return c.Archive.Validate()
}

// ParseSize parses a human readable size in binary units, such as "512",
// "10k" or "64KiB".
func ParseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, errors.Wrap(cerrdefs.ErrInvalidArgument, err.Error())
	}
	return n, nil
}
