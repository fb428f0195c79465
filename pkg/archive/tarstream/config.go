package tarstream

import (
	cerrdefs "github.com/containerd/errdefs"
	"github.com/pkg/errors"

	"github.com/moby/tarstream/pkg/archive/tarheader"
)

// Defaults used for zero Config fields.
const (
	DefaultMaxPAXRecordBytes = 1 << 20
	DefaultMaxPAXRecords     = 8192
	DefaultMaxLongNameBytes  = 64 << 10
	DefaultMaxSparseExtents  = 2048
	DefaultOutputBlockSize   = 20 * tarheader.BlockSize
)

// Config bounds the memory a Parser may use for metadata and sets the
// blocking of written archives.
type Config struct {
	// MaxPAXRecordBytes bounds the payload of one pax extended header, the
	// records pending for the next entry, and the global record set.
	MaxPAXRecordBytes int64
	// MaxPAXRecords bounds the number of records pending for the next entry
	// and the number of global records. GNU 0.0 sparse maps use two records
	// per extent.
	MaxPAXRecords int
	// MaxLongNameBytes bounds the payload of a GNU long name or long link.
	MaxLongNameBytes int64
	// MaxSparseExtents bounds the number of extents of one sparse map.
	MaxSparseExtents int
	// OutputBlockSize is the record size a Writer pads the archive to. It
	// must be a multiple of 512.
	OutputBlockSize int

	// InitialGlobalRecords are in effect before the first global extended
	// header of an archive is read, as if the archive started with them.
	InitialGlobalRecords []tarheader.Record
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxPAXRecordBytes: DefaultMaxPAXRecordBytes,
		MaxPAXRecords:     DefaultMaxPAXRecords,
		MaxLongNameBytes:  DefaultMaxLongNameBytes,
		MaxSparseExtents:  DefaultMaxSparseExtents,
		OutputBlockSize:   DefaultOutputBlockSize,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.MaxPAXRecordBytes < 0:
		return errors.Wrap(cerrdefs.ErrInvalidArgument, "max pax record bytes must not be negative")
	case c.MaxPAXRecords < 0:
		return errors.Wrap(cerrdefs.ErrInvalidArgument, "max pax records must not be negative")
	case c.MaxLongNameBytes < 0:
		return errors.Wrap(cerrdefs.ErrInvalidArgument, "max long name bytes must not be negative")
	case c.MaxSparseExtents < 0:
		return errors.Wrap(cerrdefs.ErrInvalidArgument, "max sparse extents must not be negative")
	case c.OutputBlockSize < 0 || c.OutputBlockSize%tarheader.BlockSize != 0:
		return errors.Wrapf(cerrdefs.ErrInvalidArgument, "output block size %d is not a multiple of %d", c.OutputBlockSize, tarheader.BlockSize)
	}
	for _, r := range c.InitialGlobalRecords {
		if _, err := tarheader.FormatPAXRecord(r.Key, r.Value); err != nil {
			return errors.Wrapf(cerrdefs.ErrInvalidArgument, "initial global record %q: %v", r.Key, err)
		}
	}
	return nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPAXRecordBytes == 0 {
		c.MaxPAXRecordBytes = d.MaxPAXRecordBytes
	}
	if c.MaxPAXRecords == 0 {
		c.MaxPAXRecords = d.MaxPAXRecords
	}
	if c.MaxLongNameBytes == 0 {
		c.MaxLongNameBytes = d.MaxLongNameBytes
	}
	if c.MaxSparseExtents == 0 {
		c.MaxSparseExtents = d.MaxSparseExtents
	}
	if c.OutputBlockSize == 0 {
		c.OutputBlockSize = d.OutputBlockSize
	}
	return c
}
