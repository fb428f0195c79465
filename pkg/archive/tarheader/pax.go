package tarheader

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Keys of pax extended header records that override header fields.
const (
	PAXPath     = "path"
	PAXLinkpath = "linkpath"
	PAXSize     = "size"
	PAXUid      = "uid"
	PAXGid      = "gid"
	PAXUname    = "uname"
	PAXGname    = "gname"
	PAXMtime    = "mtime"
	PAXAtime    = "atime"
	PAXCtime    = "ctime"
)

// Keys used by GNU tar to describe sparse files.
const (
	PAXGNUSparse          = "GNU.sparse."
	PAXGNUSparseNumBlocks = "GNU.sparse.numblocks"
	PAXGNUSparseOffset    = "GNU.sparse.offset"
	PAXGNUSparseNumBytes  = "GNU.sparse.numbytes"
	PAXGNUSparseMap       = "GNU.sparse.map"
	PAXGNUSparseName      = "GNU.sparse.name"
	PAXGNUSparseMajor     = "GNU.sparse.major"
	PAXGNUSparseMinor     = "GNU.sparse.minor"
	PAXGNUSparseSize      = "GNU.sparse.size"
	PAXGNUSparseRealSize  = "GNU.sparse.realsize"
)

// Record is one "key=value" pax record. Records are kept in the order they
// appear because GNU sparse 0.0 repeats keys.
type Record struct {
	Key   string
	Value string
}

// ParsePAXRecords parses the payload of a pax extended header: a sequence
// of "%d %s=%s\n" records where the leading decimal is the length of the
// whole record.
func ParsePAXRecords(b []byte) ([]Record, error) {
	var recs []Record
	for len(b) > 0 {
		// tolerate NUL padding some writers leave after the last record
		if len(bytes.Trim(b, "\x00")) == 0 {
			break
		}
		sp := bytes.IndexByte(b, ' ')
		if sp <= 0 || sp > 20 {
			return nil, errors.New("missing record length")
		}
		n, err := strconv.ParseInt(string(b[:sp]), 10, 0)
		if err != nil || n <= int64(sp)+1 || n > int64(len(b)) {
			return nil, errors.Errorf("bad record length %q", b[:sp])
		}
		rec := b[sp+1 : n]
		b = b[n:]
		if rec[len(rec)-1] != '\n' {
			return nil, errors.New("record not terminated by newline")
		}
		k, v, ok := strings.Cut(string(rec[:len(rec)-1]), "=")
		if !ok || k == "" {
			return nil, errors.Errorf("bad record %q", rec)
		}
		recs = append(recs, Record{Key: k, Value: v})
	}
	return recs, nil
}

// FormatPAXRecord formats a single record, computing the self-inclusive
// length prefix.
func FormatPAXRecord(k, v string) (string, error) {
	if k == "" || strings.ContainsAny(k, "=\n\x00") {
		return "", errors.Errorf("invalid pax key %q", k)
	}
	const padding = 3 // extra padding for ' ', '=', and '\n'
	size := len(k) + len(v) + padding
	size += len(strconv.Itoa(size))
	record := strconv.Itoa(size) + " " + k + "=" + v + "\n"

	// Final adjustment if adding size field increased the record size.
	if len(record) != size {
		size = len(record)
		record = strconv.Itoa(size) + " " + k + "=" + v + "\n"
	}
	return record, nil
}

// ParsePAXTime parses a pax timestamp: decimal seconds since the epoch with
// an optional fractional part.
func ParsePAXTime(s string) (time.Time, error) {
	ss, sn, _ := strings.Cut(s, ".")
	secs, err := strconv.ParseInt(ss, 10, 64)
	if err != nil {
		return time.Time{}, errors.Errorf("bad timestamp %q", s)
	}
	if sn == "" {
		return time.Unix(secs, 0), nil
	}
	if strings.Trim(sn, "0123456789") != "" {
		return time.Time{}, errors.Errorf("bad timestamp %q", s)
	}
	if len(sn) < 9 {
		sn += strings.Repeat("0", 9-len(sn))
	} else {
		sn = sn[:9]
	}
	nsecs, _ := strconv.ParseInt(sn, 10, 64)
	if len(ss) > 0 && ss[0] == '-' {
		return time.Unix(secs, -nsecs), nil
	}
	return time.Unix(secs, nsecs), nil
}

// FormatPAXTime formats t as a pax timestamp, omitting the fraction when it
// is zero.
func FormatPAXTime(t time.Time) string {
	secs, nsecs := t.Unix(), t.Nanosecond()
	if nsecs == 0 {
		return strconv.FormatInt(secs, 10)
	}
	sign := ""
	if secs < 0 {
		sign = "-"
		secs = -(secs + 1)
		nsecs = -(nsecs - 1e9)
	}
	return strings.TrimRight(sign+strconv.FormatInt(secs, 10)+"."+fmtNanos(nsecs), "0")
}

func fmtNanos(n int) string {
	s := strconv.Itoa(n)
	return strings.Repeat("0", 9-len(s)) + s
}

// parsePAXInt parses a non-negative decimal pax value.
func parsePAXInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Errorf("bad value %q", s)
	}
	return n, nil
}

var knownKeys = map[string]bool{
	PAXPath: true, PAXLinkpath: true, PAXSize: true,
	PAXUid: true, PAXGid: true, PAXUname: true, PAXGname: true,
	PAXMtime: true, PAXAtime: true, PAXCtime: true,
}

// ApplyPAX overrides the fields of h with the known keys in recs. Unknown
// keys, and GNU sparse keys, are left for the caller; they are returned in
// order.
func ApplyPAX(h *Header, recs []Record) ([]Record, error) {
	var rest []Record
	for _, r := range recs {
		if r.Value == "" && knownKeys[r.Key] {
			// an empty value removes the override
			continue
		}
		var err error
		switch r.Key {
		case PAXPath:
			h.Name = r.Value
		case PAXLinkpath:
			h.Linkname = r.Value
		case PAXUname:
			h.Uname = r.Value
		case PAXGname:
			h.Gname = r.Value
		case PAXSize:
			var n int64
			if n, err = parsePAXInt(r.Value); err == nil && n > MaxSize {
				err = errors.Errorf("bad value %q", r.Value)
			}
			if err == nil {
				h.Size = n
			}
		case PAXUid:
			var n int64
			n, err = parsePAXInt(r.Value)
			if err == nil && n > math.MaxInt32 {
				err = errors.Errorf("bad value %q", r.Value)
			}
			h.Uid = int(n)
		case PAXGid:
			var n int64
			n, err = parsePAXInt(r.Value)
			if err == nil && n > math.MaxInt32 {
				err = errors.Errorf("bad value %q", r.Value)
			}
			h.Gid = int(n)
		case PAXMtime:
			h.ModTime, err = ParsePAXTime(r.Value)
		case PAXAtime:
			h.AccessTime, err = ParsePAXTime(r.Value)
		case PAXCtime:
			h.ChangeTime, err = ParsePAXTime(r.Value)
		default:
			rest = append(rest, r)
		}
		if err != nil {
			return nil, newError(ErrMalformedPAX, r.Key, -1, err)
		}
	}
	return rest, nil
}
