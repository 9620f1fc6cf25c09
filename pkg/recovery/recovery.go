// Package recovery rebuilds the in-memory index from the log at startup.
//
// Replay is read-only. It reports where the last valid record ends; the
// caller decides whether to cut the log there.
package recovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"sitekv/pkg/dberrors"
	"sitekv/pkg/index"
	"sitekv/pkg/record"
	"sitekv/pkg/wal"
)

type iScanner interface {
	Next() (record.Record, wal.Location, error)
	Offset() int64
	Size() int64
	RestIsZero() (bool, error)
}

// Source is a log that can be scanned from the start.
type Source interface {
	NewScanner() *wal.Scanner
}

// Result describes a finished replay.
type Result struct {
	// End is the offset right after the last valid record.
	End     int64
	Records int
	Sets    int
	Deletes int
	// Truncated is set when the log ends in a torn record. DroppedBytes is
	// the size of that tail.
	Truncated    bool
	DroppedBytes int64
}

// Replay scans src from offset 0 and applies every record to idx the same way
// live writes do. idx should be empty.
//
// A record cut short at the end of the log stops the scan without error, as
// does a complete final record that fails its checksum or a zero-filled tail.
// Any other damage is returned as an error matching dberrors.ErrCorrupted.
func Replay(src Source, idx *index.Index) (Result, error) {
	return replay(src.NewScanner(), idx)
}

func replay(sc iScanner, idx *index.Index) (Result, error) {
	var res Result

	for {
		rec, loc, err := sc.Next()
		if err == nil {
			Apply(idx, rec, loc)
			res.Records++
			if rec.IsTombstone() {
				res.Deletes++
			} else {
				res.Sets++
			}
			continue
		}

		res.End = sc.Offset()
		if errors.Is(err, io.EOF) {
			return res, nil
		}

		torn, cerr := tornTail(sc, loc, err)
		if cerr != nil {
			return res, cerr
		}
		if !torn {
			return res, fmt.Errorf("%w: replay stopped at offset %d of %d: %w",
				dberrors.ErrCorrupted, res.End, sc.Size(), err)
		}

		res.Truncated = true
		res.DroppedBytes = sc.Size() - res.End
		slog.Warn("WAL ends in an incomplete record, discarding tail",
			"offset", res.End,
			"dropped_bytes", res.DroppedBytes,
			"records", res.Records,
			"error", err,
		)
		return res, nil
	}
}

// tornTail decides whether a scan error at the current offset is the residue
// of an interrupted write rather than damage inside the log.
func tornTail(sc iScanner, loc wal.Location, err error) (bool, error) {
	switch {
	case errors.Is(err, record.ErrTruncated):
		return true, nil
	case errors.Is(err, record.ErrChecksumMismatch):
		// Only the very last record may be half-written.
		return loc.End() == sc.Size(), nil
	case errors.Is(err, dberrors.ErrCorrupted):
		zero, zerr := sc.RestIsZero()
		if zerr != nil {
			return false, zerr
		}
		return zero, nil
	default:
		return false, err
	}
}

// Apply installs the effect of rec, stored at loc, on idx. Live writes and
// replay both go through it.
func Apply(idx *index.Index, rec record.Record, loc wal.Location) {
	if rec.IsTombstone() {
		idx.Remove(rec.Tenant, rec.Key)
		return
	}
	idx.Upsert(rec.Tenant, rec.Key, index.Entry{
		Offset:    loc.Offset,
		Size:      loc.Size,
		ValueSize: uint32(len(rec.Value)),
	})
}
