package record

import (
	"errors"
	"fmt"

	"sitekv/pkg/dberrors"
)

var (
	// ErrTruncated means there are not enough bytes to even attempt a decode.
	// At the end of a log this is the signature of an interrupted write.
	ErrTruncated = errors.New("record: truncated")

	// The errors below all match dberrors.ErrCorrupted.
	ErrChecksumMismatch = fmt.Errorf("%w: record checksum mismatch", dberrors.ErrCorrupted)
	ErrBadMagic         = fmt.Errorf("%w: bad record magic", dberrors.ErrCorrupted)
	ErrBadVersion       = fmt.Errorf("%w: unsupported record version", dberrors.ErrCorrupted)
	ErrBadFlags         = fmt.Errorf("%w: bad record flags", dberrors.ErrCorrupted)
	ErrBadLength        = fmt.Errorf("%w: record length out of range", dberrors.ErrCorrupted)
)
