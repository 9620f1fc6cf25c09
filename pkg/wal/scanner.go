package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"sitekv/pkg/dberrors"
	"sitekv/pkg/record"
)

// Scanner reads the log sequentially from offset 0. It sees the log as it was
// when the scanner was created.
type Scanner struct {
	ra     io.ReaderAt
	r      *bufio.Reader
	limits record.Limits
	offset int64
	size   int64
}

// NewScanner returns a scanner over [0, Size()).
func (w *WAL) NewScanner() *Scanner {
	size := w.Size()
	return &Scanner{
		ra:     w.file,
		r:      bufio.NewReaderSize(io.NewSectionReader(w.file, 0, size), w.scanBufLen),
		limits: w.limits,
		size:   size,
	}
}

// Next decodes the record at the current offset.
//
// It returns io.EOF when the scanner sits exactly at the end of the log.
// Otherwise decode failures are returned as the record package's errors
// wrapped with the offset; for a complete record that fails its checksum the
// returned Location still spans the declared record. The scanner does not
// advance past a failed record.
func (s *Scanner) Next() (record.Record, Location, error) {
	if s.offset >= s.size {
		return record.Record{}, Location{}, io.EOF
	}
	loc := Location{Offset: s.offset}

	header, err := s.r.Peek(record.HeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return record.Record{}, loc, fmt.Errorf("offset %d: %w: %d trailing bytes", s.offset, record.ErrTruncated, len(header))
		}
		return record.Record{}, loc, fmt.Errorf("%w: scan at offset %d: %w", dberrors.ErrIO, s.offset, err)
	}

	size, err := record.Size(header, s.limits)
	if err != nil {
		return record.Record{}, loc, fmt.Errorf("offset %d: %w", s.offset, err)
	}
	loc.Size = uint32(size)

	if int64(size) > s.size-s.offset {
		// A torn tail is cut before the next append, so nothing valid can
		// follow it. A record that does follow means the length is damaged.
		next, err := s.findRecord(s.offset + 1)
		if err != nil {
			return record.Record{}, loc, err
		}
		if next >= 0 {
			return record.Record{}, loc, fmt.Errorf("offset %d: %w: declares %d bytes past the end of the log, valid record found at offset %d",
				s.offset, record.ErrBadLength, size, next)
		}
		return record.Record{}, loc, fmt.Errorf("offset %d: %w: record needs %d bytes, %d left",
			s.offset, record.ErrTruncated, size, s.size-s.offset)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return record.Record{}, loc, fmt.Errorf("offset %d: %w", s.offset, record.ErrTruncated)
		}
		return record.Record{}, loc, fmt.Errorf("%w: scan at offset %d: %w", dberrors.ErrIO, s.offset, err)
	}

	rec, err := record.Decode(buf, s.limits)
	if err != nil {
		return record.Record{}, loc, fmt.Errorf("offset %d: %w", s.offset, err)
	}

	s.offset += int64(size)
	return rec, loc, nil
}

// Offset is the start of the next record to be read.
func (s *Scanner) Offset() int64 {
	return s.offset
}

// Size is the length of the log the scanner covers.
func (s *Scanner) Size() int64 {
	return s.size
}

// RestIsZero reports whether every byte from the current offset to the end is
// zero. A filesystem may extend a file before the data block reaches disk, so
// a zero-filled tail is an unwritten tail, not a damaged record.
func (s *Scanner) RestIsZero() (bool, error) {
	buf := make([]byte, 32<<10)
	for off := s.offset; off < s.size; {
		n := int64(len(buf))
		if rest := s.size - off; rest < n {
			n = rest
		}
		if _, err := s.ra.ReadAt(buf[:n], off); err != nil {
			return false, fmt.Errorf("%w: read at offset %d: %w", dberrors.ErrIO, off, err)
		}
		for _, b := range buf[:n] {
			if b != 0 {
				return false, nil
			}
		}
		off += n
	}
	return true, nil
}

// findRecord returns the offset of the first complete, checksum-valid record
// starting at or after from, or -1 if there is none.
func (s *Scanner) findRecord(from int64) (int64, error) {
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], record.Magic)

	const chunk = 32 << 10
	buf := make([]byte, chunk+len(magic)-1)
	minRecord := int64(record.HeaderSize + record.TrailerSize)

	for off := from; off+minRecord <= s.size; off += chunk {
		n := int64(len(buf))
		if rest := s.size - off; rest < n {
			n = rest
		}
		if _, err := s.ra.ReadAt(buf[:n], off); err != nil {
			return -1, fmt.Errorf("%w: read at offset %d: %w", dberrors.ErrIO, off, err)
		}

		for i := 0; ; {
			j := bytes.Index(buf[i:n], magic[:])
			if j < 0 {
				break
			}
			pos := off + int64(i+j)
			ok, err := s.validAt(pos)
			if err != nil {
				return -1, err
			}
			if ok {
				return pos, nil
			}
			i += j + 1
		}
	}
	return -1, nil
}

// validAt reports whether a complete record that passes its checksum starts
// at off.
func (s *Scanner) validAt(off int64) (bool, error) {
	if off+record.HeaderSize > s.size {
		return false, nil
	}
	header := make([]byte, record.HeaderSize)
	if _, err := s.ra.ReadAt(header, off); err != nil {
		return false, fmt.Errorf("%w: read at offset %d: %w", dberrors.ErrIO, off, err)
	}
	size, err := record.Size(header, s.limits)
	if err != nil || int64(size) > s.size-off {
		return false, nil
	}

	buf := make([]byte, size)
	if _, err := s.ra.ReadAt(buf, off); err != nil {
		return false, fmt.Errorf("%w: read at offset %d: %w", dberrors.ErrIO, off, err)
	}
	_, err = record.Decode(buf, s.limits)
	return err == nil, nil
}
