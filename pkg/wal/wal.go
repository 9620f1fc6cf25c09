package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"sitekv/pkg/dberrors"
	"sitekv/pkg/record"
)

// Location is where a record lives in the log.
type Location struct {
	Offset int64
	Size   uint32
}

// End is the offset right after the record.
func (l Location) End() int64 {
	return l.Offset + int64(l.Size)
}

// Options configures a WAL.
type Options struct {
	Limits record.Limits
	// ScanBufferSize is the read buffer of sequential scanners. Zero means 64 KiB.
	ScanBufferSize int
}

// iFile is the part of *os.File the log uses.
type iFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

// WAL is a single append-only log file.
//
// Appends, syncs and truncations are serialized by the WAL's own mutex.
// ReadAt takes no lock: a returned Location always points at bytes that are
// already written and are never rewritten.
type WAL struct {
	mu     sync.Mutex
	file   iFile
	path   string
	end    int64
	closed atomic.Bool

	limits     record.Limits
	scanBufLen int
}

// Open opens or creates the log file at path. The logical end of the log is
// the current file size; recovery may shorten it later with Truncate.
func Open(path string, opts Options) (*WAL, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty WAL path", dberrors.ErrInvalidArgument)
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	// O_APPEND is not used: appends go through WriteAt at the logical end so a
	// torn tail can be overwritten after recovery.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	return newWAL(file, path, info.Size(), opts), nil
}

func newWAL(file iFile, path string, end int64, opts Options) *WAL {
	scanBufLen := opts.ScanBufferSize
	if scanBufLen <= 0 {
		scanBufLen = 64 << 10
	}

	return &WAL{
		file:       file,
		path:       path,
		end:        end,
		limits:     opts.Limits,
		scanBufLen: scanBufLen,
	}
}

// Append writes r at the end of the log and returns where it landed. The data
// is not durable until Sync returns.
func (w *WAL) Append(r record.Record) (Location, error) {
	data, err := record.Encode(r, w.limits)
	if err != nil {
		return Location{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return Location{}, dberrors.ErrClosed
	}

	off := w.end
	n, err := w.file.WriteAt(data, off)
	if err != nil {
		if n > 0 {
			// Drop the partial record so the next append starts clean. If
			// that fails the bytes stay counted, so Size reports them and a
			// later Truncate can still cut them.
			if terr := w.file.Truncate(off); terr != nil {
				w.end += int64(n)
				return Location{}, fmt.Errorf("%w: append at offset %d: %w, %d partial bytes left: %w",
					dberrors.ErrIO, off, err, n, terr)
			}
		}
		return Location{}, fmt.Errorf("%w: append at offset %d: %w", dberrors.ErrIO, off, err)
	}

	w.end += int64(n)
	return Location{Offset: off, Size: uint32(n)}, nil
}

// Sync flushes written records to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return dberrors.ErrClosed
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync WAL: %w", dberrors.ErrIO, err)
	}
	return nil
}

// Truncate cuts the log back to size bytes and syncs. It is used to drop a
// torn tail after recovery and to void an append whose sync failed.
func (w *WAL) Truncate(size int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return dberrors.ErrClosed
	}
	if size < 0 || size > w.end {
		return fmt.Errorf("%w: truncate to %d, log end is %d", dberrors.ErrInvalidArgument, size, w.end)
	}
	if err := w.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: failed to truncate WAL: %w", dberrors.ErrIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync WAL after truncate: %w", dberrors.ErrIO, err)
	}

	w.end = size
	return nil
}

// ReadAt reads and decodes the record at loc.
func (w *WAL) ReadAt(loc Location) (record.Record, error) {
	if w.closed.Load() {
		return record.Record{}, dberrors.ErrClosed
	}

	buf := make([]byte, loc.Size)
	if _, err := w.file.ReadAt(buf, loc.Offset); err != nil {
		if errors.Is(err, io.EOF) {
			return record.Record{}, fmt.Errorf("%w: short read at offset %d", dberrors.ErrIO, loc.Offset)
		}
		return record.Record{}, fmt.Errorf("%w: read at offset %d: %w", dberrors.ErrIO, loc.Offset, err)
	}

	rec, err := record.Decode(buf, w.limits)
	if err != nil {
		return record.Record{}, fmt.Errorf("offset %d: %w", loc.Offset, err)
	}
	if rec.EncodedSize() != int(loc.Size) {
		return record.Record{}, fmt.Errorf("%w: record at offset %d is %d bytes, index says %d",
			dberrors.ErrCorrupted, loc.Offset, rec.EncodedSize(), loc.Size)
	}
	return rec, nil
}

// Size is the logical end of the log.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.end
}

// Section returns a reader over [0, Size()) as of the call. Those bytes are
// never rewritten, so it stays valid while the log grows.
func (w *WAL) Section() *io.SectionReader {
	return io.NewSectionReader(w.file, 0, w.Size())
}

func (w *WAL) Path() string {
	return w.path
}

// Close syncs and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed.CompareAndSwap(false, true) {
		return dberrors.ErrClosed
	}

	syncErr := w.file.Sync()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("%w: failed to sync WAL on close: %w", dberrors.ErrIO, syncErr)
	}
	return nil
}
