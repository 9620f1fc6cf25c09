package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"sitekv/pkg/dberrors"
	"sitekv/pkg/record"
)

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "store.wal")
	w, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func TestAppendReadAt(t *testing.T) {
	w, _ := openTestWAL(t)

	var locs []Location
	for i := 0; i < 10; i++ {
		loc, err := w.Append(record.Set("alice", fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i))))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if len(locs) > 0 && loc.Offset != locs[len(locs)-1].End() {
			t.Fatalf("record %d at offset %d, expected %d", i, loc.Offset, locs[len(locs)-1].End())
		}
		locs = append(locs, loc)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if w.Size() != locs[len(locs)-1].End() {
		t.Fatalf("size %d, expected %d", w.Size(), locs[len(locs)-1].End())
	}

	for i, loc := range locs {
		rec, err := w.ReadAt(loc)
		if err != nil {
			t.Fatalf("ReadAt(%d) failed: %v", i, err)
		}
		if rec.Key != fmt.Sprintf("key-%d", i) || string(rec.Value) != fmt.Sprintf("value-%d", i) {
			t.Fatalf("record %d = %+v", i, rec)
		}
	}
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	w, _ := openTestWAL(t)

	if _, err := w.Append(record.Set("", "k", nil)); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if w.Size() != 0 {
		t.Fatalf("rejected append grew the log to %d bytes", w.Size())
	}
}

func TestReopenKeepsEnd(t *testing.T) {
	w, path := openTestWAL(t)

	loc, err := w.Append(record.Set("alice", "foo", []byte("bar")))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	w2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer w2.Close()

	if w2.Size() != loc.End() {
		t.Fatalf("reopened size %d, expected %d", w2.Size(), loc.End())
	}

	next, err := w2.Append(record.Delete("alice", "foo"))
	if err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	if next.Offset != loc.End() {
		t.Fatalf("append after reopen at %d, expected %d", next.Offset, loc.End())
	}
}

func TestTruncate(t *testing.T) {
	w, path := openTestWAL(t)

	first, _ := w.Append(record.Set("alice", "a", []byte("1")))
	if _, err := w.Append(record.Set("alice", "b", []byte("2"))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := w.Truncate(first.End()); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if w.Size() != first.End() {
		t.Fatalf("size after truncate %d, expected %d", w.Size(), first.End())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != first.End() {
		t.Fatalf("file size %d, expected %d", info.Size(), first.End())
	}

	if err := w.Truncate(first.End() + 1); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument when growing, got %v", err)
	}

	next, err := w.Append(record.Set("alice", "c", []byte("3")))
	if err != nil {
		t.Fatalf("Append after truncate failed: %v", err)
	}
	if next.Offset != first.End() {
		t.Fatalf("append after truncate at %d, expected %d", next.Offset, first.End())
	}
}

func TestScanner(t *testing.T) {
	w, _ := openTestWAL(t)

	want := []record.Record{
		record.Set("alice", "foo", []byte("bar")),
		record.Set("bob", "x", nil),
		record.Delete("alice", "foo"),
	}
	for _, r := range want {
		if _, err := w.Append(r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	sc := w.NewScanner()
	for i, exp := range want {
		rec, loc, err := sc.Next()
		if err != nil {
			t.Fatalf("Next(%d) failed: %v", i, err)
		}
		if rec.Flags != exp.Flags || rec.Tenant != exp.Tenant || rec.Key != exp.Key {
			t.Fatalf("record %d = %+v, expected %+v", i, rec, exp)
		}
		if loc.End() != sc.Offset() {
			t.Fatalf("record %d ends at %d, scanner at %d", i, loc.End(), sc.Offset())
		}
	}
	if _, _, err := sc.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestScannerTruncatedTail(t *testing.T) {
	w, path := openTestWAL(t)

	first, _ := w.Append(record.Set("alice", "a", []byte("1")))
	second, _ := w.Append(record.Set("alice", "b", []byte("22222222")))
	_ = w.Close()

	for _, cut := range []int64{second.End() - 1, first.End() + 3} {
		if err := os.Truncate(path, cut); err != nil {
			t.Fatalf("truncate failed: %v", err)
		}
		w2, err := Open(path, Options{})
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}

		sc := w2.NewScanner()
		if _, _, err := sc.Next(); err != nil {
			t.Fatalf("first record: %v", err)
		}
		if _, _, err := sc.Next(); !errors.Is(err, record.ErrTruncated) {
			t.Fatalf("cut at %d: expected ErrTruncated, got %v", cut, err)
		}
		if sc.Offset() != first.End() {
			t.Fatalf("scanner advanced past a torn record: %d", sc.Offset())
		}
		_ = w2.Close()
	}
}

func TestScannerRestIsZero(t *testing.T) {
	w, path := openTestWAL(t)

	loc, _ := w.Append(record.Set("alice", "a", []byte("1")))
	_ = w.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.Write(make([]byte, 100)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = f.Close()

	w2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer w2.Close()

	sc := w2.NewScanner()
	if _, _, err := sc.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, _, err := sc.Next(); !errors.Is(err, record.ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic on zero tail, got %v", err)
	}
	if sc.Offset() != loc.End() {
		t.Fatalf("scanner at %d, expected %d", sc.Offset(), loc.End())
	}

	zero, err := sc.RestIsZero()
	if err != nil {
		t.Fatalf("RestIsZero failed: %v", err)
	}
	if !zero {
		t.Fatal("expected zero tail")
	}
}

func TestClosed(t *testing.T) {
	w, _ := openTestWAL(t)
	loc, _ := w.Append(record.Set("alice", "a", []byte("1")))

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("second Close: expected ErrClosed, got %v", err)
	}
	if _, err := w.Append(record.Set("alice", "b", nil)); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("Append: expected ErrClosed, got %v", err)
	}
	if _, err := w.ReadAt(loc); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("ReadAt: expected ErrClosed, got %v", err)
	}
	if err := w.Sync(); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("Sync: expected ErrClosed, got %v", err)
	}
}

func TestSection(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "sitekv.wal"), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer w.Close()

	if _, err := w.Append(record.Set("alice", "a", []byte("1"))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	sec := w.Section()
	if _, err := w.Append(record.Set("alice", "b", []byte("2"))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	b, err := io.ReadAll(sec)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	rec, err := record.Decode(b, record.Limits{})
	if err != nil || rec.Key != "a" || len(b) != rec.EncodedSize() {
		t.Fatalf("section should hold only the first record, got %d bytes, %+v, %v", len(b), rec, err)
	}
}

// shortFile writes only half of every WriteAt and can refuse to truncate.
type shortFile struct {
	*os.File
	failTruncate bool
}

var errShort = errors.New("short write")

func (f *shortFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.File.WriteAt(p[:len(p)/2], off)
	if err != nil {
		return n, err
	}
	return n, errShort
}

func (f *shortFile) Truncate(size int64) error {
	if f.failTruncate {
		return errors.New("truncate refused")
	}
	return f.File.Truncate(size)
}

func openShortWAL(t *testing.T, failTruncate bool) (*WAL, *shortFile) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.wal")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	sf := &shortFile{File: file, failTruncate: failTruncate}
	w := newWAL(sf, path, 0, Options{})
	t.Cleanup(func() { _ = w.Close() })
	return w, sf
}

func TestAppendShortWriteIsDropped(t *testing.T) {
	w, sf := openShortWAL(t, false)

	if _, err := w.Append(record.Set("alice", "k", []byte("value"))); !errors.Is(err, dberrors.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if w.Size() != 0 {
		t.Fatalf("expected the partial record to be dropped, size is %d", w.Size())
	}
	info, err := sf.Stat()
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("file still holds %d bytes", info.Size())
	}
}

func TestAppendShortWriteTruncateFails(t *testing.T) {
	w, sf := openShortWAL(t, true)

	r := record.Set("alice", "k", []byte("value"))
	_, err := w.Append(r)
	if !errors.Is(err, dberrors.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, errShort) {
		t.Fatalf("expected the write error to be kept, got %v", err)
	}

	// The partial bytes stay accounted for so the caller can see them.
	if want := int64(r.EncodedSize() / 2); w.Size() != want {
		t.Fatalf("expected size %d, got %d", want, w.Size())
	}
	if err := w.Truncate(0); !errors.Is(err, dberrors.ErrIO) {
		t.Fatalf("expected ErrIO from Truncate, got %v", err)
	}

	sf.failTruncate = false
	if err := w.Truncate(0); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if w.Size() != 0 {
		t.Fatalf("expected empty log, got %d", w.Size())
	}
}
