package store

import (
	"errors"
	"path/filepath"
	"testing"

	"sitekv/pkg/index"
	"sitekv/pkg/record"
	"sitekv/pkg/wal"
)

func testOptions(tb testing.TB) Options {
	tb.Helper()
	opts := DefaultOptions()
	opts.Path = filepath.Join(tb.TempDir(), "sitekv.wal")
	return opts
}

func openStore(tb testing.TB, opts Options) *Store {
	tb.Helper()
	s, err := Open(opts)
	if err != nil {
		tb.Fatalf("Open failed: %v", err)
	}
	return s
}

func reopen(tb testing.TB, s *Store, opts Options) *Store {
	tb.Helper()
	if err := s.Close(); err != nil {
		tb.Fatalf("Close failed: %v", err)
	}
	return openStore(tb, opts)
}

var errInjected = errors.New("injected failure")

// faultyJournal is a real log whose Append, Sync and Truncate can be made to
// fail. A failing Append still writes the record first, like a short write.
type faultyJournal struct {
	*wal.WAL
	failAppend   bool
	failSync     bool
	failTruncate bool
}

func (f *faultyJournal) Append(r record.Record) (wal.Location, error) {
	loc, err := f.WAL.Append(r)
	if err != nil {
		return loc, err
	}
	if f.failAppend {
		return wal.Location{}, errInjected
	}
	return loc, nil
}

func (f *faultyJournal) Sync() error {
	if f.failSync {
		return errInjected
	}
	return f.WAL.Sync()
}

func (f *faultyJournal) Truncate(size int64) error {
	if f.failTruncate {
		return errInjected
	}
	return f.WAL.Truncate(size)
}

func newFaultyStore(t *testing.T) (*Store, *faultyJournal) {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "sitekv.wal"), wal.Options{})
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}
	fj := &faultyJournal{WAL: w}
	s := newStore(fj, index.New(0), DefaultOptions())
	t.Cleanup(func() { _ = s.Close() })
	return s, fj
}
