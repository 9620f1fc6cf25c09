// Package backup packs a log into a zstd stream and unpacks it into a new
// log file.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"sitekv/pkg/dberrors"
)

// Stats describes one backup or restore.
type Stats struct {
	LogBytes        int64 `json:"log_bytes"`
	CompressedBytes int64 `json:"compressed_bytes"`
}

// Write compresses everything read from r into w.
func Write(w io.Writer, r io.Reader) (Stats, error) {
	counter := &byteCounter{w: w}
	enc, err := zstd.NewWriter(counter)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create zstd writer: %w", err)
	}

	n, err := io.Copy(enc, r)
	if err != nil {
		_ = enc.Close()
		return Stats{LogBytes: n}, fmt.Errorf("failed to compress log: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Stats{LogBytes: n}, fmt.Errorf("failed to flush zstd stream: %w", err)
	}

	return Stats{LogBytes: n, CompressedBytes: counter.Count()}, nil
}

// Restore decompresses r into a new log at path. It refuses to replace an
// existing file. The log is written to a temporary file, synced and then
// renamed into place, so a failed restore leaves nothing at path.
func Restore(r io.Reader, path string) (Stats, error) {
	if _, err := os.Stat(path); err == nil {
		return Stats{}, fmt.Errorf("%w: %s already exists", dberrors.ErrInvalidArgument, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Stats{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return Stats{}, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".restore-*")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	stats, err := decompress(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return stats, fmt.Errorf("failed to restore %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return stats, fmt.Errorf("failed to move restored log into place: %w", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return stats, fmt.Errorf("failed to sync directory of %s: %w", path, err)
	}
	return stats, nil
}

// syncDir makes a rename inside dir durable.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}

func decompress(w io.Writer, r io.Reader) (Stats, error) {
	counter := &byteCounter{r: r}
	dec, err := zstd.NewReader(counter)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	n, err := io.Copy(w, dec)
	if err != nil {
		return Stats{LogBytes: n}, err
	}
	return Stats{LogBytes: n, CompressedBytes: counter.Count()}, nil
}
