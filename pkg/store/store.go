// Package store is the multi-tenant key-value façade: a single append-only
// log for durability and an in-memory index for lookups.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitekv/pkg/backup"
	"sitekv/pkg/dberrors"
	"sitekv/pkg/index"
	"sitekv/pkg/metrics"
	"sitekv/pkg/record"
	"sitekv/pkg/recovery"
	"sitekv/pkg/wal"
)

type iJournal interface {
	Append(r record.Record) (wal.Location, error)
	Sync() error
	Truncate(size int64) error
	ReadAt(loc wal.Location) (record.Record, error)
	Size() int64
	Section() *io.SectionReader
	Close() error
}

// TenantUsage is a snapshot of one tenant's live data.
type TenantUsage struct {
	Tenant string `json:"tenant"`
	Bytes  int64  `json:"bytes"`
	Keys   int    `json:"keys"`
	// Quota is zero or less when the tenant is unlimited.
	Quota int64 `json:"quota"`
}

// Stats is a snapshot of the whole store.
type Stats struct {
	ID       string          `json:"id"`
	Path     string          `json:"path"`
	LogBytes int64           `json:"log_bytes"`
	Records  int64           `json:"records"`
	LiveKeys int             `json:"live_keys"`
	Tenants  int             `json:"tenants"`
	Recovery recovery.Result `json:"recovery"`
}

type Store struct {
	mu sync.RWMutex

	jr      iJournal
	idx     *index.Index
	opts    Options
	metrics metrics.Collector

	id       uuid.UUID
	path     string
	records  int64
	recovery recovery.Result

	// writeErr is set once a failed append could not be voided.
	writeErr error
	closed   bool
}

// Open opens or creates the log at opts.Path, rebuilds the index from it and
// cuts off a torn final record if there is one. A log damaged anywhere else
// fails with an error matching dberrors.ErrCorrupted.
func Open(opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	journal, err := wal.Open(opts.Path, wal.Options{
		Limits: record.Limits{MaxValue: opts.MaxValueBytes},
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	idx := index.New(opts.IndexSizeHint)
	res, err := recovery.Replay(journal, idx)
	if err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("failed to replay %s: %w", opts.Path, err)
	}

	if res.Truncated {
		if err := journal.Truncate(res.End); err != nil {
			_ = journal.Close()
			return nil, fmt.Errorf("failed to discard torn tail of %s: %w", opts.Path, err)
		}
	}

	s := newStore(journal, idx, opts)
	s.path = journal.Path()
	s.records = int64(res.Records)
	s.recovery = res

	slog.Info("store opened",
		"id", s.id,
		"path", opts.Path,
		"records", res.Records,
		"keys", idx.Len(),
		"tenants", idx.TenantCount(),
		"log_bytes", journal.Size(),
		"took", time.Since(start),
	)
	s.reportSize()

	return s, nil
}

func newStore(jr iJournal, idx *index.Index, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		jr:      jr,
		idx:     idx,
		opts:    opts,
		metrics: opts.Metrics,
		id:      uuid.New(),
	}
}

// Get returns the current value of tenant/key or dberrors.ErrNotFound.
func (s *Store) Get(tenant, key string) ([]byte, error) {
	start := time.Now()
	v, err := s.get(tenant, key)
	s.observe(opGet, start, err)
	return v, err
}

func (s *Store) get(tenant, key string) ([]byte, error) {
	if err := validate(tenant, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readable(); err != nil {
		return nil, err
	}

	e, ok := s.idx.Lookup(tenant, key)
	if !ok {
		return nil, dberrors.ErrNotFound
	}

	rec, err := s.jr.ReadAt(wal.Location{Offset: e.Offset, Size: e.Size})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s at offset %d: %w", tenant, key, e.Offset, err)
	}
	if rec.IsTombstone() || rec.Tenant != tenant || rec.Key != key {
		return nil, fmt.Errorf("%w: offset %d holds %s %s/%s, expected %s/%s",
			dberrors.ErrCorrupted, e.Offset, rec.Flags, rec.Tenant, rec.Key, tenant, key)
	}

	if rec.Value == nil {
		return []byte{}, nil
	}
	return rec.Value, nil
}

// Set durably stores value under tenant/key. It fails with
// dberrors.ErrQuotaExceeded, leaving the log untouched, when the write would
// take the tenant past its quota.
func (s *Store) Set(tenant, key string, value []byte) error {
	start := time.Now()
	err := s.set(tenant, key, value)
	s.observe(opSet, start, err)
	return err
}

func (s *Store) set(tenant, key string, value []byte) error {
	if err := validate(tenant, key); err != nil {
		return err
	}
	if len(value) > s.opts.MaxValueBytes {
		return fmt.Errorf("%w: %d bytes, limit is %d", dberrors.ErrValueTooLarge, len(value), s.opts.MaxValueBytes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}

	if quota := s.opts.quotaFor(tenant); quota > 0 {
		if after := s.idx.Projected(tenant, key, len(value)); after > quota {
			return fmt.Errorf("%w: tenant %q would use %d of %d bytes",
				dberrors.ErrQuotaExceeded, tenant, after, quota)
		}
	}

	return s.commit(record.Set(tenant, key, value))
}

// Delete removes tenant/key. Deleting an absent key succeeds and still
// appends a tombstone.
func (s *Store) Delete(tenant, key string) error {
	start := time.Now()
	err := s.delete(tenant, key)
	s.observe(opDelete, start, err)
	return err
}

func (s *Store) delete(tenant, key string) error {
	if err := validate(tenant, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}

	return s.commit(record.Delete(tenant, key))
}

// commit makes rec durable and then applies it to the index. On failure the
// log is cut back to where it was and the index is left alone.
// Callers hold s.mu for writing.
func (s *Store) commit(rec record.Record) error {
	before := s.jr.Size()

	loc, err := s.jr.Append(rec)
	if err != nil {
		return s.void(before, err)
	}
	if err := s.jr.Sync(); err != nil {
		return s.void(before, err)
	}

	recovery.Apply(s.idx, rec, loc)
	s.records++
	s.reportSize()

	return nil
}

func (s *Store) void(before int64, cause error) error {
	if s.jr.Size() > before {
		if err := s.jr.Truncate(before); err != nil {
			s.writeErr = err
			slog.Error("failed to discard unacknowledged write, rejecting further writes",
				"id", s.id,
				"offset", before,
				"error", err,
				"cause", cause,
			)
		}
	}

	if dberrors.IsClientError(cause) || errors.Is(cause, dberrors.ErrIO) {
		return cause
	}
	return fmt.Errorf("%w: %w", dberrors.ErrIO, cause)
}

// Usage returns the live value bytes of tenant.
func (s *Store) Usage(tenant string) (int64, error) {
	if !validTenant(tenant) {
		return 0, fmt.Errorf("%w: %q", dberrors.ErrInvalidTenant, tenant)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readable(); err != nil {
		return 0, err
	}
	return s.idx.Usage(tenant), nil
}

// QuotaFor returns the byte quota of tenant; zero or less means unlimited.
func (s *Store) QuotaFor(tenant string) int64 {
	return s.opts.quotaFor(tenant)
}

// Tenants lists every tenant holding at least one live key, by name.
func (s *Store) Tenants() []TenantUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TenantUsage, 0, s.idx.TenantCount())
	s.idx.Tenants(func(tenant string, usage int64, keys int) bool {
		out = append(out, TenantUsage{
			Tenant: tenant,
			Bytes:  usage,
			Keys:   keys,
			Quota:  s.opts.quotaFor(tenant),
		})
		return true
	})
	return out
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		ID:       s.id.String(),
		Path:     s.path,
		LogBytes: s.jr.Size(),
		Records:  s.records,
		LiveKeys: s.idx.Len(),
		Tenants:  s.idx.TenantCount(),
		Recovery: s.recovery,
	}
}

// Backup streams a zstd-compressed copy of the log as of the call into w.
// Writes may continue while it runs.
func (s *Store) Backup(w io.Writer) (backup.Stats, error) {
	s.mu.RLock()
	if err := s.readable(); err != nil {
		s.mu.RUnlock()
		return backup.Stats{}, err
	}
	section := s.jr.Section()
	s.mu.RUnlock()

	st, err := backup.Write(w, section)
	if err != nil {
		return st, fmt.Errorf("backup of %s failed: %w", s.path, err)
	}

	slog.Info("backup written",
		"id", s.id,
		"log_bytes", st.LogBytes,
		"compressed_bytes", st.CompressedBytes,
	)
	return st, nil
}

// Close releases the log. Every operation afterwards returns
// dberrors.ErrClosed; closing again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jr == nil {
		return ErrNotInitialized
	}
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.jr.Close(); err != nil {
		return fmt.Errorf("failed to close log: %w", err)
	}
	slog.Info("store closed", "id", s.id, "records", s.records)
	return nil
}

func (s *Store) readable() error {
	switch {
	case s.jr == nil:
		return ErrNotInitialized
	case s.closed:
		return dberrors.ErrClosed
	}
	return nil
}

func (s *Store) writable() error {
	if err := s.readable(); err != nil {
		return err
	}
	if s.writeErr != nil {
		return fmt.Errorf("%w: %w", ErrNotWritable, s.writeErr)
	}
	return nil
}
