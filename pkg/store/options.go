package store

import (
	"fmt"

	"sitekv/pkg/dberrors"
	"sitekv/pkg/metrics"
	"sitekv/pkg/record"
)

const (
	DefaultPath             = "./data/sitekv.wal"
	DefaultTenantQuotaBytes = 10 << 20
)

// Options configures a Store.
type Options struct {
	// Path is the log file. Its directory is created if missing.
	Path string
	// MaxValueBytes caps a single value.
	MaxValueBytes int
	// TenantQuotaBytes caps the live value bytes of every tenant. Zero or
	// less disables the check.
	TenantQuotaBytes int64
	// QuotaOverrides replaces TenantQuotaBytes for the listed tenants.
	QuotaOverrides map[string]int64
	// IndexSizeHint pre-sizes the in-memory index.
	IndexSizeHint uint32
	// Metrics receives operation counters; nil disables reporting.
	Metrics metrics.Collector
}

// DefaultOptions returns a baseline development config.
func DefaultOptions() Options {
	return Options{
		Path:             DefaultPath,
		MaxValueBytes:    record.DefaultMaxValue,
		TenantQuotaBytes: DefaultTenantQuotaBytes,
		IndexSizeHint:    1 << 10,
	}
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	if o.MaxValueBytes == 0 {
		o.MaxValueBytes = record.DefaultMaxValue
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop{}
	}
	return o
}

func (o Options) validate() error {
	if o.MaxValueBytes < 0 || o.MaxValueBytes > 1<<30 {
		return fmt.Errorf("%w: max value bytes %d", dberrors.ErrInvalidArgument, o.MaxValueBytes)
	}
	for tenant := range o.QuotaOverrides {
		if !validTenant(tenant) {
			return fmt.Errorf("%w: quota override for %q", dberrors.ErrInvalidTenant, tenant)
		}
	}
	return nil
}

// quotaFor returns the byte quota of tenant; zero or less means unlimited.
func (o Options) quotaFor(tenant string) int64 {
	if q, ok := o.QuotaOverrides[tenant]; ok {
		return q
	}
	return o.TenantQuotaBytes
}
