package store

import (
	"errors"
	"time"

	"sitekv/pkg/dberrors"
)

const (
	opGet    = "get"
	opSet    = "set"
	opDelete = "delete"
)

const (
	metricOps      = "sitekv_store_ops_total"
	metricLatency  = "sitekv_store_op_seconds"
	metricLogBytes = "sitekv_store_log_bytes"
	metricLiveKeys = "sitekv_store_live_keys"
	metricTenants  = "sitekv_store_tenants"
)

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.IncCounter(metricOps, map[string]string{"op": op, "result": result(err)}, 1)
	s.metrics.ObserveHistogram(metricLatency, map[string]string{"op": op}, time.Since(start).Seconds())
}

// reportSize publishes the size gauges. Callers hold s.mu.
func (s *Store) reportSize() {
	s.metrics.SetGauge(metricLogBytes, nil, float64(s.jr.Size()))
	s.metrics.SetGauge(metricLiveKeys, nil, float64(s.idx.Len()))
	s.metrics.SetGauge(metricTenants, nil, float64(s.idx.TenantCount()))
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dberrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, dberrors.ErrQuotaExceeded):
		return "quota_exceeded"
	case dberrors.IsClientError(err):
		return "rejected"
	case errors.Is(err, dberrors.ErrClosed):
		return "closed"
	case errors.Is(err, dberrors.ErrCorrupted):
		return "corrupted"
	default:
		return "io_error"
	}
}

const (
	metricTenantBytes = "sitekv_tenant_bytes"
	metricTenantKeys  = "sitekv_tenant_keys"
	metricTenantQuota = "sitekv_tenant_quota_bytes"
)

// ReportTenants publishes per-tenant usage gauges. It is meant to run
// periodically rather than on every write.
func (s *Store) ReportTenants() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return dberrors.ErrClosed
	}

	for _, t := range s.Tenants() {
		labels := map[string]string{"tenant": t.Tenant}
		s.metrics.SetGauge(metricTenantBytes, labels, float64(t.Bytes))
		s.metrics.SetGauge(metricTenantKeys, labels, float64(t.Keys))
		s.metrics.SetGauge(metricTenantQuota, labels, float64(t.Quota))
	}
	return nil
}
