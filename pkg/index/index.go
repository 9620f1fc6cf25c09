// Package index keeps the in-memory view of the log: where the latest live
// record of every (tenant, key) lives and how many value bytes each tenant
// holds.
//
// The index is a cache derived from the log and is rebuilt by replay on every
// start. It does no locking of its own; callers serialize writers against
// readers.
package index

import (
	"github.com/dolthub/swiss"
	"github.com/zhangyunhao116/skipmap"
)

// Entry locates the most recent live record for a key.
type Entry struct {
	Offset    int64
	Size      uint32 // encoded record size
	ValueSize uint32
}

// Key identifies an entry.
type Key struct {
	Tenant string
	Key    string
}

// tenantStat is a tenant's accounting row.
type tenantStat struct {
	bytes int64
	keys  int
}

type tenantMap = skipmap.FuncMap[string, tenantStat]

// Index maps (tenant, key) to locations and tracks per-tenant live bytes.
type Index struct {
	entries *swiss.Map[Key, Entry]
	tenants *tenantMap
}

// New creates an empty index. sizeHint pre-sizes the key map.
func New(sizeHint uint32) *Index {
	if sizeHint == 0 {
		sizeHint = 1 << 10
	}
	return &Index{
		entries: swiss.NewMap[Key, Entry](sizeHint),
		tenants: skipmap.NewFunc[string, tenantStat](func(a, b string) bool {
			return a < b
		}),
	}
}

// Lookup returns the live entry for key, if any.
func (idx *Index) Lookup(tenant, key string) (Entry, bool) {
	return idx.entries.Get(Key{Tenant: tenant, Key: key})
}

// Upsert installs e for key and moves the tenant's usage by the difference
// between the new and prior value sizes. It returns the replaced entry.
func (idx *Index) Upsert(tenant, key string, e Entry) (Entry, bool) {
	k := Key{Tenant: tenant, Key: key}
	prior, existed := idx.entries.Get(k)
	idx.entries.Put(k, e)

	if existed {
		idx.account(tenant, int64(e.ValueSize)-int64(prior.ValueSize), 0)
	} else {
		idx.account(tenant, int64(e.ValueSize), 1)
	}
	return prior, existed
}

// Remove drops key and subtracts its value size from the tenant's usage.
func (idx *Index) Remove(tenant, key string) (Entry, bool) {
	k := Key{Tenant: tenant, Key: key}
	prior, existed := idx.entries.Get(k)
	if !existed {
		return Entry{}, false
	}
	idx.entries.Delete(k)
	idx.account(tenant, -int64(prior.ValueSize), -1)
	return prior, true
}

// Usage is the sum of live value sizes for tenant.
func (idx *Index) Usage(tenant string) int64 {
	st, _ := idx.tenants.Load(tenant)
	return st.bytes
}

// Keys is the number of live keys tenant holds.
func (idx *Index) Keys(tenant string) int {
	st, _ := idx.tenants.Load(tenant)
	return st.keys
}

// Projected is the tenant's usage if key were set to a value of newSize bytes.
func (idx *Index) Projected(tenant, key string, newSize int) int64 {
	u := idx.Usage(tenant) + int64(newSize)
	if prior, ok := idx.Lookup(tenant, key); ok {
		u -= int64(prior.ValueSize)
	}
	return u
}

// Len is the number of live keys across all tenants.
func (idx *Index) Len() int {
	return idx.entries.Count()
}

// Range calls fn for every live entry in no particular order until fn returns
// false.
func (idx *Index) Range(fn func(k Key, e Entry) bool) {
	idx.entries.Iter(func(k Key, e Entry) bool {
		return !fn(k, e)
	})
}

// Tenants calls fn for every tenant with at least one live key, in tenant
// order, until fn returns false.
func (idx *Index) Tenants(fn func(tenant string, usage int64, keys int) bool) {
	idx.tenants.Range(func(tenant string, st tenantStat) bool {
		return fn(tenant, st.bytes, st.keys)
	})
}

// TenantCount is the number of tenants with at least one live key.
func (idx *Index) TenantCount() int {
	return idx.tenants.Len()
}

func (idx *Index) account(tenant string, bytes int64, keys int) {
	st, _ := idx.tenants.Load(tenant)
	st.bytes += bytes
	st.keys += keys
	if st.keys <= 0 {
		idx.tenants.Delete(tenant)
		return
	}
	idx.tenants.Store(tenant, st)
}
