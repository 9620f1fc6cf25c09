package store

import (
	"fmt"
	"math/rand"
	"testing"
)

func newTestStore(b testing.TB) (*Store, func()) {
	opts := testOptions(b)
	opts.TenantQuotaBytes = 0

	store := openStore(b, opts)
	cleanup := func() {
		if err := store.Close(); err != nil {
			b.Fatalf("failed to close store: %v", err)
		}
	}

	return store, cleanup
}

func BenchmarkStoreWrite(b *testing.B) {
	store, cleanup := newTestStore(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := store.Set("bench", fmt.Sprintf("key-%d", i), []byte("value-"+fmt.Sprint(i))); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}
}

func BenchmarkStoreRead(b *testing.B) {
	store, cleanup := newTestStore(b)
	defer cleanup()

	const preloaded = 1_000
	for i := 0; i < preloaded; i++ {
		if err := store.Set("bench", fmt.Sprintf("key-%d", i), []byte("value-"+fmt.Sprint(i))); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	rng := rand.New(rand.NewSource(42))

	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", rng.Intn(preloaded))
		if _, err := store.Get("bench", key); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}

func BenchmarkStoreReadParallel(b *testing.B) {
	store, cleanup := newTestStore(b)
	defer cleanup()

	const preloaded = 1_000
	for i := 0; i < preloaded; i++ {
		if err := store.Set("bench", fmt.Sprintf("key-%d", i), []byte("value")); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := store.Get("bench", fmt.Sprintf("key-%d", i%preloaded)); err != nil {
				b.Errorf("Get failed: %v", err)
				return
			}
			i++
		}
	})
}
