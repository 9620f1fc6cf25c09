package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"sitekv/pkg/client"
)

type BenchmarkResult struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
}

type op func(ctx context.Context, c *client.Client, worker, i int) error

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	tenant := flag.String("tenant", "bench", "tenant to write into")
	total := flag.Int("n", 100, "operations per test")
	concurrency := flag.Int("c", 10, "goroutines for the concurrent tests")
	flag.Parse()

	ctx := context.Background()
	c := client.New(*baseURL)

	fmt.Println("=== sitekv benchmark ===")
	fmt.Printf("Target: %s tenant=%s\n\n", *baseURL, *tenant)

	if _, err := c.Usage(ctx, *tenant); err != nil {
		fmt.Printf("ERROR: %s is not available: %v\n", *baseURL, err)
		os.Exit(1)
	}

	write := func(ctx context.Context, c *client.Client, worker, i int) error {
		key := fmt.Sprintf("bench_%d_%d", worker, i)
		return c.Set(ctx, *tenant, key, []byte(fmt.Sprintf("value_%d_%d_%d", worker, i, time.Now().UnixNano())))
	}
	read := func(ctx context.Context, c *client.Client, worker, i int) error {
		_, err := c.Get(ctx, *tenant, fmt.Sprintf("bench_%d_%d", worker, i))
		return err
	}

	fmt.Printf("Test 1: Sequential Writes (%d operations)\n", *total)
	printResult("Writes", run(ctx, c, write, *total, 1))

	fmt.Printf("\nTest 2: Sequential Reads (%d operations)\n", *total)
	printResult("Reads", run(ctx, c, read, *total, 1))

	fmt.Printf("\nTest 3: Concurrent Writes (%d operations, %d goroutines)\n", *total, *concurrency)
	printResult("Concurrent Writes", run(ctx, c, write, *total, *concurrency))

	fmt.Printf("\nTest 4: Concurrent Reads (%d operations, %d goroutines)\n", *total, *concurrency)
	printResult("Concurrent Reads", run(ctx, c, read, *total, *concurrency))

	if u, err := c.Usage(ctx, *tenant); err == nil {
		fmt.Printf("\nTenant %s now uses %d of %d bytes\n", u.Tenant, u.Bytes, u.Quota)
	}
	fmt.Println("\n=== Benchmark Complete ===")
}

// run splits totalOps across concurrency workers. Worker w always gets the
// same keys for the same totalOps and concurrency, so reads find what the
// matching write test stored.
func run(ctx context.Context, c *client.Client, fn op, totalOps, concurrency int) BenchmarkResult {
	if concurrency < 1 {
		concurrency = 1
	}

	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex

	successful := 0
	failed := 0
	latencies := make([]time.Duration, 0, totalOps)

	opsPerGoroutine := totalOps / concurrency
	remainder := totalOps % concurrency

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			ops := opsPerGoroutine
			if worker < remainder {
				ops++
			}

			for i := 0; i < ops; i++ {
				opStart := time.Now()
				err := fn(ctx, c, worker, i)
				latency := time.Since(opStart)

				mu.Lock()
				if err == nil {
					successful++
				} else {
					failed++
				}
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}(w)
	}

	wg.Wait()
	duration := time.Since(start)

	var min, max, sum time.Duration
	if len(latencies) > 0 {
		min = latencies[0]
		max = latencies[0]
		for _, lat := range latencies {
			if lat < min {
				min = lat
			}
			if lat > max {
				max = lat
			}
			sum += lat
		}
	}

	var avg time.Duration
	if len(latencies) > 0 {
		avg = sum / time.Duration(len(latencies))
	}

	return BenchmarkResult{
		TotalOps:      totalOps,
		SuccessfulOps: successful,
		FailedOps:     failed,
		Duration:      duration,
		OpsPerSec:     float64(successful) / duration.Seconds(),
		AvgLatency:    avg,
		MinLatency:    min,
		MaxLatency:    max,
	}
}

func printResult(name string, r BenchmarkResult) {
	fmt.Printf("  %s:\n", name)
	fmt.Printf("    Total: %d, Successful: %d, Failed: %d\n", r.TotalOps, r.SuccessfulOps, r.FailedOps)
	fmt.Printf("    Duration: %v\n", r.Duration)
	fmt.Printf("    Throughput: %.2f ops/sec\n", r.OpsPerSec)
	fmt.Printf("    Latency: avg=%v, min=%v, max=%v\n", r.AvgLatency, r.MinLatency, r.MaxLatency)
}
