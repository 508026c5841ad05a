package benchmark_test

import (
	"context"
	"testing"

	"github.com/strataio/strata"
	"github.com/strataio/strata/index"
	"github.com/strataio/strata/testutil"
)

// ============================================================================
// Read Benchmarks
// ============================================================================

// loadedOrders returns a collection preloaded with n small records.
func loadedOrders(b *testing.B, n int) *strata.Collection[benchOrder] {
	b.Helper()
	_, orders := openBenchOrders(b)
	rng := testutil.NewRNG(benchSeed)
	if err := orders.BulkInsert(context.Background(), makeOrders(rng, n, 1, payloadSmall), 0); err != nil {
		b.Fatal(err)
	}
	return orders
}

// BenchmarkGetByID measures point lookups across a segmented data set. The
// segment block cache keeps the hot path off the disk.
func BenchmarkGetByID(b *testing.B) {
	const loaded = 10000

	orders := loadedOrders(b, loaded)
	rng := testutil.NewRNG(benchSeed)
	ids := make([]int64, b.N)
	for i := range ids {
		ids[i] = int64(rng.Intn(loaded)) + 1
	}

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := orders.GetByID(ctx, ids[i]); err != nil {
			b.Fatal(err)
		}
	}

	b.StopTimer()
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lookups/sec")
}

// BenchmarkFindByProperty measures an indexed equality query that fetches
// roughly a third of the data set.
func BenchmarkFindByProperty(b *testing.B) {
	orders := loadedOrders(b, 10000)

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := orders.FindByProperty(ctx, "Status", index.String("open")); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFindByProperties measures a conjunctive query over two indexed
// properties.
func BenchmarkFindByProperties(b *testing.B) {
	orders := loadedOrders(b, 10000)

	conds := map[string]index.Value{
		"Status": index.String("paid"),
		"Id":     index.Int(42),
	}

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := orders.FindByProperties(ctx, conds); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkGetAll measures a full scan of a moderately sized entity.
func BenchmarkGetAll(b *testing.B) {
	orders := loadedOrders(b, 2000)

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		records, err := orders.GetAll(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if len(records) != 2000 {
			b.Fatalf("expected 2000 records, got %d", len(records))
		}
	}

	b.StopTimer()
	b.ReportMetric(float64(b.N*2000)/b.Elapsed().Seconds(), "records/sec")
}
