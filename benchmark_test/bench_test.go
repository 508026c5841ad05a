package benchmark_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/strataio/strata"
	"github.com/strataio/strata/index"
	"github.com/strataio/strata/testutil"
)

const (
	benchSeed = 4711

	payloadSmall = 256
	payloadLarge = 4096
)

type benchOrder struct {
	ID      int64   `json:"id"`
	Status  string  `json:"status"`
	Total   float64 `json:"total"`
	Payload string  `json:"payload"`
}

func benchSchema() *index.Schema[benchOrder] {
	return index.MustSchema(
		index.Int64Field[benchOrder]("Id", func(o benchOrder) int64 { return o.ID }),
		index.StringField[benchOrder]("Status", func(o benchOrder) string { return o.Status }),
		index.Float64Field[benchOrder]("Total", func(o benchOrder) float64 { return o.Total }),
	).WithIDField("Id")
}

// openBenchOrders opens a fresh database under a benchmark temp dir and
// registers the order entity. The record cap is lowered so per-operation
// cost stays bounded as the active segment fills.
func openBenchOrders(b *testing.B, mutate ...func(*strata.Config)) (*strata.Database, *strata.Collection[benchOrder]) {
	b.Helper()
	cfg := strata.DefaultConfig(b.TempDir())
	cfg.MaxRecordsPerSegment = 1000
	for _, m := range mutate {
		m(&cfg)
	}
	db, err := strata.Open(cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })

	orders, err := strata.Register(context.Background(), db, "orders", benchSchema())
	if err != nil {
		b.Fatal(err)
	}
	return db, orders
}

func makeOrders(rng *testutil.RNG, n int, firstID int64, payloadBytes int) []benchOrder {
	out := make([]benchOrder, n)
	for i := range out {
		out[i] = benchOrder{
			ID:      firstID + int64(i),
			Status:  rng.Pick("open", "paid", "shipped"),
			Total:   rng.Float64() * 1000,
			Payload: rng.Payload(payloadBytes),
		}
	}
	return out
}

// ============================================================================
// Write Benchmarks
// ============================================================================

// BenchmarkInsert measures single-insert throughput. Every insert rewrites
// the active segment file, so the payload size dominates.
func BenchmarkInsert(b *testing.B) {
	for _, payload := range []int{payloadSmall, payloadLarge} {
		b.Run("payload="+strconv.Itoa(payload), func(b *testing.B) {
			_, orders := openBenchOrders(b)
			rng := testutil.NewRNG(benchSeed)
			records := makeOrders(rng, b.N, 1, payload)

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if err := orders.Insert(ctx, records[i]); err != nil {
					b.Fatal(err)
				}
			}

			b.StopTimer()
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "records/sec")
		})
	}
}

// BenchmarkBulkInsert measures batch loading with various batch sizes.
func BenchmarkBulkInsert(b *testing.B) {
	for _, size := range []int{100, 1000} {
		b.Run("batch="+strconv.Itoa(size), func(b *testing.B) {
			_, orders := openBenchOrders(b)
			rng := testutil.NewRNG(benchSeed)

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			next := int64(1)
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				batch := makeOrders(rng, size, next, payloadSmall)
				next += int64(size)
				b.StartTimer()

				if err := orders.BulkInsert(ctx, batch, 0); err != nil {
					b.Fatal(err)
				}
			}

			b.StopTimer()
			b.ReportMetric(float64(b.N*size)/b.Elapsed().Seconds(), "records/sec")
		})
	}
}

// BenchmarkUpdate measures in-place record updates, which rewrite the
// record's whole segment.
func BenchmarkUpdate(b *testing.B) {
	const loaded = 1000

	_, orders := openBenchOrders(b)
	rng := testutil.NewRNG(benchSeed)
	ctx := context.Background()
	if err := orders.BulkInsert(ctx, makeOrders(rng, loaded, 1, payloadSmall), 0); err != nil {
		b.Fatal(err)
	}

	ids := make([]int64, b.N)
	for i := range ids {
		ids[i] = int64(rng.Intn(loaded)) + 1
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		rec := benchOrder{ID: ids[i], Status: "paid", Total: 1, Payload: "updated"}
		if _, err := orders.Update(ctx, rec); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFlush measures the queued metadata flush round trip.
func BenchmarkFlush(b *testing.B) {
	db, orders := openBenchOrders(b)
	ctx := context.Background()
	if err := orders.Insert(ctx, benchOrder{ID: 1, Status: "open", Total: 1, Payload: "x"}); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := db.Flush(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
