package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/strataio/strata"
	"github.com/strataio/strata/index"
	"github.com/strataio/strata/testutil"
)

type Order struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Payload string `json:"payload"`
}

func main() {
	seed := int64(4711)
	size := 50000
	batch := 5000

	dir := "./data-scratch"
	os.RemoveAll(dir)
	defer os.RemoveAll(dir)

	ctx := context.Background()
	rng := testutil.NewRNG(seed)

	cfg := strata.DefaultConfig(dir)
	cfg.MaxRecordsPerSegment = 10000

	db, err := strata.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	schema := index.MustSchema(
		index.Int64Field[Order]("Id", func(o Order) int64 { return o.ID }),
		index.StringField[Order]("Status", func(o Order) string { return o.Status }),
	).WithIDField("Id")

	orders, err := strata.Register(ctx, db, "orders", schema)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("--- Bulk load ---")
	fmt.Println("Size:", size)
	fmt.Println("Batch:", batch)

	start := time.Now()
	for next := int64(1); next <= int64(size); next += int64(batch) {
		records := make([]Order, 0, batch)
		for i := int64(0); i < int64(batch); i++ {
			records = append(records, Order{
				ID:      next + i,
				Status:  rng.Pick("open", "paid", "shipped"),
				Payload: rng.Payload(512),
			})
		}
		if err := orders.BulkInsert(ctx, records); err != nil {
			log.Fatal(err)
		}
	}
	end := time.Since(start)

	fmt.Println("Elapsed:", end)
	fmt.Printf("Throughput: %.0f records/sec\n", float64(size)/end.Seconds())

	fmt.Println("--- Query ---")

	start = time.Now()
	open, err := orders.FindByProperty(ctx, "Status", index.String("open"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Matches:", len(open))
	fmt.Println("Elapsed:", time.Since(start))

	start = time.Now()
	for i := 0; i < 1000; i++ {
		if _, err := orders.GetByID(ctx, int64(rng.Intn(size))+1); err != nil {
			log.Fatal(err)
		}
	}
	fmt.Println("1000 point lookups:", time.Since(start))

	stats, err := orders.Stats(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Segments: %d, Size: %.1f MB, Index entries: %d\n",
		stats.SegmentCount, stats.TotalSizeMB, stats.IndexEntries)
}
