package strata_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/strataio/strata"
	"github.com/strataio/strata/index"
)

// Example_openAndInsert demonstrates opening a database and round-tripping a record.
func Example_openAndInsert() {
	ctx := context.Background()
	dir, _ := os.MkdirTemp("", "strata-example")
	defer os.RemoveAll(dir)

	db, err := strata.Open(strata.DefaultConfig(dir))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Register the entity with its indexable fields
	orders, err := strata.Register(ctx, db, "orders", orderSchema())
	if err != nil {
		log.Fatal(err)
	}

	if err := orders.Insert(ctx, Order{ID: 1, Customer: "ada", Status: "open", Total: 42.5}); err != nil {
		log.Fatal(err)
	}

	got, err := orders.GetByID(ctx, 1)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("order %d for %s\n", got.ID, got.Customer)
	// Output: order 1 for ada
}

// Example_findByProperty demonstrates an indexed equality query.
func Example_findByProperty() {
	ctx := context.Background()
	dir, _ := os.MkdirTemp("", "strata-example")
	defer os.RemoveAll(dir)

	db, _ := strata.Open(strata.DefaultConfig(dir))
	defer db.Close()

	orders, _ := strata.Register(ctx, db, "orders", orderSchema())
	_ = orders.Insert(ctx, Order{ID: 1, Customer: "ada", Status: "open", Total: 10})
	_ = orders.Insert(ctx, Order{ID: 2, Customer: "grace", Status: "paid", Total: 20})
	_ = orders.Insert(ctx, Order{ID: 3, Customer: "linus", Status: "open", Total: 30})

	open, err := orders.FindByProperty(ctx, "Status", index.String("open"))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%d open orders\n", len(open))
	// Output: 2 open orders
}

// Example_bulkInsert demonstrates loading many records in one call.
func Example_bulkInsert() {
	ctx := context.Background()
	dir, _ := os.MkdirTemp("", "strata-example")
	defer os.RemoveAll(dir)

	db, _ := strata.Open(strata.DefaultConfig(dir))
	defer db.Close()

	orders, _ := strata.Register(ctx, db, "orders", orderSchema())

	batch := make([]Order, 0, 100)
	for i := int64(1); i <= 100; i++ {
		batch = append(batch, Order{ID: i, Customer: "ada", Status: "open", Total: float64(i)})
	}
	if err := orders.BulkInsert(ctx, batch, 0); err != nil {
		log.Fatal(err)
	}

	count, _ := orders.Count(ctx)
	fmt.Printf("stored %d orders\n", count)
	// Output: stored 100 orders
}

// Example_encryptedDatabase demonstrates transparent encryption at rest.
func Example_encryptedDatabase() {
	ctx := context.Background()
	dir, _ := os.MkdirTemp("", "strata-example")
	defer os.RemoveAll(dir)

	cfg := strata.DefaultConfig(dir)
	cfg.EncryptionEnabled = true
	cfg.EncryptionPassphrase = "correct horse battery staple"

	db, err := strata.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	orders, _ := strata.Register(ctx, db, "orders", orderSchema())
	_ = orders.Insert(ctx, Order{ID: 1, Customer: "ada", Status: "open", Total: 10})

	got, err := orders.GetByID(ctx, 1)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("read %s through the encrypted handler\n", got.Customer)
	// Output: read ada through the encrypted handler
}
