// Package strata provides an embedded, file-backed storage engine for Go.
//
// Strata stores each entity's records in bounded, append-only segment files
// under a single database directory, with per-entity metadata, optional
// secondary indexes and transparent encryption. It is a library, not a
// server: open a directory, register your types, read and write.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := strata.Open(strata.DefaultConfig("./data"))
//	defer db.Close()
//
//	type Order struct {
//		ID     int64   `json:"id"`
//		Status string  `json:"status"`
//		Total  float64 `json:"total"`
//	}
//	schema := index.MustSchema(
//		index.Int64Field[Order]("Id", func(o Order) int64 { return o.ID }),
//		index.StringField[Order]("Status", func(o Order) string { return o.Status }),
//		index.Float64Field[Order]("Total", func(o Order) float64 { return o.Total }),
//	).WithIDField("Id")
//
//	orders, _ := strata.Register(ctx, db, "orders", schema)
//	_ = orders.Insert(ctx, Order{ID: 1, Status: "open", Total: 99.5})
//	open, _ := orders.FindByProperty(ctx, "Status", index.String("open"))
//
// # Storage Model
//
// Each entity lives in its own directory of segment files. A segment seals
// when it reaches the configured size or record cap and a fresh one becomes
// the write target. Record identity is the record's id; lookups resolve
// through the secondary index when enabled, or by scanning segments when
// not. Compaction folds underfull sealed segments together; maintenance
// prunes retired segment files past their retention.
//
// # Durability Model
//
// Record writes hit segment files synchronously; metadata (record totals,
// segment catalog, index) is saved through a queued flush worker:
//
//	_ = orders.Insert(ctx, o)      // segment write is durable here
//	_ = orders.Flush(ctx)          // metadata saves queued so far are too
//	h := orders.FlushAsync()       // or: await the queue without blocking
//	_ = h.Wait(ctx)
//
// Metadata is recomputable from segment contents, so a crash before a
// queued save loses bookkeeping, not records; Repair rebuilds the rest.
//
// # Encryption
//
// With EncryptionEnabled every stored document (segments, metadata,
// indexes) is compressed and sealed with a key derived from the configured
// passphrase. The directory's mode is permanent: a database created
// encrypted cannot be reopened plain, and vice versa.
//
// # Observability
//
// Structured logging, metrics and audit events are pluggable:
//
//	db, _ := strata.Open(cfg,
//		strata.WithLogger(strata.NewLogger(slog.NewJSONHandler(os.Stderr, nil))),
//		strata.WithMetricsCollector(prom.NewCollector(nil)),
//	)
package strata
