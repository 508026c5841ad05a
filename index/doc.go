// Package index maintains the secondary indexes of one entity: for every
// indexed property, a mapping from property value to the records holding
// that value.
//
// # Schema
//
// Properties are declared up front through an explicit schema instead of
// being discovered by reflection. Each field names a property, its value
// kind and an extractor:
//
//	schema := index.MustSchema(
//	    index.Int64Field[Order]("Id", func(o Order) int64 { return o.ID }),
//	    index.StringField[Order]("Status", func(o Order) string { return o.Status }),
//	).WithIDField("Id")
//
// The id field doubles as the record identity; every entity schema must
// carry one integer-kind id field.
//
// # Values
//
// Value is a small tagged union over the indexable kinds: int64, float64,
// string, bool, time and UUID. Strings are interned, times are compared at
// nanosecond precision, and Key returns the canonical bucket key used by
// the grouped counts.
//
// # Queries
//
// The Manager answers equality lookups (FindByProperty), conjunctions
// across several properties (FindByProperties, evaluated most-selective
// first over roaring bitmaps), ordered range scans (FindByRange), and the
// aggregations DistinctValues and CountByProperty. Results carry the
// (record id, segment id) pair so callers can fetch records without a full
// scan.
//
// # Persistence
//
// The whole index serializes into a single document per entity next to the
// segment files. Load replaces the in-memory state; a missing file is not
// an error, it simply leaves the index empty for a later rebuild.
package index
