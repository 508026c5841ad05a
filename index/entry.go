package index

import "time"

// Entry locates one record's property value: which record carries it, which
// segment the record lives in and at which position, and when the entry was
// created. Entries are append-mostly; Optimize collapses stale duplicates.
type Entry struct {
	RecordID  int64     `json:"record_id"`
	Value     Value     `json:"value"`
	SegmentID uint64    `json:"segment_id"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}
