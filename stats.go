package strata

import "time"

// EntityStatistics summarizes one entity's storage footprint.
type EntityStatistics struct {
	Name              string    `json:"name"`
	RecordCount       int64     `json:"record_count"`
	SegmentCount      int       `json:"segment_count"`
	ActiveSegmentID   uint64    `json:"active_segment_id,omitempty"`
	TotalSizeMB       float64   `json:"total_size_mb"`
	IndexedProperties []string  `json:"indexed_properties,omitempty"`
	IndexEntries      int       `json:"index_entries"`
	CreatedAt         time.Time `json:"created_at"`
	ModifiedAt        time.Time `json:"modified_at"`
}

// DatabaseStatistics summarizes the whole database.
type DatabaseStatistics struct {
	BasePath      string             `json:"base_path"`
	Encrypted     bool               `json:"encrypted"`
	TotalEntities int                `json:"total_entities"`
	TotalRecords  int64              `json:"total_records"`
	TotalSizeMB   float64            `json:"total_size_mb"`
	Entities      []EntityStatistics `json:"entities"`
	CollectedAt   time.Time          `json:"collected_at"`
}

// HealthStatus classifies a health check outcome.
type HealthStatus string

const (
	// HealthHealthy means every check passed.
	HealthHealthy HealthStatus = "healthy"
	// HealthWarning means the database works but validation found issues.
	HealthWarning HealthStatus = "warning"
	// HealthUnhealthy means the database cannot operate.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the outcome of Database.HealthCheck.
type HealthCheckResult struct {
	Status    HealthStatus `json:"status"`
	Findings  []string     `json:"findings,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	TempFilesRemoved int           `json:"temp_files_removed"`
	SegmentsRemoved  int           `json:"segments_removed"`
	Elapsed          time.Duration `json:"elapsed"`
}
