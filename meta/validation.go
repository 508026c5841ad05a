package meta

import (
	"fmt"
	"math"
)

// sizeEpsilonMB absorbs float drift when comparing accumulated sizes.
const sizeEpsilonMB = 0.001

// ValidationResult separates blocking errors from consistency warnings.
// Warnings describe states the engine can keep operating in (and repair
// later); errors mean the document cannot be trusted.
type ValidationResult struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether no blocking errors were found. Warnings do not fail
// validation.
func (r *ValidationResult) OK() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Merge appends another result's findings, prefixing them with a scope label.
func (r *ValidationResult) Merge(scope string, other ValidationResult) {
	for _, e := range other.Errors {
		r.Errors = append(r.Errors, scope+": "+e)
	}
	for _, w := range other.Warnings {
		r.Warnings = append(r.Warnings, scope+": "+w)
	}
}

// Validate checks the entity document's internal consistency.
func (m *EntityMetadata) Validate() ValidationResult {
	var res ValidationResult

	if m.Entity == "" {
		res.AddError("entity name is empty")
	}
	if m.TotalRecords < 0 {
		res.AddError("total records is negative: %d", m.TotalRecords)
	}

	var sumRecords int64
	var sumSizeMB float64
	seen := make(map[string]bool, len(m.Segments))
	actives := 0

	for _, s := range m.Segments {
		if s.FileName == "" {
			res.AddError("segment %d has no file name", s.ID)
			continue
		}
		if seen[s.FileName] {
			res.AddError("duplicate segment file name %s", s.FileName)
		}
		seen[s.FileName] = true

		if s.RecordCount < 0 {
			res.AddError("segment %s has negative record count: %d", s.FileName, s.RecordCount)
		}
		if s.State != SegmentActive && s.State != SegmentSealed && s.State != SegmentInactive {
			res.AddError("segment %s has unknown state %q", s.FileName, s.State)
		}
		if s.State == SegmentActive {
			actives++
		}
		if s.ID >= m.NextSegmentID {
			res.AddError("segment %s id %d is not below next segment id %d", s.FileName, s.ID, m.NextSegmentID)
		}
		if s.Live() {
			sumRecords += s.RecordCount
			sumSizeMB += s.SizeMB
			if s.RecordCount == 0 && s.State == SegmentSealed {
				res.AddWarning("sealed segment %s is empty", s.FileName)
			}
		}
	}

	if actives > 1 {
		res.AddError("%d segments are active, want at most one", actives)
	}
	if sumRecords != m.TotalRecords {
		res.AddError("total records %d does not match live segment sum %d", m.TotalRecords, sumRecords)
	}
	if math.Abs(sumSizeMB-m.TotalSizeMB) > sizeEpsilonMB {
		res.AddError("total size %.4f MB does not match live segment sum %.4f MB", m.TotalSizeMB, sumSizeMB)
	}

	live := m.LiveSegments()
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if live[i].Overlaps(live[j]) {
				res.AddWarning("segments %s and %s have overlapping id ranges [%d,%d] and [%d,%d]",
					live[i].FileName, live[j].FileName,
					live[i].MinID, live[i].MaxID, live[j].MinID, live[j].MaxID)
			}
		}
	}

	return res
}

// Validate checks the global document against its own entity list.
func (g *GlobalMetadata) Validate() ValidationResult {
	var res ValidationResult

	if g.TotalEntities != len(g.Entities) {
		res.AddError("total entities %d does not match entity list length %d", g.TotalEntities, len(g.Entities))
	}

	var sumRecords int64
	var sumSizeMB float64
	seen := make(map[string]bool, len(g.Entities))
	for _, e := range g.Entities {
		if e.Name == "" {
			res.AddError("entity descriptor has empty name")
			continue
		}
		if seen[e.Name] {
			res.AddError("duplicate entity descriptor %s", e.Name)
		}
		seen[e.Name] = true
		if e.RecordCount < 0 {
			res.AddError("entity %s has negative record count: %d", e.Name, e.RecordCount)
		}
		sumRecords += e.RecordCount
		sumSizeMB += e.SizeMB
	}

	if sumRecords != g.TotalRecords {
		res.AddError("total records %d does not match entity sum %d", g.TotalRecords, sumRecords)
	}
	if math.Abs(sumSizeMB-g.TotalSizeMB) > sizeEpsilonMB {
		res.AddError("total size %.4f MB does not match entity sum %.4f MB", g.TotalSizeMB, sumSizeMB)
	}

	return res
}
