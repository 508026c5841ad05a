package strata

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// HealthCheck probes the engine end to end: a write/read/delete round trip
// through the file handler (which exercises encryption when enabled), a
// global metadata load and a full validation pass. Probe or load failures
// mean unhealthy; validation findings downgrade to warning.
func (db *Database) HealthCheck(ctx context.Context) HealthCheckResult {
	res := HealthCheckResult{Status: HealthHealthy, CheckedAt: time.Now().UTC()}
	if db.closed.Load() {
		res.Status = HealthUnhealthy
		res.Findings = append(res.Findings, "database is closed")
		return res
	}

	probe := filepath.Join(db.tempsDir(), "health_probe"+db.handler.Ext())
	if err := db.handler.WriteFile(ctx, probe, []byte(`{"probe":true}`)); err != nil {
		res.Status = HealthUnhealthy
		res.Findings = append(res.Findings, fmt.Sprintf("probe write failed: %v", err))
		return res
	}
	if _, err := db.handler.ReadFile(ctx, probe); err != nil {
		res.Status = HealthUnhealthy
		res.Findings = append(res.Findings, fmt.Sprintf("probe read failed: %v", err))
		_ = db.handler.Remove(probe)
		return res
	}
	if err := db.handler.Remove(probe); err != nil {
		res.Status = HealthWarning
		res.Findings = append(res.Findings, fmt.Sprintf("probe cleanup failed: %v", err))
	}

	if _, err := db.global.Load(ctx); err != nil {
		res.Status = HealthUnhealthy
		res.Findings = append(res.Findings, fmt.Sprintf("global metadata load failed: %v", err))
		return res
	}

	vres, err := db.Validate(ctx)
	if err != nil {
		res.Status = HealthWarning
		res.Findings = append(res.Findings, fmt.Sprintf("validation did not complete: %v", err))
		return res
	}
	if !vres.OK() || len(vres.Warnings) > 0 {
		res.Status = HealthWarning
		res.Findings = append(res.Findings, vres.Errors...)
		res.Findings = append(res.Findings, vres.Warnings...)
	}
	return res
}
