// Package monitoring records engine metrics and raises alerts when analysis
// runs degrade.
package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/store"
)

// RunSnapshot holds a point-in-time view of analysis health.
type RunSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsQueued   int     `json:"runs_queued"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// StaleRuns counts queued or running runs not updated within the stale window.
	StaleRuns int `json:"stale_runs"`

	// Category outcomes decoded from completed runs.
	Categories       int            `json:"categories"`
	Undetermined     int            `json:"undetermined"`
	UndeterminedRate float64        `json:"undetermined_rate"`
	Violations       map[string]int `json:"violations"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the store methods needed by the collector.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	runs       RunLister
	staleAfter time.Duration
}

// NewCollector creates a new run collector. Runs still queued or running
// after staleAfter count as stale; zero disables the check.
func NewCollector(runs RunLister, staleAfter time.Duration) *Collector {
	return &Collector{runs: runs, staleAfter: staleAfter}
}

// runOutcome is the slice of a stored report the collector reads.
type runOutcome struct {
	Accessibility struct {
		Categories map[string]struct {
			Status string `json:"status"`
		} `json:"categories"`
	} `json:"accessibility"`
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*RunSnapshot, error) {
	now := time.Now().UTC()
	snap := &RunSnapshot{
		Violations:    map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if c.staleAfter > 0 && (r.Status == model.RunStatusQueued || r.Status == model.RunStatusRunning) &&
			now.Sub(r.UpdatedAt) > c.staleAfter {
			snap.StaleRuns++
		}
		if r.Status != model.RunStatusComplete || len(r.Result) == 0 {
			continue
		}

		var out runOutcome
		if err := json.Unmarshal(r.Result, &out); err != nil {
			zap.L().Warn("monitoring: undecodable run result", zap.String("run_id", r.ID), zap.Error(err))
			continue
		}
		for category, res := range out.Accessibility.Categories {
			snap.Categories++
			switch res.Status {
			case "violated":
				snap.Violations[category]++
			case "undetermined":
				snap.Undetermined++
			}
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.Categories > 0 {
		snap.UndeterminedRate = float64(snap.Undetermined) / float64(snap.Categories)
	}
	return snap, nil
}
