// Package store persists analysis runs and the sites they recommend.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/access-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Label  string          `json:"label,omitempty"`
	// CreatedAfter keeps runs created strictly after it when non-zero.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// RunSite is one recommended site of a run, flattened for querying.
type RunSite struct {
	Category  string      `json:"category"`
	Heuristic string      `json:"heuristic"`
	Within    string      `json:"within,omitempty"`
	Criterion string      `json:"criterion"`
	Point     model.Point `json:"point"`
}

// Store defines the persistence interface for analysis runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, origin model.Origin) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result json.RawMessage) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Sites
	SaveSites(ctx context.Context, runID string, sites []RunSite) (int64, error)
	ListSites(ctx context.Context, runID string) ([]RunSite, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
