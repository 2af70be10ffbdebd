package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Origin is a residential location submitted for analysis.
type Origin struct {
	Label string `json:"label,omitempty"`
	Point Point  `json:"point"`
}

// Run is a persisted accessibility analysis of one origin.
type Run struct {
	ID        string          `json:"id"`
	Origin    Origin          `json:"origin"`
	Status    RunStatus       `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
