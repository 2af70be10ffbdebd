package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/access-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Origin:    model.Origin{Label: "Lenina 12", Point: model.Point{Lon: 34.36, Lat: 61.78}},
			Status:    model.RunStatusComplete,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Origin:    model.Origin{Point: model.Point{Lon: 34.5, Lat: 61.7}},
			Status:    model.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "ORIGIN")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "Lenina 12")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "34.50000,61.70000")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Origin:    model.Origin{Label: "Far away"},
			Status:    model.RunStatusFailed,
			Error:     "graphstore: load walk: open data/walk.graphml: no such file or directory",
			CreatedAt: now,
			UpdatedAt: now.Add(30 * time.Second),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "Far away")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "graphstore: load walk")
	assert.Contains(t, output, "...")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{ID: "1", Status: model.RunStatusComplete, CreatedAt: now, UpdatedAt: now.Add(10 * time.Second)},
		{ID: "2", Status: model.RunStatusComplete, CreatedAt: now, UpdatedAt: now.Add(30 * time.Second)},
		{ID: "3", Status: model.RunStatusFailed, CreatedAt: now, UpdatedAt: now.Add(5 * time.Second)},
		{ID: "4", Status: model.RunStatusQueued, CreatedAt: now, UpdatedAt: now},
		{ID: "5", Status: model.RunStatusRunning, CreatedAt: now, UpdatedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.InFlight)
	assert.InDelta(t, 20.0, s.AvgDurSecs, 0.001)
}

func TestRunsStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Equal(t, runStats{}, s)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 3, Complete: 2, Failed: 1, AvgDurSecs: 12.34})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "3")
	assert.Contains(t, output, "Avg duration:")
	assert.Contains(t, output, "12.3s")
}

func TestFormatRunStats_NoDuration(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 1, Failed: 1})
	assert.NotContains(t, buf.String(), "Avg duration")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
