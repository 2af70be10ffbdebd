package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/access-cli/internal/config"
	"github.com/sells-group/access-cli/internal/resilience"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:      0.10,
		UndeterminedRateThreshold: 0.20,
	})

	snap := &RunSnapshot{
		RunsTotal:        100,
		RunsComplete:     95,
		RunsFailed:       5,
		RunFailRate:      0.05,
		Categories:       300,
		Undetermined:     3,
		UndeterminedRate: 0.01,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &RunSnapshot{
		RunsTotal:     20,
		RunsComplete:  12,
		RunsFailed:    8,
		RunFailRate:   0.4, // 8/20 = 40%
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_UndeterminedRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:      0.10,
		UndeterminedRateThreshold: 0.20,
	})

	snap := &RunSnapshot{
		Categories:       10,
		Undetermined:     5,
		UndeterminedRate: 0.5,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUndeterminedRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")
}

func TestAlerter_Evaluate_UndeterminedDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{UndeterminedRateThreshold: 0})

	snap := &RunSnapshot{Categories: 10, Undetermined: 10, UndeterminedRate: 1}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_StaleRuns(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10, StaleRunMinutes: 30})

	alerts := a.Evaluate(&RunSnapshot{StaleRuns: 2, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleRuns, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 analysis run(s)")
	assert.Contains(t, alerts[0].Message, "30 minutes")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:      0.10,
		UndeterminedRateThreshold: 0.10,
		StaleRunMinutes:           30,
	})

	snap := &RunSnapshot{
		RunsTotal:        20,
		RunsComplete:     10,
		RunsFailed:       10,
		RunFailRate:      0.5,
		Categories:       30,
		Undetermined:     9,
		UndeterminedRate: 0.3,
		StaleRuns:        1,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertUndeterminedRate])
	assert.True(t, types[AlertStaleRuns])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	// Only 3 finished runs, below the 5-run minimum for failure rate alert.
	snap := &RunSnapshot{
		RunsTotal:     3,
		RunsComplete:  1,
		RunsFailed:    2,
		RunFailRate:   0.666,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleRuns, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})
	a.retry = resilience.Policy{Attempts: 2, Backoff: time.Millisecond}

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(2), hits.Load(), "server errors are retried")
}

func TestAlerter_SendAlerts_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.retry = resilience.Policy{Attempts: 3, Backoff: time.Millisecond}

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleRuns, Message: "stale"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), hits.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.retry = resilience.Policy{Attempts: 3, Backoff: time.Millisecond}

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleRuns, Message: "stale"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), hits.Load())
}
