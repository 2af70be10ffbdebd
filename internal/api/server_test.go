package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/access-cli/internal/accessibility"
	"github.com/sells-group/access-cli/internal/analysis"
	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeBuilder struct {
	err  error
	last isochrone.Request
}

func (f *fakeBuilder) Build(_ context.Context, req isochrone.Request) (*isochrone.Isochrone, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{req.Origin.Lon - 0.01, req.Origin.Lat - 0.01},
		{req.Origin.Lon + 0.01, req.Origin.Lat - 0.01},
		{req.Origin.Lon + 0.01, req.Origin.Lat + 0.01},
		{req.Origin.Lon - 0.01, req.Origin.Lat + 0.01},
		{req.Origin.Lon - 0.01, req.Origin.Lat - 0.01},
	}})
	return &isochrone.Isochrone{
		Polygon:        poly,
		Mode:           req.Mode,
		Limit:          req.Limit,
		Unit:           req.Unit,
		TimeBudget:     461.538,
		SourceNode:     "42",
		ReachableNodes: 7,
		EPSG:           32636,
	}, nil
}

type fakeAnalyzer struct {
	run *model.Run
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, origin model.Origin) (*model.Run, *analysis.Report, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	report := &analysis.Report{
		Origin: origin,
		Accessibility: &accessibility.Result{
			Origin: origin.Point,
			Categories: map[string]*accessibility.CategoryResult{
				"school": {Category: "school", Status: accessibility.StatusViolated},
			},
			Order: []string{"school"},
		},
	}
	return f.run, report, nil
}

func newServer(t *testing.T, deps Deps, opts Options) http.Handler {
	t.Helper()
	if deps.Builder == nil {
		deps.Builder = &fakeBuilder{}
	}
	if deps.Analyzer == nil {
		deps.Analyzer = &fakeAnalyzer{}
	}
	return New(deps, opts).Handler()
}

func do(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body) //nolint:errcheck
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

// ---------------------------------------------------------------------------
// Health and metrics
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	h := newServer(t, Deps{}, Options{})

	rr := do(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}

func TestHealth_NotReady(t *testing.T) {
	h := newServer(t, Deps{Ready: func(context.Context) error {
		return failure.New(failure.DataLoad, "walk graph missing")
	}}, Options{})

	rr := do(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "walk graph missing")
}

func TestMetricsRoute(t *testing.T) {
	h := newServer(t, Deps{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("access_up 1\n")) //nolint:errcheck
	})}, Options{})

	rr := do(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "access_up 1")

	none := newServer(t, Deps{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(none, http.MethodGet, "/metrics", nil).Code)
}

// ---------------------------------------------------------------------------
// Isochrones
// ---------------------------------------------------------------------------

func TestIsochrone_OK(t *testing.T) {
	b := &fakeBuilder{}
	h := newServer(t, Deps{Builder: b}, Options{})

	rr := do(h, http.MethodPost, "/v1/isochrones", map[string]any{
		"origin":     map[string]float64{"lon": 34.36, "lat": 61.78},
		"mode":       "walking",
		"limit":      500,
		"limit_unit": "distance",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, model.ModeWalk, b.last.Mode)
	assert.Equal(t, model.Meters, b.last.Unit)
	assert.Nil(t, b.last.SimplifyTolerance)

	body := decodeBody(t, rr)
	assert.Equal(t, "Feature", body["type"])
	props := body["properties"].(map[string]any)
	assert.Equal(t, "walk", props["mode"])
	assert.Equal(t, 461.54, props["time_budget_seconds"])
	assert.Equal(t, "42", props["source_node_id"])
}

func TestIsochrone_Validation(t *testing.T) {
	h := newServer(t, Deps{}, Options{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing origin", map[string]any{"mode": "walk", "limit": 5, "limit_unit": "minutes"}, "origin is required"},
		{"bad mode", map[string]any{"origin": map[string]float64{"lon": 1, "lat": 1}, "mode": "fly", "limit": 5, "limit_unit": "minutes"}, "unknown mode"},
		{"bad unit", map[string]any{"origin": map[string]float64{"lon": 1, "lat": 1}, "mode": "walk", "limit": 5, "limit_unit": "hours"}, "unknown limit unit"},
		{"malformed", `{"origin":`, "invalid request body"},
		{"unknown field", map[string]any{"origin": map[string]float64{"lon": 1, "lat": 1}, "speed": 3}, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(h, http.MethodPost, "/v1/isochrones", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			body := decodeBody(t, rr)
			assert.Contains(t, body["error"], tt.want)
			assert.Equal(t, "invalid_parameter", body["kind"])
		})
	}
}

func TestIsochrone_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind failure.Kind
		want int
	}{
		{failure.InvalidParameter, http.StatusBadRequest},
		{failure.NoReachableNodes, http.StatusUnprocessableEntity},
		{failure.NoReachableEdges, http.StatusUnprocessableEntity},
		{failure.DataLoad, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := eris.Wrap(failure.New(tt.kind, "boom"), "isochrone: build")
			h := newServer(t, Deps{Builder: &fakeBuilder{err: err}}, Options{})

			rr := do(h, http.MethodPost, "/v1/isochrones", map[string]any{
				"origin": map[string]float64{"lon": 1, "lat": 1}, "mode": "drive", "limit": 15, "limit_unit": "minutes",
			})
			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, tt.kind.String(), decodeBody(t, rr)["kind"])
		})
	}
}

// ---------------------------------------------------------------------------
// Analyses
// ---------------------------------------------------------------------------

func TestAnalyze_OK(t *testing.T) {
	run := &model.Run{ID: "run-1", Status: model.RunStatusComplete, Result: json.RawMessage(`{"big":true}`)}
	h := newServer(t, Deps{Analyzer: &fakeAnalyzer{run: run}}, Options{})

	rr := do(h, http.MethodPost, "/v1/analyses", map[string]any{
		"label": "lenina-12",
		"point": map[string]float64{"lon": 34.36, "lat": 61.78},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	gotRun := body["run"].(map[string]any)
	assert.Equal(t, "run-1", gotRun["id"])
	assert.NotContains(t, gotRun, "result")
	report := body["report"].(map[string]any)
	assert.Equal(t, "lenina-12", report["origin"].(map[string]any)["label"])
}

func TestAnalyze_InvalidPoint(t *testing.T) {
	h := newServer(t, Deps{}, Options{})

	rr := do(h, http.MethodPost, "/v1/analyses", map[string]any{"point": map[string]float64{"lon": 200, "lat": 61}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "not a valid lon/lat")
}

func TestAnalyze_Errors(t *testing.T) {
	h := newServer(t, Deps{Analyzer: &fakeAnalyzer{err: eris.Wrap(context.DeadlineExceeded, "analysis: evaluate")}}, Options{})
	rr := do(h, http.MethodPost, "/v1/analyses", map[string]any{"point": map[string]float64{"lon": 1, "lat": 1}})
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)

	h = newServer(t, Deps{Analyzer: &fakeAnalyzer{err: failure.New(failure.DataLoad, "refdata missing")}}, Options{})
	rr = do(h, http.MethodPost, "/v1/analyses", map[string]any{"point": map[string]float64{"lon": 1, "lat": 1}})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRuns_NoStore(t *testing.T) {
	h := newServer(t, Deps{}, Options{})

	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodGet, "/v1/analyses/abc", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodGet, "/v1/analyses", nil).Code)
}

func TestRuns_WithStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	run, err := s.CreateRun(ctx, model.Origin{Label: "lenina-12", Point: model.Point{Lon: 34.36, Lat: 61.78}})
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, run.ID, json.RawMessage(`{"recommendations":{}}`)))
	_, err = s.SaveSites(ctx, run.ID, []store.RunSite{{
		Category: "school", Heuristic: "road_nodes", Within: "drive",
		Criterion: "road nodes within drive isochrone", Point: model.Point{Lon: 34.4, Lat: 61.8},
	}})
	require.NoError(t, err)

	h := newServer(t, Deps{Runs: s}, Options{})

	t.Run("get", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/v1/analyses/"+run.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decodeBody(t, rr)
		assert.Equal(t, "complete", body["run"].(map[string]any)["status"])
		sites := body["sites"].([]any)
		require.Len(t, sites, 1)
		assert.Equal(t, "road_nodes", sites[0].(map[string]any)["heuristic"])
	})

	t.Run("not found", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/v1/analyses/missing", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, rr.Body.String(), "run not found")
	})

	t.Run("list", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/v1/analyses?status=complete&limit=5", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeBody(t, rr)["runs"], 1)

		rr = do(h, http.MethodGet, "/v1/analyses?status=failed", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decodeBody(t, rr)["runs"])
	})

	t.Run("bad paging", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/v1/analyses?limit=-1", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

// ---------------------------------------------------------------------------
// Rules, middleware, status mapping
// ---------------------------------------------------------------------------

func TestRules(t *testing.T) {
	table, err := accessibility.DefaultTable(accessibility.HospitalDrive30Min)
	require.NoError(t, err)
	h := newServer(t, Deps{Rules: table}, Options{})

	rr := do(h, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rules := decodeBody(t, rr)["rules"].([]any)
	require.Len(t, rules, 4)
	assert.Equal(t, "kindergarten", rules[0].(map[string]any)["category"])
}

func TestRateLimit(t *testing.T) {
	h := newServer(t, Deps{}, Options{RateLimit: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/v1/rules", nil).Code)
	rr := do(h, http.MethodGet, "/v1/rules", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Health is outside the limited group.
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health", nil).Code)
}

func TestRateLimit_PerClientIP(t *testing.T) {
	h := newServer(t, Deps{}, Options{RateLimit: 0.001, RateBurst: 1})

	from := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/rules", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, from("10.0.0.1:5000", ""))
	assert.Equal(t, http.StatusOK, from("10.0.0.2:5000", ""), "second client has its own bucket")
	assert.Equal(t, http.StatusTooManyRequests, from("10.0.0.1:6000", ""), "port does not reset the bucket")

	// Behind a proxy the forwarded address is the key.
	assert.Equal(t, http.StatusOK, from("10.0.0.9:80", "203.0.113.7"))
	assert.Equal(t, http.StatusOK, from("10.0.0.9:80", "203.0.113.8"))
	assert.Equal(t, http.StatusTooManyRequests, from("10.0.0.9:80", "203.0.113.7"))
}

func TestClientLimiter_EvictsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	require.True(t, l.allow("10.0.0.1:1"))
	l.clients["10.0.0.1"].lastSeen = time.Now().Add(-2 * clientIdle)
	l.lastSweep = time.Now().Add(-2 * clientIdle)

	require.True(t, l.allow("10.0.0.2:1"))
	assert.NotContains(t, l.clients, "10.0.0.1")
	assert.Contains(t, l.clients, "10.0.0.2")
}

func TestCORSPreflight(t *testing.T) {
	h := newServer(t, Deps{}, Options{AllowedOrigins: []string{"https://maps.example.org"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/isochrones", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://maps.example.org", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(eris.Wrap(store.ErrNotFound, "get run")))
	assert.Equal(t, http.StatusNotFound, StatusOf(failure.New(failure.UnknownCategory, "pool")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}
