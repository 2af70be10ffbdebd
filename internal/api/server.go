// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/access-cli/internal/accessibility"
	"github.com/sells-group/access-cli/internal/analysis"
	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/store"
)

// IsochroneBuilder builds a single isochrone.
type IsochroneBuilder interface {
	Build(ctx context.Context, req isochrone.Request) (*isochrone.Isochrone, error)
}

// Analyzer runs and persists one origin analysis.
type Analyzer interface {
	Analyze(ctx context.Context, origin model.Origin) (*model.Run, *analysis.Report, error)
}

// RunReader reads persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListSites(ctx context.Context, runID string) ([]store.RunSite, error)
}

// Deps are the components the server routes to. Runs, Metrics and Ready
// are optional.
type Deps struct {
	Builder  IsochroneBuilder
	Analyzer Analyzer
	Runs     RunReader
	Rules    accessibility.Table
	Metrics  http.Handler
	// Ready reports whether the graphs are loaded; nil means always ready.
	Ready func(ctx context.Context) error
}

// Options tunes the HTTP surface.
type Options struct {
	// RateLimit is requests per second per client IP across /v1; zero
	// disables limiting.
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// Server routes HTTP requests to the engine.
type Server struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

// New creates a Server.
func New(deps Deps, opts Options) *Server {
	return &Server{
		deps: deps,
		opts: opts,
		log:  zap.L().With(zap.String("component", "api")),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	metrics := s.deps.Metrics
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/v1", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			burst := s.opts.RateBurst
			if burst < 1 {
				burst = 1
			}
			r.Use(rateLimit(newClientLimiter(rate.Limit(s.opts.RateLimit), burst)))
		}
		if s.opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
		}

		r.Post("/isochrones", s.handleIsochrone)
		r.Post("/analyses", s.handleAnalyze)
		r.Get("/analyses", s.handleListRuns)
		r.Get("/analyses/{id}", s.handleGetRun)
		r.Get("/rules", s.handleRules)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type isochroneRequest struct {
	Origin            *model.Point `json:"origin"`
	Mode              string       `json:"mode"`
	Limit             float64      `json:"limit"`
	LimitUnit         string       `json:"limit_unit"`
	SimplifyTolerance *float64     `json:"simplify_tolerance,omitempty"`
}

func (s *Server) handleIsochrone(w http.ResponseWriter, r *http.Request) {
	var body isochroneRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Origin == nil {
		writeError(w, failure.New(failure.InvalidParameter, "origin is required"))
		return
	}
	mode, err := model.ParseMode(body.Mode)
	if err != nil {
		writeError(w, failure.Wrap(failure.InvalidParameter, err))
		return
	}
	unit, err := model.ParseLimitUnit(body.LimitUnit)
	if err != nil {
		writeError(w, failure.Wrap(failure.InvalidParameter, err))
		return
	}

	iso, err := s.deps.Builder.Build(r.Context(), isochrone.Request{
		Origin:            *body.Origin,
		Mode:              mode,
		Limit:             body.Limit,
		Unit:              unit,
		SimplifyTolerance: body.SimplifyTolerance,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, iso)
}

type analysisResponse struct {
	Run    *model.Run       `json:"run,omitempty"`
	Report *analysis.Report `json:"report"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var origin model.Origin
	if !decode(w, r, &origin) {
		return
	}
	if err := validPoint(origin.Point); err != nil {
		writeError(w, err)
		return
	}

	run, report, err := s.deps.Analyzer.Analyze(r.Context(), origin)
	if err != nil {
		writeError(w, err)
		return
	}
	if run != nil {
		// The report is returned alongside; avoid sending it twice.
		run.Result = nil
	}
	writeJSON(w, http.StatusOK, analysisResponse{Run: run, Report: report})
}

type runResponse struct {
	Run   *model.Run      `json:"run"`
	Sites []store.RunSite `json:"sites"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "run store not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.deps.Runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	sites, err := s.deps.Runs.ListSites(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if sites == nil {
		sites = []store.RunSite{}
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Sites: sites})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "run store not configured"})
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Label:  q.Get("label"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, err)
		return
	}

	runs, err := s.deps.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.deps.Rules})
}

// helpers

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusOf maps an engine error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch failure.KindOf(err) {
	case failure.InvalidParameter:
		return http.StatusBadRequest
	case failure.UnknownCategory:
		return http.StatusNotFound
	case failure.NoReachableNodes, failure.NoReachableEdges:
		return http.StatusUnprocessableEntity
	case failure.DataLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	body := errorBody{Error: err.Error()}
	if kind := failure.KindOf(err); kind != failure.Unknown {
		body.Kind = kind.String()
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, failure.Newf(failure.InvalidParameter, "invalid request body: %v", err))
		return false
	}
	return true
}

func validPoint(p model.Point) error {
	if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) || p.Lon < -180 || p.Lon > 180 || p.Lat < -90 || p.Lat > 90 {
		return failure.Newf(failure.InvalidParameter, "point (%v, %v) is not a valid lon/lat", p.Lon, p.Lat)
	}
	return nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, failure.Newf(failure.InvalidParameter, "invalid non-negative integer %q", v)
	}
	return n, nil
}

// clientIdle is how long a client's limiter is kept after its last request.
const clientIdle = 10 * time.Minute

// clientLimiter holds one token bucket per client IP. RemoteAddr is already
// rewritten by middleware.RealIP when proxy headers are present.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{limit: limit, burst: burst, clients: make(map[string]*clientBucket)}
}

func (c *clientLimiter) allow(remoteAddr string) bool {
	key := clientKey(remoteAddr)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) > clientIdle {
		for k, b := range c.clients {
			if now.Sub(b.lastSeen) > clientIdle {
				delete(c.clients, k)
			}
		}
		c.lastSweep = now
	}
	b, ok := c.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func clientKey(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func rateLimit(l *clientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(r.RemoteAddr) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
