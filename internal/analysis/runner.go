// Package analysis runs the full accessibility analysis of an origin:
// evaluation of every category followed by placement recommendations for the
// violated ones. Runs can be persisted and processed in bounded batches.
package analysis

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/access-cli/internal/accessibility"
	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/placement"
	"github.com/sells-group/access-cli/internal/store"
)

// Evaluator decides category statuses for an origin.
type Evaluator interface {
	Evaluate(ctx context.Context, origin model.Point) (*accessibility.Result, error)
}

// Recommender proposes sites for a violated category.
type Recommender interface {
	Recommend(category string, isochrones map[model.Mode]*isochrone.Isochrone) (*placement.Recommendation, error)
}

// Observer receives analysis telemetry.
type Observer interface {
	ObserveAnalysis(elapsed time.Duration, err error)
	ObserveCategory(category string, status accessibility.Status)
}

// Report is the outcome of one analysis.
type Report struct {
	Origin          model.Origin                         `json:"origin"`
	Accessibility   *accessibility.Result                `json:"accessibility"`
	Recommendations map[string]*placement.Recommendation `json:"recommendations"`
}

// Sites flattens the recommended sites for storage.
func (r *Report) Sites() []store.RunSite {
	var out []store.RunSite
	for _, category := range r.Accessibility.Order {
		rec, ok := r.Recommendations[category]
		if !ok {
			continue
		}
		for _, s := range rec.Sites {
			out = append(out, store.RunSite{
				Category:  category,
				Heuristic: string(s.Heuristic),
				Within:    string(s.Within),
				Criterion: s.Criterion,
				Point:     s.Point,
			})
		}
	}
	return out
}

// Options tunes a Runner.
type Options struct {
	// Timeout bounds one origin's analysis; zero means no limit.
	Timeout time.Duration
	// Concurrency bounds RunBatch; values below 1 mean 1.
	Concurrency int
}

// Runner orchestrates evaluation and placement.
type Runner struct {
	evaluator   Evaluator
	recommender Recommender
	store       store.Store
	observer    Observer
	opts        Options
	log         *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore persists every run.
func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithObserver reports durations and category outcomes.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a Runner.
func NewRunner(evaluator Evaluator, recommender Recommender, opts Options, options ...Option) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	r := &Runner{
		evaluator:   evaluator,
		recommender: recommender,
		opts:        opts,
		log:         zap.L().With(zap.String("component", "analysis")),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Run analyses one origin without persisting it.
func (r *Runner) Run(ctx context.Context, origin model.Origin) (*Report, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	report, err := r.run(ctx, origin)
	if r.observer != nil {
		r.observer.ObserveAnalysis(time.Since(start), err)
		if report != nil {
			for _, c := range report.Accessibility.Order {
				r.observer.ObserveCategory(c, report.Accessibility.Categories[c].Status)
			}
		}
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, origin model.Origin) (*Report, error) {
	res, err := r.evaluator.Evaluate(ctx, origin.Point)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: evaluate")
	}

	report := &Report{
		Origin:          origin,
		Accessibility:   res,
		Recommendations: map[string]*placement.Recommendation{},
	}
	for _, category := range res.Violated() {
		rec, err := r.recommender.Recommend(category, res.Categories[category].ByMode())
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: recommend %s", category)
		}
		report.Recommendations[category] = rec
	}
	return report, nil
}

// Analyze runs and, when a store is configured, persists one origin. The
// returned run is nil without a store.
func (r *Runner) Analyze(ctx context.Context, origin model.Origin) (*model.Run, *Report, error) {
	if r.store == nil {
		report, err := r.Run(ctx, origin)
		return nil, report, err
	}

	run, err := r.store.CreateRun(ctx, origin)
	if err != nil {
		return nil, nil, eris.Wrap(err, "analysis: create run")
	}
	log := r.log.With(zap.String("run_id", run.ID))
	if err := r.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		log.Warn("failed to mark run running", zap.Error(err))
	}

	report, runErr := r.Run(ctx, origin)
	if runErr != nil {
		// The caller's context may be done; record the failure regardless.
		if err := r.store.FailRun(context.WithoutCancel(ctx), run.ID, runErr.Error()); err != nil {
			log.Warn("failed to record run failure", zap.Error(err))
		}
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
		return run, nil, runErr
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return run, report, eris.Wrap(err, "analysis: encode report")
	}
	if _, err := r.store.SaveSites(ctx, run.ID, report.Sites()); err != nil {
		return run, report, eris.Wrap(err, "analysis: save sites")
	}
	if err := r.store.CompleteRun(ctx, run.ID, payload); err != nil {
		return run, report, eris.Wrap(err, "analysis: complete run")
	}
	run.Status = model.RunStatusComplete
	run.Result = payload
	return run, report, nil
}

// BatchResult is the outcome of one origin in a batch.
type BatchResult struct {
	Origin model.Origin
	RunID  string
	Report *Report
	Err    error
}

// BatchSummary counts batch outcomes.
type BatchSummary struct {
	Succeeded int64
	Failed    int64
}

// RunBatch analyses origins with at most Options.Concurrency in flight.
// Failures are recorded per origin and never abort the batch. Results keep
// the input order.
func (r *Runner) RunBatch(ctx context.Context, origins []model.Origin) ([]BatchResult, BatchSummary) {
	results := make([]BatchResult, len(origins))
	if len(origins) == 0 {
		return results, BatchSummary{}
	}

	r.log.Info("processing batch",
		zap.Int("origins", len(origins)),
		zap.Int("concurrency", r.opts.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	var succeeded, failed atomic.Int64
	for i, origin := range origins {
		g.Go(func() error {
			log := r.log.With(zap.String("origin", origin.Label))

			run, report, err := r.Analyze(gctx, origin)
			results[i] = BatchResult{Origin: origin, Report: report, Err: err}
			if run != nil {
				results[i].RunID = run.ID
			}
			if err != nil {
				failed.Add(1)
				log.Error("analysis failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Debug("analysis complete", zap.Strings("violated", report.Accessibility.Violated()))
			return nil
		})
	}
	_ = g.Wait()

	summary := BatchSummary{Succeeded: succeeded.Load(), Failed: failed.Load()}
	r.log.Info("batch complete",
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
	)
	return results, summary
}
