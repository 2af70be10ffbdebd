// Package accessibility evaluates an origin against the per-category
// accessibility standards: each category's isochrones are built and checked
// for a facility of a matching amenity.
package accessibility

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/failure"
	"github.com/sells-group/access-cli/internal/geometry"
	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/model"
	"github.com/sells-group/access-cli/internal/refdata"
)

// Status is the outcome of one category.
type Status string

const (
	StatusOK           Status = "ok"
	StatusViolated     Status = "violated"
	StatusUndetermined Status = "undetermined"
)

// IsochroneBuilder builds isochrones. *isochrone.Builder satisfies it.
type IsochroneBuilder interface {
	Build(ctx context.Context, req isochrone.Request) (*isochrone.Isochrone, error)
}

// ErrorInfo describes why a category could not be decided.
type ErrorInfo struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// CategoryResult is the evaluation of one category.
type CategoryResult struct {
	Category string `json:"category"`
	OK       bool   `json:"ok"`
	Status   Status `json:"status"`
	// Matched counts matching facilities inside any built isochrone.
	Matched    int                    `json:"matched_facilities"`
	Isochrones []*isochrone.Isochrone `json:"isochrones,omitempty"`
	Error      *ErrorInfo             `json:"error,omitempty"`
}

// ByMode returns the first built isochrone of each mode.
func (c *CategoryResult) ByMode() map[model.Mode]*isochrone.Isochrone {
	out := make(map[model.Mode]*isochrone.Isochrone, len(c.Isochrones))
	for _, iso := range c.Isochrones {
		if _, ok := out[iso.Mode]; !ok {
			out[iso.Mode] = iso
		}
	}
	return out
}

// Result is the evaluation of every category for one origin.
type Result struct {
	Origin     model.Point                `json:"origin"`
	Categories map[string]*CategoryResult `json:"categories"`
	// Order lists categories in rule table order.
	Order []string `json:"order"`
}

// Violated lists the categories whose status is violated, in table order.
func (r *Result) Violated() []string {
	var out []string
	for _, c := range r.Order {
		if r.Categories[c].Status == StatusViolated {
			out = append(out, c)
		}
	}
	return out
}

// Evaluator checks origins against a rule table.
type Evaluator struct {
	builder IsochroneBuilder
	data    *refdata.Data
	table   Table
	log     *zap.Logger
}

// NewEvaluator creates an Evaluator. The table is validated.
func NewEvaluator(builder IsochroneBuilder, data *refdata.Data, table Table) (*Evaluator, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if data == nil {
		data = &refdata.Data{}
	}
	return &Evaluator{
		builder: builder,
		data:    data,
		table:   table,
		log:     zap.L().With(zap.String("component", "accessibility")),
	}, nil
}

// Categories lists the evaluated categories in table order.
func (e *Evaluator) Categories() []string { return e.table.Categories() }

// Table returns the rule table.
func (e *Evaluator) Table() Table { return e.table }

type built struct {
	iso *isochrone.Isochrone
	err error
}

// Evaluate builds every category's isochrones from origin and decides its
// status. A failed isochrone only affects the categories that use it, except
// failure.DataLoad, which aborts the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, origin model.Point) (*Result, error) {
	res := &Result{
		Origin:     origin,
		Categories: make(map[string]*CategoryResult, len(e.table)),
		Order:      e.table.Categories(),
	}
	memo := map[IsochroneRule]built{}

	for _, rule := range e.table {
		isos := make([]built, len(rule.Isochrones))
		for i, ir := range rule.Isochrones {
			b, ok := memo[ir]
			if !ok {
				iso, err := e.builder.Build(ctx, isochrone.Request{
					Origin: origin,
					Mode:   ir.Mode,
					Limit:  ir.Limit,
					Unit:   ir.Unit,
				})
				if failure.Is(err, failure.DataLoad) {
					return nil, eris.Wrapf(err, "accessibility: evaluate %s", rule.Category)
				}
				if err != nil && ctx.Err() != nil {
					return nil, eris.Wrap(ctx.Err(), "accessibility: evaluate")
				}
				b = built{iso: iso, err: err}
				memo[ir] = b
			}
			isos[i] = b
		}

		cr, err := e.decide(rule, isos)
		if err != nil {
			return nil, err
		}
		res.Categories[rule.Category] = cr
		e.log.Debug("category evaluated",
			zap.String("category", rule.Category),
			zap.String("status", string(cr.Status)),
			zap.Int("matched", cr.Matched),
		)
	}
	return res, nil
}

func (e *Evaluator) decide(rule Rule, isos []built) (*CategoryResult, error) {
	cr := &CategoryResult{Category: rule.Category}
	facilities := e.data.FacilitiesOf(rule.Amenities)
	points := make([]model.Point, len(facilities))
	for i, f := range facilities {
		points[i] = f.Point
	}

	inside := make([]bool, len(points))
	var hits, misses int
	var firstErr error
	for _, b := range isos {
		if b.err != nil {
			if firstErr == nil {
				firstErr = b.err
			}
			continue
		}
		cr.Isochrones = append(cr.Isochrones, b.iso)

		found := false
		if len(points) > 0 {
			contained, err := geometry.ContainsPoints(b.iso.Polygon, points)
			if err != nil {
				return nil, eris.Wrapf(err, "accessibility: test %s facilities", rule.Category)
			}
			for i, ok := range contained {
				if ok {
					inside[i] = true
					found = true
				}
			}
		}
		if found {
			hits++
		} else {
			misses++
		}
	}
	for _, ok := range inside {
		if ok {
			cr.Matched++
		}
	}

	switch {
	case rule.Combinator == All && misses > 0:
		cr.Status = StatusViolated
	case rule.Combinator != All && hits > 0:
		cr.Status = StatusOK
	case firstErr != nil:
		cr.Status = StatusUndetermined
		cr.Error = &ErrorInfo{Kind: failure.KindOf(firstErr), Message: firstErr.Error()}
	case rule.Combinator == All:
		cr.Status = StatusOK
	default:
		cr.Status = StatusViolated
	}
	cr.OK = cr.Status == StatusOK
	return cr, nil
}

// String renders a one-line summary, e.g. "school=ok".
func (c *CategoryResult) String() string {
	return fmt.Sprintf("%s=%s", c.Category, c.Status)
}
