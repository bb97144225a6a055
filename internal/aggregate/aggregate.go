// Package aggregate groups a feature collection by one attribute and
// reduces each group to an area or perimeter sum or to a centroid.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/observability"
	"github.com/mohammed-shakir/feature-aggregator/internal/crs"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

// Strategy computes per-group results in the collection's own CRS.
type Strategy interface {
	Name() string
	Aggregate(c *feature.Collection, attribute string, m model.Metric) ([]Group, error)
}

type Path string

const (
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
)

type Centroid struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Group is the reduction of every record sharing Key. Value holds the
// area or perimeter sum; Centroid is set for centroid queries on groups
// with at least one non-empty geometry.
type Group struct {
	Key      feature.Value
	Count    int
	Value    float64
	Centroid *Centroid
}

// Result lists groups in order of first appearance of their key.
type Result struct {
	Attribute string
	Metric    model.Metric
	CRS       string
	Path      Path
	Groups    []Group
}

func (r *Result) Lookup(key feature.Value) (Group, bool) {
	for _, g := range r.Groups {
		if g.Key == key {
			return g, true
		}
	}
	return Group{}, false
}

func (r *Result) Len() int { return len(r.Groups) }

// ClassMeasure is the total area of the records whose attribute equals
// Class exactly.
type ClassMeasure struct {
	Attribute string
	Class     feature.Value
	CRS       string
	Area      float64
	Count     int
}

type Config struct {
	MetricCRS  string
	DisplayCRS string
}

type Option func(*Engine)

func WithStrategies(primary, fallback Strategy) Option {
	return func(e *Engine) {
		e.primary = primary
		e.fallback = fallback
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

type Engine struct {
	metricCRS  string
	displayCRS string
	proj       *crs.Registry
	primary    Strategy
	fallback   Strategy
	log        *slog.Logger
}

func New(cfg Config, proj *crs.Registry, opts ...Option) (*Engine, error) {
	metric, err := crs.Parse(cfg.MetricCRS)
	if err != nil {
		return nil, fmt.Errorf("metric crs: %w", err)
	}
	if !metric.IsProjected() {
		return nil, fmt.Errorf("metric crs %s is not projected", metric.ID())
	}
	display, err := crs.Parse(cfg.DisplayCRS)
	if err != nil {
		return nil, fmt.Errorf("display crs: %w", err)
	}
	if proj == nil {
		if proj, err = crs.NewRegistry(crs.DefaultCacheSize); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		metricCRS:  metric.ID(),
		displayCRS: display.ID(),
		proj:       proj,
		primary:    Columnar{},
		fallback:   Rowwise{},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) MetricCRS() string  { return e.metricCRS }
func (e *Engine) DisplayCRS() string { return e.displayCRS }

// ListAttributes returns the groupable columns of c.
func (e *Engine) ListAttributes(c *feature.Collection) []string {
	return c.Schema()
}

// Aggregate groups c by attribute and reduces each group by m. Area and
// perimeter need c in the metric CRS; centroids are computed in c's CRS and
// reported in the display CRS. An empty collection yields an empty result.
func (e *Engine) Aggregate(ctx context.Context, c *feature.Collection, attribute string, m model.Metric) (*Result, error) {
	res := &Result{
		Attribute: attribute,
		Metric:    m,
		CRS:       e.resultCRS(m),
		Path:      PathPrimary,
		Groups:    []Group{},
	}
	if c.Len() == 0 {
		return res, nil
	}
	if !c.HasAttribute(attribute) {
		return nil, &UnknownAttributeError{Attribute: attribute, Available: c.Schema()}
	}
	if err := e.checkCRS(c, m); err != nil {
		return nil, err
	}

	groups, err := e.primary.Aggregate(c, attribute, m)
	if err != nil {
		e.log.WarnContext(ctx, "primary aggregation failed, retrying row by row",
			"strategy", e.primary.Name(),
			"attribute", attribute,
			"metric", m.String(),
			"err", err,
		)
		fgroups, ferr := e.fallback.Aggregate(c, attribute, m)
		if ferr != nil {
			observability.IncAggregation(m.String(), "failed")
			return nil, &AggregationFailure{Attribute: attribute, Metric: m, Primary: err, Fallback: ferr}
		}
		groups = fgroups
		res.Path = PathFallback
	}
	observability.IncAggregation(m.String(), string(res.Path))

	if m == model.MetricCentroid {
		if err := e.toDisplay(c.CRS(), groups); err != nil {
			return nil, err
		}
	}
	res.Groups = groups
	return res, nil
}

// MeasureClass sums the area of records whose attribute equals class. No
// match yields zero.
func (e *Engine) MeasureClass(ctx context.Context, c *feature.Collection, attribute string, class feature.Value) (ClassMeasure, error) {
	out := ClassMeasure{Attribute: attribute, Class: class, CRS: e.metricCRS}
	if c.Len() == 0 {
		return out, nil
	}
	if !c.HasAttribute(attribute) {
		return out, &UnknownAttributeError{Attribute: attribute, Available: c.Schema()}
	}
	if err := e.checkCRS(c, model.MetricArea); err != nil {
		return out, err
	}
	for i := range c.Len() {
		rec := c.At(i)
		if !rec.Get(attribute).Equal(class) {
			continue
		}
		v := Area(rec.Geometry)
		if !isFinite(v) {
			return out, fmt.Errorf("record %d: non-finite area", i)
		}
		out.Area += v
		out.Count++
	}
	e.log.DebugContext(ctx, "class measured", "attribute", attribute, "class", class.String(), "matches", out.Count)
	return out, nil
}

func (e *Engine) resultCRS(m model.Metric) string {
	if m.Measured() {
		return e.metricCRS
	}
	return e.displayCRS
}

func (e *Engine) checkCRS(c *feature.Collection, m model.Metric) error {
	if c.CRS() == "" {
		return &crs.UnknownCRSError{}
	}
	src, err := crs.Parse(c.CRS())
	if err != nil {
		return err
	}
	if m.Measured() && src.ID() != e.metricCRS {
		return &CRSMismatchError{Metric: m, Want: e.metricCRS, Got: src.ID()}
	}
	return nil
}

func (e *Engine) toDisplay(from string, groups []Group) error {
	for i := range groups {
		c := groups[i].Centroid
		if c == nil {
			continue
		}
		p, err := e.proj.Transform(orb.Point{c.X, c.Y}, from, e.displayCRS)
		if err != nil {
			return fmt.Errorf("centroid of group %s: %w", groups[i].Key, err)
		}
		groups[i].Centroid = &Centroid{X: p[0], Y: p[1]}
	}
	return nil
}
