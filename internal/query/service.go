// Package query runs one request end to end: load the layer's dataset,
// reproject it into the metric CRS, aggregate, and enrich centroids.
package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/observability"
	"github.com/mohammed-shakir/feature-aggregator/internal/crs"
	"github.com/mohammed-shakir/feature-aggregator/internal/dataset"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
	mylog "github.com/mohammed-shakir/feature-aggregator/internal/logger"
	"github.com/mohammed-shakir/feature-aggregator/internal/mapper"
	"github.com/mohammed-shakir/feature-aggregator/internal/queryevents"
)

// Loader reads a dataset into memory.
type Loader interface {
	Load(ctx context.Context, path string) (*feature.Collection, error)
}

type Options struct {
	Loader Loader
	Engine *aggregate.Engine
	Proj   *crs.Registry

	// PathFor resolves a layer name to its dataset path.
	PathFor func(layer string) string

	// Cells enriches centroids with their H3 cell at H3Res. Nil disables.
	Cells mapper.Interface
	H3Res int

	Events queryevents.Sink
	Logger *slog.Logger
}

type Service struct {
	loader  Loader
	pathFor func(string) string
	engine  *aggregate.Engine
	proj    *crs.Registry
	cells   mapper.Interface
	h3Res   int
	events  queryevents.Sink
	log     *slog.Logger
}

// Outcome is an aggregate result plus the H3 cell of each group's
// centroid (by group index) when enrichment is on.
type Outcome struct {
	Layer  string
	Result *aggregate.Result
	Cells  []string
}

func New(opts Options) (*Service, error) {
	if opts.Loader == nil || opts.PathFor == nil || opts.Engine == nil {
		return nil, errors.New("query: loader, path resolver and engine are required")
	}
	s := &Service{
		loader:  opts.Loader,
		pathFor: opts.PathFor,
		engine:  opts.Engine,
		proj:    opts.Proj,
		cells:   opts.Cells,
		h3Res:   opts.H3Res,
		events:  opts.Events,
		log:     opts.Logger,
	}
	if s.proj == nil {
		p, err := crs.NewRegistry(crs.DefaultCacheSize)
		if err != nil {
			return nil, err
		}
		s.proj = p
	}
	if s.events == nil {
		s.events = queryevents.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// Attributes lists the groupable columns of a layer.
func (s *Service) Attributes(ctx context.Context, layer string) ([]string, error) {
	c, err := s.loader.Load(ctx, s.pathFor(layer))
	if err != nil {
		return nil, err
	}
	return s.engine.ListAttributes(c), nil
}

func (s *Service) Aggregate(ctx context.Context, layer, attribute string, m model.Metric) (*Outcome, error) {
	ctx = mylog.WithQuery(ctx, layer, attribute)
	start := time.Now()
	ev := queryevents.Event{Layer: layer, Feature: attribute, Metric: m.String(), RequestID: mylog.RequestID(ctx)}

	out, records, err := s.aggregate(ctx, layer, attribute, m)
	ev.Records = records
	if out != nil {
		ev.Path = string(out.Result.Path)
		ev.Groups = out.Result.Len()
	}
	s.publish(ev, start, err)
	return out, err
}

func (s *Service) aggregate(ctx context.Context, layer, attribute string, m model.Metric) (*Outcome, int, error) {
	c, err := s.loadMetric(ctx, layer)
	if err != nil {
		return nil, 0, err
	}
	res, err := s.engine.Aggregate(ctx, c, attribute, m)
	if err != nil {
		return nil, c.Len(), err
	}
	out := &Outcome{Layer: layer, Result: res}
	if m == model.MetricCentroid && s.cells != nil && s.h3Res >= 0 {
		out.Cells = s.cellsFor(ctx, res)
	}
	return out, c.Len(), nil
}

// MeasureClass sums the area of one class. The class is compared as the
// raw string from the request.
func (s *Service) MeasureClass(ctx context.Context, layer, attribute, class string) (aggregate.ClassMeasure, error) {
	ctx = mylog.WithQuery(ctx, layer, attribute)
	start := time.Now()
	ev := queryevents.Event{
		Layer:     layer,
		Feature:   attribute,
		Metric:    model.MetricArea.String(),
		Class:     class,
		RequestID: mylog.RequestID(ctx),
	}

	var (
		out aggregate.ClassMeasure
		err error
	)
	c, err := s.loadMetric(ctx, layer)
	if err == nil {
		ev.Records = c.Len()
		out, err = s.engine.MeasureClass(ctx, c, attribute, feature.String(class))
		if out.Count > 0 {
			ev.Groups = 1
		}
	}
	s.publish(ev, start, err)
	return out, err
}

// loadMetric loads the layer and reprojects it into the metric CRS.
func (s *Service) loadMetric(ctx context.Context, layer string) (*feature.Collection, error) {
	c, err := s.loader.Load(ctx, s.pathFor(layer))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.proj.Reproject(c, s.engine.MetricCRS())
	if err != nil {
		return nil, err
	}
	took := time.Since(start)
	observability.ObserveReprojection(s.engine.MetricCRS(), took.Seconds())
	s.log.DebugContext(ctx, "reprojected",
		"from", c.CRS(),
		"to", out.CRS(),
		"records", out.Len(),
		"took", took,
	)
	return out, nil
}

func (s *Service) cellsFor(ctx context.Context, res *aggregate.Result) []string {
	cells := make([]string, len(res.Groups))
	for i, g := range res.Groups {
		if g.Centroid == nil {
			continue
		}
		p, err := s.proj.Transform(orb.Point{g.Centroid.X, g.Centroid.Y}, res.CRS, "EPSG:4326")
		if err == nil {
			cells[i], err = s.cells.CellForPoint(p[0], p[1], s.h3Res)
		}
		if err != nil {
			s.log.WarnContext(ctx, "centroid cell lookup failed", "group", g.Key.String(), "err", err)
		}
	}
	return cells
}

func (s *Service) publish(ev queryevents.Event, start time.Time, err error) {
	ev.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	ev.Outcome = Classify(err)
	s.events.Publish(ev)
}

// Classify names an error class for events and logs.
func Classify(err error) string {
	var (
		nf *dataset.NotFoundError
		uf *dataset.UnsupportedFormatError
		ua *aggregate.UnknownAttributeError
		cm *aggregate.CRSMismatchError
		af *aggregate.AggregationFailure
		uc *crs.UnknownCRSError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &uf):
		return "unsupported_format"
	case errors.As(err, &ua):
		return "unknown_attribute"
	case errors.As(err, &uc):
		return "unknown_crs"
	case errors.As(err, &cm):
		return "crs_mismatch"
	case errors.As(err, &af):
		return "aggregation_failure"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
