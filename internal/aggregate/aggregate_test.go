package aggregate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

const metricCRS = "EPSG:31983"

func rect(x, y, w, h float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}, {x, y}}}
}

func rec(class feature.Value, g orb.Geometry) feature.Record {
	return feature.Record{Attributes: map[string]feature.Value{"class": class}, Geometry: g}
}

func landUse() *feature.Collection {
	return feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("urban"), rect(0, 0, 2, 5)),
		rec(feature.String("urban"), rect(10, 0, 4, 5)),
		rec(feature.String("rural"), rect(20, 0, 5, 6)),
	})
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(Config{MetricCRS: metricCRS, DisplayCRS: metricCRS}, nil, opts...)
	require.NoError(t, err)
	return e
}

func TestAggregate_AreaByClass(t *testing.T) {
	e := newEngine(t)
	res, err := e.Aggregate(context.Background(), landUse(), "class", model.MetricArea)
	require.NoError(t, err)

	require.Equal(t, 2, res.Len())
	assert.Equal(t, PathPrimary, res.Path)
	assert.Equal(t, metricCRS, res.CRS)

	urban, ok := res.Lookup(feature.String("urban"))
	require.True(t, ok)
	assert.InDelta(t, 30, urban.Value, 1e-9)
	assert.Equal(t, 2, urban.Count)

	rural, ok := res.Lookup(feature.String("rural"))
	require.True(t, ok)
	assert.InDelta(t, 30, rural.Value, 1e-9)

	// first appearance order
	assert.Equal(t, feature.String("urban"), res.Groups[0].Key)
}

func TestAggregate_PerimeterIncludesHoles(t *testing.T) {
	holed := orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}},
	}
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("a"), holed),
		rec(feature.String("b"), orb.LineString{{0, 0}, {3, 4}}),
	})
	res, err := newEngine(t).Aggregate(context.Background(), c, "class", model.MetricPerimeter)
	require.NoError(t, err)

	a, _ := res.Lookup(feature.String("a"))
	assert.InDelta(t, 48, a.Value, 1e-9)
	b, _ := res.Lookup(feature.String("b"))
	assert.InDelta(t, 5, b.Value, 1e-9)
}

func TestAggregate_SumPreservation(t *testing.T) {
	c := randomCollection(rand.New(rand.NewSource(7)), 200)
	res, err := newEngine(t).Aggregate(context.Background(), c, "class", model.MetricArea)
	require.NoError(t, err)

	var total, grouped float64
	for i := range c.Len() {
		total += Area(c.At(i).Geometry)
	}
	for _, g := range res.Groups {
		grouped += g.Value
	}
	assert.InEpsilon(t, total, grouped, 1e-9)
}

func TestAggregate_Monotonic(t *testing.T) {
	base := landUse()
	grown := feature.NewCollection(metricCRS, []string{"class"}, append(
		[]feature.Record{base.At(0), base.At(1), base.At(2)},
		rec(feature.String("urban"), rect(40, 0, 1, 1)),
	))
	e := newEngine(t)
	before, err := e.Aggregate(context.Background(), base, "class", model.MetricArea)
	require.NoError(t, err)
	after, err := e.Aggregate(context.Background(), grown, "class", model.MetricArea)
	require.NoError(t, err)

	b, _ := before.Lookup(feature.String("urban"))
	a, _ := after.Lookup(feature.String("urban"))
	if a.Value < b.Value {
		t.Fatalf("urban area shrank: %v -> %v", b.Value, a.Value)
	}
}

func TestAggregate_Centroid(t *testing.T) {
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("sq"), rect(0, 0, 2, 2)),
	})
	res, err := newEngine(t).Aggregate(context.Background(), c, "class", model.MetricCentroid)
	require.NoError(t, err)
	g, ok := res.Lookup(feature.String("sq"))
	require.True(t, ok)
	require.NotNil(t, g.Centroid)
	assert.InDelta(t, 1, g.Centroid.X, 1e-9)
	assert.InDelta(t, 1, g.Centroid.Y, 1e-9)
}

func TestAggregate_CentroidWeightsByArea(t *testing.T) {
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("a"), rect(0, 0, 2, 2)),    // area 4, centroid (1,1)
		rec(feature.String("a"), rect(10, 0, 4, 4)),   // area 16, centroid (12,2)
		rec(feature.String("a"), orb.Point{100, 100}), // lower dimension, ignored
	})
	res, err := newEngine(t).Aggregate(context.Background(), c, "class", model.MetricCentroid)
	require.NoError(t, err)
	g := res.Groups[0]
	assert.Equal(t, 3, g.Count)
	assert.InDelta(t, (4*1+16*12)/20.0, g.Centroid.X, 1e-9)
	assert.InDelta(t, (4*1+16*2)/20.0, g.Centroid.Y, 1e-9)
}

func TestAggregate_CentroidInDisplayCRS(t *testing.T) {
	e, err := New(Config{MetricCRS: metricCRS, DisplayCRS: "EPSG:4326"}, nil)
	require.NoError(t, err)
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("sq"), rect(333000, 7394000, 100, 100)),
	})
	res, err := e.Aggregate(context.Background(), c, "class", model.MetricCentroid)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", res.CRS)
	cen := res.Groups[0].Centroid
	require.NotNil(t, cen)
	// São Paulo area
	assert.InDelta(t, -46.6, cen.X, 0.2)
	assert.InDelta(t, -23.5, cen.Y, 0.2)
}

func TestAggregate_Empty(t *testing.T) {
	empty := feature.NewCollection(metricCRS, nil, nil)
	res, err := newEngine(t).Aggregate(context.Background(), empty, "class", model.MetricArea)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.NotNil(t, res.Groups)
}

func TestAggregate_UnknownAttribute(t *testing.T) {
	_, err := newEngine(t).Aggregate(context.Background(), landUse(), "does_not_exist", model.MetricArea)
	var ua *UnknownAttributeError
	if !errors.As(err, &ua) {
		t.Fatalf("err=%v want UnknownAttributeError", err)
	}
	assert.Contains(t, ua.Available, "class")
	assert.Contains(t, ua.Available, feature.GeometryColumn)
}

func TestAggregate_CRSMismatch(t *testing.T) {
	c := feature.NewCollection("EPSG:4326", []string{"class"}, []feature.Record{
		rec(feature.String("x"), rect(0, 0, 1, 1)),
	})
	e := newEngine(t)
	_, err := e.Aggregate(context.Background(), c, "class", model.MetricArea)
	var mm *CRSMismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, metricCRS, mm.Want)

	// centroids are not measured, any known crs works
	_, err = e.Aggregate(context.Background(), c, "class", model.MetricCentroid)
	require.NoError(t, err)
}

func TestAggregate_NullAndNaNKeys(t *testing.T) {
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.Null(), rect(0, 0, 1, 1)),
		rec(feature.Number(math.NaN()), rect(0, 0, 2, 1)),
		rec(feature.Null(), rect(0, 0, 3, 1)),
		rec(feature.Number(math.NaN()), rect(0, 0, 4, 1)),
		{Attributes: map[string]feature.Value{}, Geometry: rect(0, 0, 5, 1)},
	})
	res, err := newEngine(t).Aggregate(context.Background(), c, "class", model.MetricArea)
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	null, _ := res.Lookup(feature.Null())
	assert.InDelta(t, 9, null.Value, 1e-9)
	assert.Equal(t, 3, null.Count)
	nan, _ := res.Lookup(feature.Number(math.NaN()))
	assert.InDelta(t, 6, nan.Value, 1e-9)
}

func TestAggregate_FallbackOnMixedKeys(t *testing.T) {
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("1"), rect(0, 0, 1, 1)),
		rec(feature.Number(1), rect(0, 0, 2, 1)),
		rec(feature.Bool(true), nil),
	})
	res, err := newEngine(t).Aggregate(context.Background(), c, "class", model.MetricArea)
	require.NoError(t, err)
	assert.Equal(t, PathFallback, res.Path)
	assert.Equal(t, 3, res.Len())

	// string and number keys never merge
	s, _ := res.Lookup(feature.String("1"))
	n, _ := res.Lookup(feature.Number(1))
	assert.InDelta(t, 1, s.Value, 1e-9)
	assert.InDelta(t, 2, n.Value, 1e-9)
}

func TestAggregate_GroupByGeometry(t *testing.T) {
	sq := rect(0, 0, 1, 1)
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("a"), sq),
		rec(feature.String("b"), sq),
		rec(feature.String("c"), rect(5, 5, 2, 2)),
	})
	res, err := newEngine(t).Aggregate(context.Background(), c, feature.GeometryColumn, model.MetricArea)
	require.NoError(t, err)
	assert.Equal(t, PathFallback, res.Path)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, 2, res.Groups[0].Count)
	assert.InDelta(t, 2, res.Groups[0].Value, 1e-9)
}

type failing struct{ err error }

func (f failing) Name() string { return "failing" }

func (f failing) Aggregate(*feature.Collection, string, model.Metric) ([]Group, error) {
	return nil, f.err
}

type counting struct {
	Strategy
	calls int
}

func (c *counting) Aggregate(col *feature.Collection, a string, m model.Metric) ([]Group, error) {
	c.calls++
	return c.Strategy.Aggregate(col, a, m)
}

func TestAggregate_FallbackRunsOnceOnPrimaryError(t *testing.T) {
	fb := &counting{Strategy: Rowwise{}}
	e := newEngine(t, WithStrategies(failing{err: errors.New("boom")}, fb))

	res, err := e.Aggregate(context.Background(), landUse(), "class", model.MetricArea)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
	assert.Equal(t, PathFallback, res.Path)
	urban, _ := res.Lookup(feature.String("urban"))
	assert.InDelta(t, 30, urban.Value, 1e-9)
}

func TestAggregate_BothPathsFail(t *testing.T) {
	p := errors.New("primary broke")
	f := errors.New("fallback broke")
	e := newEngine(t, WithStrategies(failing{err: p}, failing{err: f}))

	_, err := e.Aggregate(context.Background(), landUse(), "class", model.MetricArea)
	var af *AggregationFailure
	require.ErrorAs(t, err, &af)
	assert.ErrorIs(t, err, p)
	assert.ErrorIs(t, err, f)
}

func TestAggregate_NonFiniteGeometryFailsBothPaths(t *testing.T) {
	c := feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{
		rec(feature.String("x"), orb.Polygon{{{0, 0}, {math.Inf(1), 0}, {1, 1}, {0, 0}}}),
	})
	_, err := newEngine(t).Aggregate(context.Background(), c, "class", model.MetricArea)
	var af *AggregationFailure
	require.ErrorAs(t, err, &af)
}

func TestStrategies_Agree(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := range 20 {
		c := randomCollection(r, 50+round*10)
		for _, m := range []model.Metric{model.MetricArea, model.MetricPerimeter, model.MetricCentroid} {
			col, err := Columnar{}.Aggregate(c, "class", m)
			require.NoError(t, err)
			row, err := Rowwise{}.Aggregate(c, "class", m)
			require.NoError(t, err)
			require.Len(t, row, len(col))

			for i := range col {
				require.Equal(t, col[i].Key, row[i].Key)
				assert.Equal(t, col[i].Count, row[i].Count)
				assertClose(t, col[i].Value, row[i].Value)
				if m == model.MetricCentroid {
					require.NotNil(t, col[i].Centroid)
					require.NotNil(t, row[i].Centroid)
					assertClose(t, col[i].Centroid.X, row[i].Centroid.X)
					assertClose(t, col[i].Centroid.Y, row[i].Centroid.Y)
				}
			}
		}
	}
}

func TestStrategies_AgreeAcrossKeyKinds(t *testing.T) {
	line := orb.LineString{{0, 0}, {3, 4}}
	point := orb.Point{7, 7}
	multi := orb.MultiPolygon{rect(0, 0, 1, 1), rect(5, 5, 2, 2)}
	collection := func(keys []feature.Value, geoms []orb.Geometry) *feature.Collection {
		recs := make([]feature.Record, len(keys))
		for i := range keys {
			recs[i] = rec(keys[i], geoms[i%len(geoms)])
		}
		return feature.NewCollection(metricCRS, []string{"class"}, recs)
	}
	rects := []orb.Geometry{rect(0, 0, 2, 3), rect(4, 1, 1, 1), rect(9, 9, 3, 2)}
	mixed := []orb.Geometry{rect(0, 0, 2, 2), line, point, multi}

	cases := []struct {
		name   string
		c      *feature.Collection
		groups int
	}{
		{
			name: "number keys with signed zero and nulls",
			c: collection([]feature.Value{
				feature.Number(0), feature.Number(math.Copysign(0, -1)), feature.Number(2.5),
				feature.Null(), feature.Number(2.5), feature.Number(-1),
			}, rects),
			groups: 4,
		},
		{
			name: "bool keys with nulls",
			c: collection([]feature.Value{
				feature.Bool(true), feature.Null(), feature.Bool(false), feature.Bool(true), feature.Null(),
			}, rects),
			groups: 3,
		},
		{
			name:   "all null keys",
			c:      collection([]feature.Value{feature.Null(), feature.Null(), feature.Null()}, rects),
			groups: 1,
		},
		{
			name: "mixed geometry dimensions",
			c: collection([]feature.Value{
				feature.String("a"), feature.String("a"), feature.String("b"), feature.String("a"),
				feature.String("b"), feature.String("c"), feature.String("c"), feature.String("a"),
			}, mixed),
			groups: 3,
		},
	}
	for _, tc := range cases {
		for _, m := range []model.Metric{model.MetricArea, model.MetricPerimeter, model.MetricCentroid} {
			col, err := Columnar{}.Aggregate(tc.c, "class", m)
			require.NoError(t, err, tc.name)
			row, err := Rowwise{}.Aggregate(tc.c, "class", m)
			require.NoError(t, err, tc.name)
			require.Len(t, col, tc.groups, tc.name)
			require.Len(t, row, tc.groups, tc.name)

			total := 0
			for i := range col {
				require.Equal(t, row[i].Key, col[i].Key, tc.name)
				require.Equal(t, row[i].Count, col[i].Count, tc.name)
				assert.Equal(t, row[i].Value, col[i].Value, "%s %s", tc.name, m)
				if m == model.MetricCentroid {
					require.NotNil(t, col[i].Centroid, tc.name)
					require.NotNil(t, row[i].Centroid, tc.name)
					assert.Equal(t, *row[i].Centroid, *col[i].Centroid, tc.name)
				}
				total += col[i].Count
			}
			assert.Equal(t, tc.c.Len(), total, tc.name)
		}
	}
}

func assertClose(t *testing.T, want, got float64) {
	t.Helper()
	if want == got {
		return
	}
	if math.Abs(want-got) > 1e-6*math.Max(math.Abs(want), math.Abs(got)) {
		t.Fatalf("values differ beyond 1e-6 relative: %v vs %v", want, got)
	}
}

func TestColumnar_Rejects(t *testing.T) {
	cases := map[string]*feature.Collection{
		"nil geometry": feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{rec(feature.String("a"), nil)}),
		"nan key":      feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{rec(feature.Number(math.NaN()), rect(0, 0, 1, 1))}),
		"collection":   feature.NewCollection(metricCRS, []string{"class"}, []feature.Record{rec(feature.String("a"), orb.Collection{orb.Point{1, 1}})}),
	}
	for name, c := range cases {
		_, err := Columnar{}.Aggregate(c, "class", model.MetricArea)
		if !errors.Is(err, ErrNotVectorizable) {
			t.Fatalf("%s: err=%v want ErrNotVectorizable", name, err)
		}
	}
}

func TestMeasureClass(t *testing.T) {
	e := newEngine(t)
	m, err := e.MeasureClass(context.Background(), landUse(), "class", feature.String("urban"))
	require.NoError(t, err)
	assert.InDelta(t, 30, m.Area, 1e-9)
	assert.Equal(t, 2, m.Count)

	m, err = e.MeasureClass(context.Background(), landUse(), "class", feature.String("forest"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Area)
	assert.Equal(t, 0, m.Count)
}

func TestMeasureClass_ExactMatchOnly(t *testing.T) {
	c := feature.NewCollection(metricCRS, []string{"code"}, []feature.Record{
		{Attributes: map[string]feature.Value{"code": feature.Number(1)}, Geometry: rect(0, 0, 1, 1)},
		{Attributes: map[string]feature.Value{"code": feature.String("1")}, Geometry: rect(0, 0, 2, 1)},
		{Attributes: map[string]feature.Value{"code": feature.Number(math.NaN())}, Geometry: rect(0, 0, 4, 1)},
	})
	e := newEngine(t)
	m, err := e.MeasureClass(context.Background(), c, "code", feature.String("1"))
	require.NoError(t, err)
	assert.InDelta(t, 2, m.Area, 1e-9)

	m, err = e.MeasureClass(context.Background(), c, "code", feature.Number(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Count)
}

func TestMeasureClass_Errors(t *testing.T) {
	e := newEngine(t)
	_, err := e.MeasureClass(context.Background(), landUse(), "nope", feature.String("urban"))
	var ua *UnknownAttributeError
	require.ErrorAs(t, err, &ua)

	geo := feature.NewCollection("EPSG:4326", []string{"class"}, []feature.Record{rec(feature.String("urban"), rect(0, 0, 1, 1))})
	_, err = e.MeasureClass(context.Background(), geo, "class", feature.String("urban"))
	var mm *CRSMismatchError
	require.ErrorAs(t, err, &mm)
}

func TestNew_RejectsGeographicMetricCRS(t *testing.T) {
	if _, err := New(Config{MetricCRS: "EPSG:4326", DisplayCRS: "EPSG:4326"}, nil); err == nil {
		t.Fatalf("expected error for geographic metric crs")
	}
	if _, err := New(Config{MetricCRS: metricCRS, DisplayCRS: "EPSG:0"}, nil); err == nil {
		t.Fatalf("expected error for unknown display crs")
	}
}

func randomCollection(r *rand.Rand, n int) *feature.Collection {
	classes := []string{"urban", "rural", "water", "forest"}
	recs := make([]feature.Record, n)
	for i := range recs {
		x := r.Float64() * 1000
		y := r.Float64() * 1000
		w := 1 + r.Float64()*50
		h := 1 + r.Float64()*50
		recs[i] = rec(feature.String(classes[r.Intn(len(classes))]), rect(x, y, w, h))
	}
	return feature.NewCollection(metricCRS, []string{"class"}, recs)
}
