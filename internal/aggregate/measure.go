package aggregate

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
)

// Kernel measures a single geometry in the units of its CRS.
type Kernel func(g orb.Geometry) float64

// Kernels holds the summable metrics. Centroid is reduced separately.
var Kernels = map[model.Metric]Kernel{
	model.MetricArea:      Area,
	model.MetricPerimeter: Length,
}

func kernelFor(m model.Metric) (Kernel, error) {
	k, ok := Kernels[m]
	if !ok {
		return nil, fmt.Errorf("no measurement kernel for metric %s", m)
	}
	return k, nil
}

// Area is the planar area; zero for points, lines and missing geometry.
func Area(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return planar.Area(g)
}

// Length is the planar length of lines and the ring length (holes
// included) of polygons.
func Length(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return planar.Length(g)
}

// centroidPart is one geometry's contribution to a group centroid.
type centroidPart struct {
	point  orb.Point
	weight float64
	dim    int
	ok     bool
}

func centroidOf(g orb.Geometry) centroidPart {
	if g == nil || numPoints(g) == 0 {
		return centroidPart{}
	}
	dim := g.Dimensions()
	p, area := planar.CentroidArea(g)
	if !finite(p) {
		return centroidPart{}
	}
	var w float64
	switch dim {
	case 2:
		w = area
	case 1:
		w = planar.Length(g)
	default:
		w = float64(numPoints(g))
	}
	return centroidPart{point: p, weight: w, dim: dim, ok: true}
}

// centroidAcc reduces parts to a weighted centroid over the highest
// dimension present. Lower-dimensional parts are ignored once a higher one
// has been seen.
type centroidAcc struct {
	dim    int
	sx, sy float64
	w      float64
	ux, uy float64
	n      int
}

func (a *centroidAcc) add(p centroidPart) {
	if !p.ok {
		return
	}
	if a.n > 0 && p.dim < a.dim {
		return
	}
	if a.n == 0 || p.dim > a.dim {
		*a = centroidAcc{dim: p.dim}
	}
	a.sx += p.point[0] * p.weight
	a.sy += p.point[1] * p.weight
	a.w += p.weight
	a.ux += p.point[0]
	a.uy += p.point[1]
	a.n++
}

func (a *centroidAcc) result() (*Centroid, bool) {
	if a.n == 0 {
		return nil, false
	}
	if a.w > 0 {
		return &Centroid{X: a.sx / a.w, Y: a.sy / a.w}, true
	}
	// degenerate weights: plain mean of part centroids
	return &Centroid{X: a.ux / float64(a.n), Y: a.uy / float64(a.n)}, true
}

func numPoints(g orb.Geometry) int {
	switch g := g.(type) {
	case orb.Point:
		return 1
	case orb.MultiPoint:
		return len(g)
	case orb.LineString:
		return len(g)
	case orb.Ring:
		return len(g)
	case orb.MultiLineString:
		n := 0
		for _, ls := range g {
			n += len(ls)
		}
		return n
	case orb.Polygon:
		n := 0
		for _, r := range g {
			n += len(r)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range g {
			n += numPoints(p)
		}
		return n
	case orb.Collection:
		n := 0
		for _, c := range g {
			n += numPoints(c)
		}
		return n
	case orb.Bound:
		return 4
	default:
		return 0
	}
}

func finite(p orb.Point) bool {
	return isFinite(p[0]) && isFinite(p[1])
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
