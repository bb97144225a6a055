package crs

import (
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

const DefaultCacheSize = 64

type pair struct {
	from, to int
}

// Registry compiles source to target transforms and keeps the most
// recently used ones. Safe for concurrent use.
type Registry struct {
	cache *lru.Cache[pair, orb.Projection]
}

func NewRegistry(size int) (*Registry, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[pair, orb.Projection](size)
	if err != nil {
		return nil, fmt.Errorf("crs transform cache: %w", err)
	}
	return &Registry{cache: c}, nil
}

func identity(p orb.Point) orb.Point { return p }

// Transformer returns the projection mapping coordinates in from to to.
func (r *Registry) Transformer(from, to string) (orb.Projection, error) {
	src, err := Parse(from)
	if err != nil {
		return nil, fmt.Errorf("source crs: %w", err)
	}
	dst, err := Parse(to)
	if err != nil {
		return nil, fmt.Errorf("target crs: %w", err)
	}
	key := pair{from: src.Code, to: dst.Code}
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}
	p := compose(src, dst)
	r.cache.Add(key, p)
	return p, nil
}

func compose(src, dst CRS) orb.Projection {
	switch {
	case src.Code == dst.Code:
		return identity
	case !src.IsProjected() && !dst.IsProjected():
		// geographic realisations are treated as coincident
		return identity
	case !src.IsProjected():
		return dst.fromGeo
	case !dst.IsProjected():
		return src.toGeo
	default:
		toGeo, fromGeo := src.toGeo, dst.fromGeo
		return func(p orb.Point) orb.Point { return fromGeo(toGeo(p)) }
	}
}

// Transform converts a single point.
func (r *Registry) Transform(p orb.Point, from, to string) (orb.Point, error) {
	proj, err := r.Transformer(from, to)
	if err != nil {
		return orb.Point{}, err
	}
	out := proj(p)
	if !finite(out) {
		return orb.Point{}, fmt.Errorf("transform %v from %s to %s: non-finite result", p, from, to)
	}
	return out, nil
}

var errNonFinite = errors.New("non-finite coordinate")

// Reproject returns a new collection with every geometry transformed into
// target. The input collection is left untouched.
func (r *Registry) Reproject(c *feature.Collection, target string) (*feature.Collection, error) {
	if c.CRS() == "" {
		return nil, fmt.Errorf("reproject: %w", &UnknownCRSError{ID: ""})
	}
	proj, err := r.Transformer(c.CRS(), target)
	if err != nil {
		return nil, fmt.Errorf("reproject: %w", err)
	}
	dst, err := Normalize(target)
	if err != nil {
		return nil, fmt.Errorf("reproject: %w", err)
	}

	bad := false
	guarded := func(p orb.Point) orb.Point {
		q := proj(p)
		if !finite(q) {
			bad = true
		}
		return q
	}

	geoms := make([]orb.Geometry, c.Len())
	for i := range c.Len() {
		g := c.At(i).Geometry
		if g == nil {
			continue
		}
		geoms[i] = project.Geometry(orb.Clone(g), guarded)
		if bad {
			return nil, fmt.Errorf("reproject record %d from %s to %s: %w", i, c.CRS(), dst, errNonFinite)
		}
	}
	return c.WithGeometries(dst, geoms)
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
