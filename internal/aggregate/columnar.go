package aggregate

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

// Columnar factorizes the key column into dense group codes, measures the
// geometry column in one pass and reduces by code. It only accepts
// homogeneous scalar keys (nulls allowed) and simple non-nil geometries.
type Columnar struct{}

func (Columnar) Name() string { return "columnar" }

func (Columnar) Aggregate(c *feature.Collection, attribute string, m model.Metric) ([]Group, error) {
	keys, err := c.Column(attribute)
	if err != nil {
		return nil, err
	}
	codes, uniq, err := encodeKeys(keys)
	if err != nil {
		return nil, err
	}
	geoms := c.Geometries()
	if err := checkGeometries(geoms); err != nil {
		return nil, err
	}

	groups := make([]Group, len(uniq))
	for i, k := range uniq {
		groups[i].Key = k
	}
	for _, code := range codes {
		groups[code].Count++
	}

	if m == model.MetricCentroid {
		accs := make([]centroidAcc, len(uniq))
		for i, g := range geoms {
			accs[codes[i]].add(centroidOf(g))
		}
		for i := range groups {
			groups[i].Centroid, _ = accs[i].result()
		}
		return groups, nil
	}

	kernel, err := kernelFor(m)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(geoms))
	for i, g := range geoms {
		values[i] = kernel(g)
		if !isFinite(values[i]) {
			return nil, fmt.Errorf("record %d: non-finite %s", i, m)
		}
	}
	for i, v := range values {
		groups[codes[i]].Value += v
	}
	return groups, nil
}

func checkGeometries(geoms []orb.Geometry) error {
	for i, g := range geoms {
		switch g.(type) {
		case nil:
			return fmt.Errorf("%w: record %d has no geometry", ErrNotVectorizable, i)
		case orb.Collection:
			return fmt.Errorf("%w: record %d is a geometry collection", ErrNotVectorizable, i)
		}
	}
	return nil
}

// encodeKeys picks a typed column for the keys and factorizes it.
func encodeKeys(keys []feature.Value) ([]int, []feature.Value, error) {
	kind := feature.KindNull
	for i, k := range keys {
		switch k.Kind() {
		case feature.KindNull:
			continue
		case feature.KindNaN, feature.KindComposite:
			return nil, nil, fmt.Errorf("%w: record %d has %s key", ErrNotVectorizable, i, k.Kind())
		}
		if kind == feature.KindNull {
			kind = k.Kind()
		} else if k.Kind() != kind {
			return nil, nil, fmt.Errorf("%w: mixed key types %s and %s", ErrNotVectorizable, kind, k.Kind())
		}
	}

	valid := make([]bool, len(keys))
	for i, k := range keys {
		valid[i] = !k.IsNull()
	}
	switch kind {
	case feature.KindNumber:
		col := make([]float64, len(keys))
		for i, k := range keys {
			col[i], _ = k.Num()
		}
		codes, uniq := factorize(col, valid, feature.Number)
		return codes, uniq, nil
	case feature.KindBool:
		col := make([]bool, len(keys))
		for i, k := range keys {
			col[i], _ = k.Boolean()
		}
		codes, uniq := factorize(col, valid, feature.Bool)
		return codes, uniq, nil
	default:
		col := make([]string, len(keys))
		for i, k := range keys {
			col[i], _ = k.Str()
		}
		codes, uniq := factorize(col, valid, feature.String)
		return codes, uniq, nil
	}
}

// factorize assigns dense codes in first-appearance order. Invalid entries
// share a single null group.
func factorize[K comparable](col []K, valid []bool, wrap func(K) feature.Value) ([]int, []feature.Value) {
	codes := make([]int, len(col))
	seen := make(map[K]int)
	nullCode := -1
	var uniq []feature.Value
	for i, k := range col {
		if !valid[i] {
			if nullCode < 0 {
				nullCode = len(uniq)
				uniq = append(uniq, feature.Null())
			}
			codes[i] = nullCode
			continue
		}
		code, ok := seen[k]
		if !ok {
			code = len(uniq)
			seen[k] = code
			uniq = append(uniq, wrap(k))
		}
		codes[i] = code
	}
	return codes, uniq
}
