package aggregate

import (
	"fmt"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

// Rowwise reduces each record into its group independently. It accepts
// any key kind and any geometry, including none.
type Rowwise struct{}

func (Rowwise) Name() string { return "rowwise" }

func (Rowwise) Aggregate(c *feature.Collection, attribute string, m model.Metric) ([]Group, error) {
	if !c.HasAttribute(attribute) {
		return nil, fmt.Errorf("column %q not in schema", attribute)
	}
	var kernel Kernel
	if m != model.MetricCentroid {
		k, err := kernelFor(m)
		if err != nil {
			return nil, err
		}
		kernel = k
	}

	index := make(map[feature.Value]int)
	var groups []Group
	var accs []centroidAcc
	for i := range c.Len() {
		rec := c.At(i)
		key := rec.Get(attribute)
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, Group{Key: key})
			accs = append(accs, centroidAcc{})
		}
		groups[gi].Count++

		if kernel == nil {
			accs[gi].add(centroidOf(rec.Geometry))
			continue
		}
		v := kernel(rec.Geometry)
		if !isFinite(v) {
			return nil, fmt.Errorf("record %d: non-finite %s", i, m)
		}
		groups[gi].Value += v
	}
	if kernel == nil {
		for i := range groups {
			groups[i].Centroid, _ = accs[i].result()
		}
	}
	return groups, nil
}
