package composer

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
)

var ErrNotCentroid = errors.New("geojson output is only available for centroids")

// CentroidFeatureCollection renders one Point feature per group. Groups
// without a centroid are left out.
func CentroidFeatureCollection(layer string, res *aggregate.Result, cells []string) ([]byte, error) {
	if res.Metric != model.MetricCentroid {
		return nil, ErrNotCentroid
	}
	fc := geojson.NewFeatureCollection()
	for i, g := range res.Groups {
		if g.Centroid == nil {
			continue
		}
		f := geojson.NewFeature(orb.Point{g.Centroid.X, g.Centroid.Y})
		f.Properties["feature_class"] = g.Key
		f.Properties["count"] = g.Count
		if i < len(cells) && cells[i] != "" {
			f.Properties["h3_cell"] = cells[i]
		}
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"layer":   layer,
		"feature": res.Attribute,
	}
	if res.CRS != "EPSG:4326" {
		fc.ExtraMembers["crs"] = map[string]any{
			"type":       "name",
			"properties": map[string]string{"name": res.CRS},
		}
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return b, nil
}
