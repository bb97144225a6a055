// Package composer shapes engine results into response bodies. Field names
// are the same for every metric; group order is kept as produced.
package composer

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/crs"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

type AttributesResponse struct {
	Layer       string   `json:"layer"`
	FeatureList []string `json:"feature_list"`
}

// Measure is an area or perimeter sum, or a centroid point.
type Measure struct {
	centroid bool
	scalar   float64
	point    *aggregate.Centroid
}

func Scalar(v float64) Measure { return Measure{scalar: v} }

func Point(c *aggregate.Centroid) Measure { return Measure{centroid: true, point: c} }

func (m Measure) MarshalJSON() ([]byte, error) {
	if m.centroid {
		if m.point == nil {
			return []byte("null"), nil
		}
		return json.Marshal(m.point)
	}
	if math.IsNaN(m.scalar) || math.IsInf(m.scalar, 0) {
		return nil, fmt.Errorf("non-finite measure %v", m.scalar)
	}
	return json.Marshal(m.scalar)
}

type Item struct {
	FeatureClass feature.Value `json:"feature_class"`
	Value        Measure       `json:"value"`
	Count        int           `json:"count"`
	H3Cell       string        `json:"h3_cell,omitempty"`
}

type AggregateResponse struct {
	Layer       string `json:"layer"`
	Feature     string `json:"feature"`
	Metric      string `json:"metric"`
	CRS         string `json:"crs"`
	Unit        string `json:"unit"`
	Path        string `json:"path"`
	FeatureList []Item `json:"feature_list"`
}

type ClassResponse struct {
	Layer        string        `json:"layer"`
	Feature      string        `json:"feature"`
	FeatureClass feature.Value `json:"feature_class"`
	Metric       string        `json:"metric"`
	CRS          string        `json:"crs"`
	Unit         string        `json:"unit"`
	Value        Measure       `json:"value"`
	Count        int           `json:"count"`
}

func Attributes(layer string, names []string) AttributesResponse {
	if names == nil {
		names = []string{}
	}
	return AttributesResponse{Layer: layer, FeatureList: names}
}

// Aggregate maps res into the response shape. cells, when non-nil, holds
// the H3 cell of each group's centroid by group index.
func Aggregate(layer string, res *aggregate.Result, cells []string) AggregateResponse {
	items := make([]Item, len(res.Groups))
	for i, g := range res.Groups {
		it := Item{FeatureClass: g.Key, Count: g.Count}
		if res.Metric == model.MetricCentroid {
			it.Value = Point(g.Centroid)
		} else {
			it.Value = Scalar(g.Value)
		}
		if i < len(cells) {
			it.H3Cell = cells[i]
		}
		items[i] = it
	}
	return AggregateResponse{
		Layer:       layer,
		Feature:     res.Attribute,
		Metric:      res.Metric.String(),
		CRS:         res.CRS,
		Unit:        Unit(res.Metric, res.CRS),
		Path:        string(res.Path),
		FeatureList: items,
	}
}

func Class(layer string, m aggregate.ClassMeasure) ClassResponse {
	return ClassResponse{
		Layer:        layer,
		Feature:      m.Attribute,
		FeatureClass: m.Class,
		Metric:       model.MetricArea.String(),
		CRS:          m.CRS,
		Unit:         Unit(model.MetricArea, m.CRS),
		Value:        Scalar(m.Area),
		Count:        m.Count,
	}
}

// Unit names the unit of a metric's values in the given CRS.
func Unit(m model.Metric, crsID string) string {
	c, err := crs.Parse(crsID)
	if err != nil {
		return ""
	}
	if m == model.MetricArea {
		return "square " + c.Unit
	}
	return c.Unit
}

// Encode marshals a response body.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return b, nil
}
