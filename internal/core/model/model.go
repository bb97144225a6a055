// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
)

type Metric int

const (
	MetricArea Metric = iota
	MetricPerimeter
	MetricCentroid
)

func (m Metric) String() string {
	switch m {
	case MetricArea:
		return "area"
	case MetricPerimeter:
		return "perimeter"
	case MetricCentroid:
		return "centroid"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric accepts the path segment form ("area", "perimeter", "centroid").
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "area":
		return MetricArea, nil
	case "perimeter", "length":
		return MetricPerimeter, nil
	case "centroid":
		return MetricCentroid, nil
	default:
		return 0, fmt.Errorf("unknown metric %q (want area|perimeter|centroid)", s)
	}
}

// Measured reports whether the metric sums metric-unit measurements.
func (m Metric) Measured() bool { return m == MetricArea || m == MetricPerimeter }
