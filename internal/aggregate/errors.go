package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
)

// ErrNotVectorizable is returned by the columnar strategy for inputs it
// cannot process in bulk. The engine retries those row by row.
var ErrNotVectorizable = errors.New("input not vectorizable")

type UnknownAttributeError struct {
	Attribute string
	Available []string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("unknown attribute %q (available: %s)", e.Attribute, strings.Join(e.Available, ", "))
}

// CRSMismatchError means a metric measurement was requested on a collection
// that is not in the configured metric CRS.
type CRSMismatchError struct {
	Metric model.Metric
	Want   string
	Got    string
}

func (e *CRSMismatchError) Error() string {
	return fmt.Sprintf("%s requires collection in %s, got %s", e.Metric, e.Want, e.Got)
}

// AggregationFailure carries both errors when the primary and the fallback
// strategy failed on the same input.
type AggregationFailure struct {
	Attribute string
	Metric    model.Metric
	Primary   error
	Fallback  error
}

func (e *AggregationFailure) Error() string {
	return fmt.Sprintf("aggregate %s by %q: primary: %v; fallback: %v", e.Metric, e.Attribute, e.Primary, e.Fallback)
}

func (e *AggregationFailure) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}
