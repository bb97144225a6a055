package composer

import (
	"errors"
	"slices"
	"strings"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

// Order selects the group order of an aggregate response.
type Order int

const (
	// OrderAppearance keeps groups in first-appearance order.
	OrderAppearance Order = iota
	// OrderKey sorts groups by key with feature.Compare.
	OrderKey
)

var ErrUnsupportedOrder = errors.New("unsupported sort order (want appearance|key)")

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "appearance":
		return OrderAppearance, nil
	case "key":
		return OrderKey, nil
	default:
		return OrderAppearance, ErrUnsupportedOrder
	}
}

// Sorted returns res and its per-group cells in the requested order. The
// inputs are not modified.
func Sorted(o Order, res *aggregate.Result, cells []string) (*aggregate.Result, []string) {
	if o != OrderKey || len(res.Groups) < 2 {
		return res, cells
	}
	idx := make([]int, len(res.Groups))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return feature.Compare(res.Groups[a].Key, res.Groups[b].Key)
	})

	out := *res
	out.Groups = make([]aggregate.Group, len(idx))
	var outCells []string
	if cells != nil {
		outCells = make([]string, len(idx))
	}
	for to, from := range idx {
		out.Groups[to] = res.Groups[from]
		if cells != nil && from < len(cells) {
			outCells[to] = cells[from]
		}
	}
	return &out, outCells
}
