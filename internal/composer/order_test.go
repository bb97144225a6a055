package composer

import (
	"errors"
	"math"
	"testing"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

func TestParseOrder(t *testing.T) {
	for in, want := range map[string]Order{"": OrderAppearance, "appearance": OrderAppearance, " KEY ": OrderKey} {
		got, err := ParseOrder(in)
		if err != nil || got != want {
			t.Fatalf("ParseOrder(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseOrder("random"); !errors.Is(err, ErrUnsupportedOrder) {
		t.Fatalf("expected ErrUnsupportedOrder, got %v", err)
	}
}

func TestSorted_ByKeyKeepsCellsAligned(t *testing.T) {
	res := &aggregate.Result{
		Metric: model.MetricCentroid,
		Groups: []aggregate.Group{
			{Key: feature.String("urban"), Count: 1},
			{Key: feature.Null(), Count: 2},
			{Key: feature.Number(3), Count: 3},
			{Key: feature.Number(math.NaN()), Count: 4},
			{Key: feature.String("forest"), Count: 5},
		},
	}
	cells := []string{"c-urban", "c-null", "c-3", "c-nan", "c-forest"}

	got, gotCells := Sorted(OrderKey, res, cells)
	wantCounts := []int{2, 4, 3, 5, 1}
	wantCells := []string{"c-null", "c-nan", "c-3", "c-forest", "c-urban"}
	for i, g := range got.Groups {
		if g.Count != wantCounts[i] || gotCells[i] != wantCells[i] {
			t.Fatalf("position %d: count=%d cell=%q want %d %q", i, g.Count, gotCells[i], wantCounts[i], wantCells[i])
		}
	}
	if res.Groups[0].Count != 1 || cells[0] != "c-urban" {
		t.Fatalf("input was modified")
	}
}

func TestSorted_AppearanceIsIdentity(t *testing.T) {
	res := &aggregate.Result{Groups: []aggregate.Group{{Key: feature.String("b")}, {Key: feature.String("a")}}}
	got, cells := Sorted(OrderAppearance, res, nil)
	if got != res || cells != nil {
		t.Fatalf("appearance order should return inputs unchanged")
	}
	got, _ = Sorted(OrderKey, res, nil)
	if s, _ := got.Groups[0].Key.Str(); s != "a" {
		t.Fatalf("first key=%q want a", s)
	}
}
