package h3mapper

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"
)

const (
	MinRes = 0
	MaxRes = 15
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellForPoint returns the cell at res containing (lon, lat) in degrees.
func (m *Mapper) CellForPoint(lon, lat float64, res int) (string, error) {
	if err := ValidateRes(res); err != nil {
		return "", err
	}
	if math.IsNaN(lon) || math.IsNaN(lat) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("point (%v, %v) is not a WGS84 coordinate", lon, lat)
	}
	// v4 returns (Cell, error)
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// ValidateRes checks res is a valid H3 resolution.
func ValidateRes(res int) error {
	if res < MinRes || res > MaxRes {
		return fmt.Errorf("invalid H3 resolution %d (must be %d..%d)", res, MinRes, MaxRes)
	}
	return nil
}
