// Package mapper converts geographic coordinates to H3 cells.
package mapper

// Interface resolves the H3 cell containing a WGS84 point.
type Interface interface {
	CellForPoint(lon, lat float64, res int) (string, error)
}
