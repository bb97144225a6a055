// Package crs resolves coordinate reference system identifiers and
// reprojects feature collections between them.
package crs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

type Kind int

const (
	Geographic Kind = iota
	Projected
)

const (
	EPSGWGS84         = 4326
	EPSGSIRGAS2000    = 4674
	EPSGETRS89        = 4258
	EPSGWebMercator   = 3857
	EPSGSIRGAS2000U23 = 31983
)

// CRS is a resolved reference system. Projected systems carry the pair of
// projections to and from geographic longitude/latitude in degrees.
type CRS struct {
	Code int
	Name string
	Kind Kind
	Unit string

	toGeo   orb.Projection
	fromGeo orb.Projection
}

func (c CRS) ID() string { return "EPSG:" + strconv.Itoa(c.Code) }

func (c CRS) IsProjected() bool { return c.Kind == Projected }

func (c CRS) String() string { return fmt.Sprintf("%s (%s)", c.ID(), c.Name) }

// Parse resolves an identifier such as "EPSG:31983", "31983",
// "urn:ogc:def:crs:EPSG::31983" or "urn:ogc:def:crs:OGC:1.3:CRS84".
func Parse(id string) (CRS, error) {
	code, ok := parseCode(id)
	if !ok {
		return CRS{}, &UnknownCRSError{ID: id}
	}
	c, ok := Lookup(code)
	if !ok {
		return CRS{}, &UnknownCRSError{ID: id}
	}
	return c, nil
}

// Normalize returns the canonical "EPSG:n" form of a known identifier.
func Normalize(id string) (string, error) {
	c, err := Parse(id)
	if err != nil {
		return "", err
	}
	return c.ID(), nil
}

func parseCode(id string) (int, bool) {
	s := strings.TrimSpace(id)
	if s == "" {
		return 0, false
	}
	up := strings.ToUpper(s)
	if strings.HasSuffix(up, "CRS84") {
		return EPSGWGS84, true
	}
	switch {
	case strings.HasPrefix(up, "EPSG:"):
		s = s[len("EPSG:"):]
	case strings.HasPrefix(up, "URN:OGC:DEF:CRS:EPSG:"):
		s = s[strings.LastIndex(s, ":")+1:]
	case strings.HasPrefix(up, "HTTP://WWW.OPENGIS.NET/DEF/CRS/EPSG/"),
		strings.HasPrefix(up, "HTTPS://WWW.OPENGIS.NET/DEF/CRS/EPSG/"):
		s = s[strings.LastIndex(s, "/")+1:]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Lookup returns the definition of a supported EPSG code.
func Lookup(code int) (CRS, bool) {
	switch {
	case code == EPSGWGS84:
		return geographic(code, "WGS 84"), true
	case code == EPSGSIRGAS2000:
		return geographic(code, "SIRGAS 2000"), true
	case code == EPSGETRS89:
		return geographic(code, "ETRS89"), true
	case code == EPSGWebMercator:
		return CRS{
			Code:    code,
			Name:    "WGS 84 / Pseudo-Mercator",
			Kind:    Projected,
			Unit:    "metre",
			toGeo:   project.Mercator.ToWGS84,
			fromGeo: project.WGS84.ToMercator,
		}, true
	case code >= 32601 && code <= 32660:
		zone := code - 32600
		return utm(code, fmt.Sprintf("WGS 84 / UTM zone %dN", zone), zone, false), true
	case code >= 32701 && code <= 32760:
		zone := code - 32700
		return utm(code, fmt.Sprintf("WGS 84 / UTM zone %dS", zone), zone, true), true
	case code >= 31978 && code <= 31985:
		zone := code - 31960
		return utm(code, fmt.Sprintf("SIRGAS 2000 / UTM zone %dS", zone), zone, true), true
	case code >= 25828 && code <= 25838:
		zone := code - 25800
		return utm(code, fmt.Sprintf("ETRS89 / UTM zone %dN", zone), zone, false), true
	}
	return CRS{}, false
}

func geographic(code int, name string) CRS {
	return CRS{Code: code, Name: name, Kind: Geographic, Unit: "degree"}
}

var epsg = wgs84.EPSG()

// utm resolves a UTM zone through the WGS 84 zone of the same number.
// SIRGAS 2000 and ETRS89 realisations are treated as coincident with it.
func utm(code int, name string, zone int, south bool) CRS {
	wgsZone := 32600 + zone
	if south {
		wgsZone = 32700 + zone
	}
	return CRS{
		Code:    code,
		Name:    name,
		Kind:    Projected,
		Unit:    "metre",
		toGeo:   projection(epsg.Transform(wgsZone, EPSGWGS84)),
		fromGeo: projection(epsg.Transform(EPSGWGS84, wgsZone)),
	}
}

// projection adapts a three-axis wgs84 transform to 2D points.
func projection(f wgs84.Func) orb.Projection {
	return func(p orb.Point) orb.Point {
		x, y, _ := f(p[0], p[1], 0)
		return orb.Point{x, y}
	}
}
