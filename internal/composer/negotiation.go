package composer

import (
	"errors"
	"strconv"
	"strings"
)

type Format int

const (
	FormatJSON Format = iota
	FormatGeoJSON
)

func (f Format) String() string {
	if f == FormatGeoJSON {
		return "geojson"
	}
	return "json"
}

const (
	ContentTypeJSON    = "application/json"
	ContentTypeGeoJSON = "application/geo+json"
)

// ErrUnsupportedFormat is returned for an explicit format parameter that
// names no known representation.
var ErrUnsupportedFormat = errors.New("unsupported output format")

type NegotiationInput struct {
	AcceptHeader  string
	OutputFormat  string
	DefaultFormat Format
}

type Negotiation struct {
	Format      Format
	ContentType string
}

func negotiation(f Format) Negotiation {
	if f == FormatGeoJSON {
		return Negotiation{Format: FormatGeoJSON, ContentType: ContentTypeGeoJSON}
	}
	return Negotiation{Format: FormatJSON, ContentType: ContentTypeJSON}
}

// NegotiateFormat picks the response representation. An explicit format
// parameter wins over Accept; the highest q Accept entry wins over the
// default.
func NegotiateFormat(in NegotiationInput) (Negotiation, error) {
	of := strings.ToLower(strings.TrimSpace(in.OutputFormat))
	switch {
	case of == "":
	case of == "geojson", strings.HasPrefix(of, ContentTypeGeoJSON):
		return negotiation(FormatGeoJSON), nil
	case of == "json", strings.HasPrefix(of, ContentTypeJSON):
		return negotiation(FormatJSON), nil
	default:
		return Negotiation{}, ErrUnsupportedFormat
	}

	bestQ := -1.0
	best := Negotiation{}
	for part := range strings.SplitSeq(strings.ToLower(in.AcceptHeader), ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt := token
		params := ""
		if i := strings.Index(token, ";"); i >= 0 {
			mt = strings.TrimSpace(token[:i])
			params = token[i+1:]
		}
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			p = strings.TrimSpace(p)
			if after, ok := strings.CutPrefix(p, "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		if q <= 0 {
			continue
		}
		var cand Negotiation
		switch {
		case mt == "*/*" || mt == "application/*":
			cand = negotiation(in.DefaultFormat)
		case strings.Contains(mt, "geo+json"):
			cand = negotiation(FormatGeoJSON)
		case mt == ContentTypeJSON:
			cand = negotiation(FormatJSON)
		default:
			continue
		}
		if q > bestQ {
			bestQ = q
			best = cand
		}
	}
	if bestQ >= 0 {
		return best, nil
	}
	return negotiation(in.DefaultFormat), nil
}
