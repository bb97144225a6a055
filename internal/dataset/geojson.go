package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/feature-aggregator/internal/crs"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

// DefaultCRS applies to GeoJSON documents without a legacy crs member.
const DefaultCRS = "EPSG:4326"

const maxSeqLine = 64 << 20

// GeoJSON decodes a FeatureCollection, a single Feature or a bare geometry.
type GeoJSON struct{}

func (GeoJSON) Name() string { return "geojson" }

type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type document struct {
	Type     string            `json:"type"`
	CRS      *crsMember        `json:"crs"`
	Features []json.RawMessage `json:"features"`
}

func (GeoJSON) Decode(r io.Reader) (*feature.Collection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	b := newBuilder()
	switch doc.Type {
	case "FeatureCollection":
		for i, raw := range doc.Features {
			if err := b.addFeature(raw); err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
		}
	case "Feature":
		if err := b.addFeature(data); err != nil {
			return nil, err
		}
	case "":
		return nil, fmt.Errorf("missing type member")
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		b.records = append(b.records, feature.Record{
			Attributes: map[string]feature.Value{},
			Geometry:   g.Geometry(),
		})
	}
	return b.collection(crsOf(doc.CRS)), nil
}

// GeoJSONSeq decodes newline delimited features (RFC 8142 record
// separators are tolerated).
type GeoJSONSeq struct{}

func (GeoJSONSeq) Name() string { return "geojsonseq" }

func (GeoJSONSeq) Decode(r io.Reader) (*feature.Collection, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxSeqLine)
	b := newBuilder()
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(bytes.TrimLeft(sc.Bytes(), "\x1e"))
		if len(raw) == 0 {
			continue
		}
		if err := b.addFeature(raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return b.collection(DefaultCRS), nil
}

func crsOf(m *crsMember) string {
	if m == nil || m.Properties.Name == "" {
		return DefaultCRS
	}
	id, err := crs.Normalize(m.Properties.Name)
	if err != nil {
		// keep the raw name so reprojection reports it
		return m.Properties.Name
	}
	return id
}

type builder struct {
	schema  *feature.SchemaBuilder
	records []feature.Record

	// shadowed counts features whose "geometry" property was dropped in
	// favour of the geometry pseudo-column.
	shadowed int
}

func newBuilder() *builder {
	return &builder{schema: feature.NewSchemaBuilder()}
}

func (b *builder) addFeature(raw []byte) error {
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return err
	}
	var props struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return err
	}
	keys, err := objectKeys(props.Properties)
	if err != nil {
		return err
	}

	attrs := make(map[string]feature.Value, len(keys))
	for _, k := range keys {
		if k == feature.GeometryColumn {
			b.shadowed++
			continue
		}
		b.schema.Add(k)
		attrs[k] = feature.FromAny(f.Properties[k])
	}
	b.records = append(b.records, feature.Record{Attributes: attrs, Geometry: f.Geometry})
	return nil
}

func (b *builder) collection(crsID string) *feature.Collection {
	if b.shadowed > 0 {
		slog.Debug("geojson property shadowed by geometry column",
			"property", feature.GeometryColumn,
			"features", b.shadowed,
		)
	}
	return feature.NewCollection(crsID, b.schema.Names(), b.records)
}

// objectKeys lists the member names of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("properties must be an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		k, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in properties", tok)
		}
		keys = append(keys, k)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
