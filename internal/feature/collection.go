package feature

import (
	"fmt"
	"maps"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// GeometryColumn is the pseudo-attribute exposing each record's geometry.
const GeometryColumn = "geometry"

type Record struct {
	Attributes map[string]Value
	Geometry   orb.Geometry
}

// Get returns the named attribute; missing attributes read as null.
func (r Record) Get(name string) Value {
	if name == GeometryColumn {
		return GeometryKey(r.Geometry)
	}
	return r.Attributes[name]
}

// GeometryKey keys a geometry by its WKT text.
func GeometryKey(g orb.Geometry) Value {
	if g == nil {
		return Null()
	}
	return Composite(wkt.MarshalString(g))
}

// Collection is an ordered record set with one schema and one CRS. It is
// never mutated after construction; transforms build a new collection.
type Collection struct {
	crs     string
	schema  []string
	records []Record
}

func NewCollection(crs string, schema []string, records []Record) *Collection {
	sb := NewSchemaBuilder()
	for _, name := range schema {
		sb.Add(name)
	}
	return &Collection{
		crs:     crs,
		schema:  sb.Names(),
		records: records,
	}
}

func (c *Collection) CRS() string { return c.crs }

func (c *Collection) Len() int { return len(c.records) }

func (c *Collection) At(i int) Record { return c.records[i] }

// Schema lists attribute names in order of first appearance, followed by
// the geometry column.
func (c *Collection) Schema() []string {
	out := make([]string, 0, len(c.schema)+1)
	out = append(out, c.schema...)
	return append(out, GeometryColumn)
}

func (c *Collection) HasAttribute(name string) bool {
	if name == GeometryColumn {
		return true
	}
	for _, s := range c.schema {
		if s == name {
			return true
		}
	}
	return false
}

// Column returns the values of one attribute in record order.
func (c *Collection) Column(name string) ([]Value, error) {
	if !c.HasAttribute(name) {
		return nil, fmt.Errorf("column %q not in schema", name)
	}
	out := make([]Value, len(c.records))
	for i, r := range c.records {
		out[i] = r.Get(name)
	}
	return out, nil
}

func (c *Collection) Geometries() []orb.Geometry {
	out := make([]orb.Geometry, len(c.records))
	for i, r := range c.records {
		out[i] = r.Geometry
	}
	return out
}

// WithGeometries returns a new collection in the given CRS carrying a copy
// of every record's attributes and the replacement geometries.
func (c *Collection) WithGeometries(crs string, geoms []orb.Geometry) (*Collection, error) {
	if len(geoms) != len(c.records) {
		return nil, fmt.Errorf("geometry count %d does not match record count %d", len(geoms), len(c.records))
	}
	out := make([]Record, len(c.records))
	for i, r := range c.records {
		out[i] = Record{
			Attributes: maps.Clone(r.Attributes),
			Geometry:   geoms[i],
		}
	}
	schema := make([]string, len(c.schema))
	copy(schema, c.schema)
	return &Collection{crs: crs, schema: schema, records: out}, nil
}

// SchemaBuilder collects attribute names in first-seen order.
type SchemaBuilder struct {
	seen  map[string]struct{}
	names []string
}

func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{seen: map[string]struct{}{}}
}

func (b *SchemaBuilder) Add(name string) {
	if name == GeometryColumn {
		return
	}
	if _, ok := b.seen[name]; ok {
		return
	}
	b.seen[name] = struct{}{}
	b.names = append(b.names, name)
}

func (b *SchemaBuilder) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}
