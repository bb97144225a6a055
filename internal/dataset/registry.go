package dataset

import (
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

// Decoder parses a whole document into a collection.
type Decoder interface {
	Name() string
	Decode(r io.Reader) (*feature.Collection, error)
}

var (
	mu  sync.RWMutex
	reg = map[string]Decoder{}
)

// Register binds a file extension (with or without the dot) to a decoder.
func Register(ext string, d Decoder) {
	mu.Lock()
	defer mu.Unlock()
	reg[normExt(ext)] = d
}

// Lookup resolves the decoder for a path or URL path by its extension.
func Lookup(p string) (Decoder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := reg[normExt(path.Ext(p))]
	return d, ok
}

// Extensions lists the registered extensions in sorted order.
func Extensions() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for ext := range reg {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func normExt(ext string) string {
	return "." + strings.TrimPrefix(strings.ToLower(ext), ".")
}

func init() {
	Register(".geojson", GeoJSON{})
	Register(".json", GeoJSON{})
	Register(".geojsonl", GeoJSONSeq{})
	Register(".geojsons", GeoJSONSeq{})
	Register(".ndjson", GeoJSONSeq{})
}
