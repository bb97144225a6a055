// Package router maps the HTTP surface onto the query service.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/cache/keys"
	"github.com/mohammed-shakir/feature-aggregator/internal/composer"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/dataset"
	"github.com/mohammed-shakir/feature-aggregator/internal/query"
)

// FeatureService answers the three query kinds.
type FeatureService interface {
	Attributes(ctx context.Context, layer string) ([]string, error)
	Aggregate(ctx context.Context, layer, attribute string, m model.Metric) (*query.Outcome, error)
	MeasureClass(ctx context.Context, layer, attribute, class string) (aggregate.ClassMeasure, error)
}

// Info is served at the root.
type Info struct {
	Service    string   `json:"service"`
	Version    string   `json:"version"`
	MetricCRS  string   `json:"metric_crs"`
	DisplayCRS string   `json:"display_crs"`
	Layers     []string `json:"layers,omitempty"`
	Endpoints  []string `json:"endpoints"`
}

var endpoints = []string{
	"/{layer}/features",
	"/{layer}/area/{feature}",
	"/{layer}/perimeter/{feature}",
	"/{layer}/centroid/{feature}",
	"/{layer}/area/{feature}/{class}",
}

type handlers struct {
	log  *slog.Logger
	svc  FeatureService
	info Info
}

// Mount registers the query routes on r.
func Mount(r chi.Router, logger *slog.Logger, svc FeatureService, info Info) {
	if info.Endpoints == nil {
		info.Endpoints = endpoints
	}
	h := &handlers{log: logger, svc: svc, info: info}
	r.Get("/", h.index)
	r.Get("/{layer}/features", h.attributes)
	r.Get("/{layer}/{metric}/{feature}", h.aggregate)
	r.Get("/{layer}/area/{feature}/{class}", h.measureClass)
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, h.info)
}

func (h *handlers) attributes(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")
	names, err := h.svc.Attributes(r.Context(), layer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, composer.Attributes(layer, names))
}

func (h *handlers) aggregate(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")
	attribute := chi.URLParam(r, "feature")
	m, err := model.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	neg, err := h.negotiate(r, m)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := composer.ParseOrder(r.URL.Query().Get("sort"))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.svc.Aggregate(r.Context(), layer, attribute, m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, cells := composer.Sorted(order, out.Result, out.Cells)

	if neg.Format == composer.FormatGeoJSON {
		body, err := composer.CentroidFeatureCollection(layer, res, cells)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeBody(w, r, neg.ContentType, body)
		return
	}
	h.writeJSON(w, r, composer.Aggregate(layer, res, cells))
}

func (h *handlers) measureClass(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")
	m, err := h.svc.MeasureClass(r.Context(), layer, chi.URLParam(r, "feature"), chi.URLParam(r, "class"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, composer.Class(layer, m))
}

// negotiate picks JSON or GeoJSON. GeoJSON exists for centroids only; an
// explicit request for it on other metrics is rejected, an Accept
// preference is ignored.
func (h *handlers) negotiate(r *http.Request, m model.Metric) (composer.Negotiation, error) {
	explicit := r.URL.Query().Get("format")
	neg, err := composer.NegotiateFormat(composer.NegotiationInput{
		AcceptHeader:  r.Header.Get("Accept"),
		OutputFormat:  explicit,
		DefaultFormat: composer.FormatJSON,
	})
	if err != nil {
		return neg, err
	}
	if neg.Format == composer.FormatGeoJSON && m != model.MetricCentroid {
		if explicit != "" {
			return neg, composer.ErrNotCentroid
		}
		return composer.Negotiation{Format: composer.FormatJSON, ContentType: composer.ContentTypeJSON}, nil
	}
	return neg, nil
}

func (h *handlers) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := composer.Encode(v)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeBody(w, r, composer.ContentTypeJSON, body)
}

// writeBody tags the body with its ETag and answers conditional requests.
func (h *handlers) writeBody(w http.ResponseWriter, r *http.Request, contentType string, body []byte) {
	etag := keys.ETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Vary", "Accept")
	if keys.MatchETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "query failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		h.log.InfoContext(r.Context(), "query rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeStatus(w, status, err.Error())
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var (
		nf *dataset.NotFoundError
		uf *dataset.UnsupportedFormatError
		ua *aggregate.UnknownAttributeError
	)
	switch {
	case errors.As(err, &nf), errors.As(err, &ua):
		return http.StatusNotFound
	case errors.As(err, &uf):
		return http.StatusUnprocessableEntity
	case errors.Is(err, composer.ErrUnsupportedFormat), errors.Is(err, composer.ErrNotCentroid),
		errors.Is(err, composer.ErrUnsupportedOrder):
		return http.StatusBadRequest
	case errors.Is(err, dataset.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", composer.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
