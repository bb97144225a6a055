// Package dataset loads vector datasets from local files or http(s) URLs
// into in-memory feature collections.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/httpclient"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/observability"
	"github.com/mohammed-shakir/feature-aggregator/internal/feature"
)

type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	Client   *http.Client
	Logger   *slog.Logger
}

// Source loads a fresh collection on every call; nothing is cached.
type Source struct {
	timeout  time.Duration
	maxBytes int64
	client   *http.Client
	log      *slog.Logger
}

func NewSource(opts Options) *Source {
	s := &Source{
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
		client:   opts.Client,
		log:      opts.Logger,
	}
	if s.client == nil {
		s.client = httpclient.NewOutbound(s.timeout)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func isRemote(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// Load reads and decodes the dataset at p.
func (s *Source) Load(ctx context.Context, p string) (*feature.Collection, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	kind := "file"
	if isRemote(p) {
		kind = "http"
	}
	start := time.Now()
	c, err := s.load(ctx, p)
	observability.ObserveDatasetLoad(kind, outcome(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	s.log.DebugContext(ctx, "dataset loaded",
		"path", p,
		"records", c.Len(),
		"crs", c.CRS(),
		"took", time.Since(start),
	)
	return c, nil
}

func (s *Source) load(ctx context.Context, p string) (*feature.Collection, error) {
	if isRemote(p) {
		return s.loadRemote(ctx, p)
	}
	return s.loadFile(p)
}

func (s *Source) loadFile(p string) (*feature.Collection, error) {
	local, err := expandHome(p)
	if err != nil {
		return nil, err
	}
	dec, ok := Lookup(local)
	if !ok {
		if _, err := os.Stat(local); errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: p}
		}
		return nil, &UnsupportedFormatError{Path: p}
	}
	f, err := os.Open(local)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Path: p}
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", p, err)
	}
	defer func() { _ = f.Close() }()
	if st, err := f.Stat(); err == nil && st.IsDir() {
		return nil, &UnsupportedFormatError{Path: p}
	}
	return s.decode(p, dec, f)
}

func (s *Source) loadRemote(ctx context.Context, raw string) (*feature.Collection, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &NotFoundError{Path: raw}
	}
	dec, ok := Lookup(u.Path)
	if !ok {
		return nil, &UnsupportedFormatError{Path: raw}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json;q=0.9, */*;q=0.1")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset %q: %w", raw, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &NotFoundError{Path: raw}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("fetch dataset %q: upstream status %d", raw, resp.StatusCode)
	}
	return s.decode(raw, dec, resp.Body)
}

func (s *Source) decode(p string, dec Decoder, r io.Reader) (*feature.Collection, error) {
	lr := &limitedReader{r: r, n: s.maxBytes}
	c, err := dec.Decode(lr)
	if lr.exceeded {
		return nil, fmt.Errorf("dataset %q: %w (%d bytes)", p, ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		return nil, &UnsupportedFormatError{Path: p, Format: dec.Name(), Err: err}
	}
	return c, nil
}

// Stat checks that p is reachable without decoding it.
func (s *Source) Stat(ctx context.Context, p string) error {
	if !isRemote(p) {
		local, err := expandHome(p)
		if err != nil {
			return err
		}
		if _, err := os.Stat(local); errors.Is(err, fs.ErrNotExist) {
			return &NotFoundError{Path: p}
		} else if err != nil {
			return err
		}
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &NotFoundError{Path: p}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("dataset %q: upstream status %d", p, resp.StatusCode)
	}
	return nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func outcome(err error) string {
	var nf *NotFoundError
	var uf *UnsupportedFormatError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &uf):
		return "unsupported"
	default:
		return "error"
	}
}

// limitedReader fails once more than n bytes have been read. n <= 0
// disables the limit.
type limitedReader struct {
	r        io.Reader
	n        int64
	read     int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return l.r.Read(p)
	}
	if l.read >= l.n {
		var one [1]byte
		if k, _ := l.r.Read(one[:]); k > 0 {
			l.exceeded = true
			return 0, ErrTooLarge
		}
		return 0, io.EOF
	}
	if int64(len(p)) > l.n-l.read {
		p = p[:l.n-l.read]
	}
	k, err := l.r.Read(p)
	l.read += int64(k)
	return k, err
}
