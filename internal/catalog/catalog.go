// Package catalog keeps the local product cache in step with the company
// product API. When the API is down the cache is left as it was and the
// forms keep working from it.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrFallback wraps every reason the cache was not refreshed.
var ErrFallback = errors.New("product api unavailable, using cached products")

const maxBody = 16 << 20

var (
	syncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "micrologger_catalog_sync_total",
		Help: "Product catalog sync attempts by result",
	}, []string{"result"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "micrologger_catalog_sync_duration_seconds",
		Help:    "Product catalog sync duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6.4s
	})

	cachedProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "micrologger_catalog_products",
		Help: "Products upserted by the last successful sync",
	})
)

// Store is the persistence the syncer needs.
type Store interface {
	UpsertProducts(ctx context.Context, products []store.Product) (int, error)
	ListProducts(ctx context.Context) ([]store.Product, error)
}

// Config configures the syncer.
type Config struct {
	APIURL  string
	Timeout time.Duration
	// Limiter throttles outbound calls; nil allows one call per second.
	Limiter *rate.Limiter
	Client  *http.Client
}

// Syncer pulls products from the API into the store.
type Syncer struct {
	store   Store
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSyncer builds a syncer. An empty APIURL is allowed; Sync then always
// falls back to the cache.
func NewSyncer(cfg Config, st Store, logger *zap.Logger) (*Syncer, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 6 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 1)
	}
	return &Syncer{store: st, url: cfg.APIURL, client: client, limiter: limiter, logger: logger}, nil
}

// apiProduct is one element of the API response. MTRL arrives as a number
// or a string depending on the ERP version.
type apiProduct struct {
	Code string     `json:"CODE"`
	Name string     `json:"NAME"`
	MTRL flexString `json:"MTRL"`
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Sync fetches the catalog and upserts it. Any failure before the upsert
// leaves the cache untouched and returns an error wrapping ErrFallback.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { syncDuration.Observe(time.Since(start).Seconds()) }()

	products, err := s.fetch(ctx)
	if err != nil {
		syncTotal.WithLabelValues("fallback").Inc()
		return 0, fmt.Errorf("%w: %v", ErrFallback, err)
	}

	n, err := s.store.UpsertProducts(ctx, products)
	if err != nil {
		syncTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("update products cache: %w", err)
	}
	syncTotal.WithLabelValues("ok").Inc()
	cachedProducts.Set(float64(n))
	s.logger.Info("product catalog synced", zap.Int("products", n), zap.Duration("took", time.Since(start)))
	return n, nil
}

func (s *Syncer) fetch(ctx context.Context) ([]store.Product, error) {
	if s.url == "" {
		return nil, errors.New("api url not configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned %s", resp.Status)
	}

	var raw []apiProduct
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid api json: %w", err)
	}

	products := make([]store.Product, 0, len(raw))
	for _, p := range raw {
		code, name := strings.TrimSpace(p.Code), strings.TrimSpace(p.Name)
		if code == "" || name == "" {
			continue
		}
		products = append(products, store.Product{Code: code, Name: name, Group: strings.TrimSpace(string(p.MTRL))})
	}
	if len(products) == 0 {
		return nil, errors.New("api returned no products")
	}
	return products, nil
}

// Products returns the cached catalog.
func (s *Syncer) Products(ctx context.Context) ([]store.Product, error) {
	return s.store.ListProducts(ctx)
}

// Run syncs immediately and then every interval until ctx is done.
// Fallbacks are logged at warn and do not stop the loop.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	s.runOnce(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("product catalog sync skipped", zap.Error(err))
	}
}
