package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appconfig "hyperfeed/config"
	"hyperfeed/logger"
	"hyperfeed/models"
)

// ErrAssetNotFound reports a coin missing from the enrichment universe.
// Newly listed or delisted assets hit this path; callers must treat it as
// "no statistics for this record", never as fatal.
var ErrAssetNotFound = errors.New("asset not found in universe")

type cachedStats struct {
	stats   models.AssetStats
	fetched time.Time
}

// Client fetches per-asset statistics from the info endpoint. Every request
// retrieves the full metaAndAssetCtxs universe; a short-lived cache bounds
// the request rate when many snapshots arrive for the same coin.
type Client struct {
	config  *appconfig.Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log

	mu    sync.Mutex
	cache map[string]cachedStats
}

func NewClient(cfg *appconfig.Config) *Client {
	log := logger.GetLogger()

	client := &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Enrich.Timeout},
		limiter: rate.NewLimiter(
			rate.Limit(cfg.Enrich.RequestsPerSecond),
			cfg.Enrich.Burst,
		),
		log:   log,
		cache: make(map[string]cachedStats),
	}

	log.WithComponent("enrich_client").WithFields(logger.Fields{
		"info_url":  cfg.Source.Hyperliquid.InfoURL,
		"timeout":   cfg.Enrich.Timeout,
		"cache_ttl": cfg.Enrich.CacheTTL,
	}).Info("enrichment client initialized")

	return client
}

// Fetch returns the current statistics for coin. Results younger than the
// configured TTL are served from cache; a TTL of zero always fetches fresh.
func (c *Client) Fetch(ctx context.Context, coin string) (models.AssetStats, error) {
	if ttl := c.config.Enrich.CacheTTL; ttl > 0 {
		c.mu.Lock()
		cached, ok := c.cache[coin]
		c.mu.Unlock()
		if ok && time.Since(cached.fetched) < ttl {
			return cached.stats, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return models.AssetStats{}, fmt.Errorf("rate limiter: %w", err)
	}

	meta, ctxs, err := c.fetchUniverse(ctx)
	if err != nil {
		return models.AssetStats{}, err
	}

	index := -1
	for i, asset := range meta.Universe {
		if asset.Name == coin {
			index = i
			break
		}
	}
	if index < 0 || index >= len(ctxs) {
		logger.IncrementEnrichMiss()
		return models.AssetStats{}, fmt.Errorf("%w: %s", ErrAssetNotFound, coin)
	}

	assetCtx := ctxs[index]
	stats := models.AssetStats{
		Coin:         coin,
		OraclePrice:  assetCtx.OraclePx,
		MarkPrice:    assetCtx.MarkPx,
		FundingRate:  assetCtx.Funding,
		OpenInterest: assetCtx.OpenInterest,
		DayVolume:    assetCtx.DayNtlVlm,
	}

	if c.config.Enrich.CacheTTL > 0 {
		c.mu.Lock()
		c.cache[coin] = cachedStats{stats: stats, fetched: time.Now()}
		c.mu.Unlock()
	}

	return stats, nil
}

// fetchUniverse issues the metaAndAssetCtxs request and decodes the 2-tuple
// response: [universe descriptor, per-asset context array] aligned by index.
func (c *Client) fetchUniverse(ctx context.Context) (models.Meta, []models.AssetCtx, error) {
	body, err := json.Marshal(map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return models.Meta{}, nil, fmt.Errorf("failed to marshal info request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Source.Hyperliquid.InfoURL, bytes.NewReader(body))
	if err != nil {
		return models.Meta{}, nil, fmt.Errorf("failed to build info request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		return models.Meta{}, nil, fmt.Errorf("info request failed: %w", err)
	}
	defer res.Body.Close()

	logger.LogPerformanceEntry(c.log.WithComponent("enrich_client"), "enrich_client", "info_request", time.Since(start), nil)

	if res.StatusCode != http.StatusOK {
		return models.Meta{}, nil, fmt.Errorf("info request returned status %d", res.StatusCode)
	}

	var tuple []json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&tuple); err != nil {
		return models.Meta{}, nil, fmt.Errorf("failed to decode info response: %w", err)
	}
	if len(tuple) < 2 {
		return models.Meta{}, nil, fmt.Errorf("info response has %d elements, want 2", len(tuple))
	}

	var meta models.Meta
	if err := json.Unmarshal(tuple[0], &meta); err != nil {
		return models.Meta{}, nil, fmt.Errorf("failed to decode universe descriptor: %w", err)
	}

	var ctxs []models.AssetCtx
	if err := json.Unmarshal(tuple[1], &ctxs); err != nil {
		return models.Meta{}, nil, fmt.Errorf("failed to decode asset contexts: %w", err)
	}

	return meta, ctxs, nil
}
