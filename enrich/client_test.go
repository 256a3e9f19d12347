package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appconfig "hyperfeed/config"
)

const universeResponse = `[
  {"universe":[{"name":"BTC","szDecimals":5},{"name":"ETH","szDecimals":4}]},
  [
    {"funding":"0.0000125","openInterest":"8765.4","prevDayPx":"49000.0","dayNtlVlm":"123456789.0","oraclePx":"50123.5","markPx":"50124.0","midPx":"50123.8"},
    {"funding":"0.0000100","openInterest":"54321.0","prevDayPx":"2900.0","dayNtlVlm":"98765432.0","oraclePx":"3001.2","markPx":"3001.5","midPx":"3001.3"}
  ]
]`

func testConfig(infoURL string, ttl time.Duration) *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Source.Hyperliquid.InfoURL = infoURL
	cfg.Enrich.Timeout = time.Second
	cfg.Enrich.CacheTTL = ttl
	cfg.Enrich.RequestsPerSecond = 100
	cfg.Enrich.Burst = 100
	return cfg
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.Write([]byte(universeResponse))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, 0))
	stats, err := client.Fetch(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if stats.MarkPrice != "50124.0" || stats.OraclePrice != "50123.5" {
		t.Errorf("unexpected prices: %+v", stats)
	}
	if stats.FundingRate != "0.0000125" || stats.OpenInterest != "8765.4" || stats.DayVolume != "123456789.0" {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFetchSecondAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(universeResponse))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, 0))
	stats, err := client.Fetch(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if stats.MarkPrice != "3001.5" {
		t.Errorf("context not aligned by index: %+v", stats)
	}
}

func TestFetchAssetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(universeResponse))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, 0))
	if _, err := client.Fetch(context.Background(), "DOGE"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, 0))
	if _, err := client.Fetch(context.Background(), "BTC"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestFetchCached(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Write([]byte(universeResponse))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, time.Minute))
	for i := 0; i < 3; i++ {
		if _, err := client.Fetch(context.Background(), "BTC"); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
	}
	if n := atomic.LoadInt64(&requests); n != 1 {
		t.Fatalf("expected 1 upstream request with warm cache, got %d", n)
	}
}

func TestFetchCacheExpiry(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Write([]byte(universeResponse))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL, 10*time.Millisecond))
	if _, err := client.Fetch(context.Background(), "BTC"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := client.Fetch(context.Background(), "BTC"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if n := atomic.LoadInt64(&requests); n != 2 {
		t.Fatalf("expected cache expiry to refetch, got %d requests", n)
	}
}
