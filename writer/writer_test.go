package writer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	appconfig "hyperfeed/config"
	"hyperfeed/internal/channel"
	"hyperfeed/models"
)

// captureSink records every batch it receives.
type captureSink struct {
	mu      sync.Mutex
	batches [][]models.UnifiedRecord
	fail    bool
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Write(records []models.UnifiedRecord) error {
	if c.fail {
		return fmt.Errorf("capture sink failure")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]models.UnifiedRecord, len(records))
	copy(batch, records)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func writerConfig() *appconfig.Config {
	return &appconfig.Config{
		Processor: appconfig.ProcessorConfig{DepthLevels: 2},
		Writer:    appconfig.WriterConfig{FlushInterval: 20 * time.Millisecond},
	}
}

func bookRecord(coin string) models.UnifiedRecord {
	return models.UnifiedRecord{
		Kind: models.KindBook,
		Time: time.UnixMilli(1700000000000),
		Coin: coin,
		Asks: []models.BookLevel{{Price: "101", Size: "3", Cumulative: "3.0000"}},
		Bids: []models.BookLevel{{Price: "100", Size: "2", Cumulative: "2.0000"}},
	}
}

func TestNewWriterNoSinks(t *testing.T) {
	ch := channel.NewChannels(1, 1)
	defer ch.Close()
	if _, err := NewWriter(writerConfig(), ch, nil); err == nil {
		t.Fatal("expected error for empty sink list")
	}
}

func TestWriterFlushesToSinks(t *testing.T) {
	ch := channel.NewChannels(1, 8)
	defer ch.Close()
	sink := &captureSink{}
	w, err := NewWriter(writerConfig(), ch, []Sink{sink})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("expected error on double start")
	}

	for i := 0; i < 3; i++ {
		if !ch.SendRecord(ctx, bookRecord("BTC")) {
			t.Fatal("SendRecord failed")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.total(); got != 3 {
		t.Fatalf("expected 3 records flushed, got %d", got)
	}

	cancel()
	w.Stop()
}

func TestWriterDrainsOnShutdown(t *testing.T) {
	ch := channel.NewChannels(1, 8)
	defer ch.Close()
	sink := &captureSink{}
	cfg := writerConfig()
	cfg.Writer.FlushInterval = time.Hour // only the shutdown flush may fire
	w, err := NewWriter(cfg, ch, []Sink{sink})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 5; i++ {
		if !ch.SendRecord(ctx, bookRecord("ETH")) {
			t.Fatal("SendRecord failed")
		}
	}

	cancel()
	w.Stop()

	if got := sink.total(); got != 5 {
		t.Fatalf("expected 5 records after shutdown drain, got %d", got)
	}
}

func TestWriterFailingSinkDoesNotBlockOthers(t *testing.T) {
	ch := channel.NewChannels(1, 8)
	defer ch.Close()
	bad := &captureSink{fail: true}
	good := &captureSink{}
	w, err := NewWriter(writerConfig(), ch, []Sink{bad, good})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !ch.SendRecord(ctx, bookRecord("BTC")) {
		t.Fatal("SendRecord failed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for good.total() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := good.total(); got != 1 {
		t.Fatalf("expected healthy sink to receive the record, got %d", got)
	}

	cancel()
	w.Stop()
}

func TestBuildSinksNoneEnabled(t *testing.T) {
	if _, err := BuildSinks(writerConfig()); err == nil {
		t.Fatal("expected error when no sinks are enabled")
	}
}
