package writer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	appconfig "hyperfeed/config"
	"hyperfeed/models"
)

func TestConsoleSinkRendersBookAndTrade(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(5)
	sink.out = &buf

	records := []models.UnifiedRecord{
		{
			Kind: models.KindBook,
			Time: time.UnixMilli(1700000000000),
			Coin: "BTC",
			Asks: []models.BookLevel{{Price: "101", Size: "3", Cumulative: "3.0000"}},
			Bids: []models.BookLevel{{Price: "100", Size: "2", Cumulative: "2.0000"}},
			Stats: models.AssetStats{
				MarkPrice: "100.5", OraclePrice: "100.4", FundingRate: "0.0001",
			},
		},
		{
			Kind: models.KindTrade,
			Time: time.UnixMilli(1700000000000),
			Coin: "BTC", TradeSide: "Sell (Ask)", TradePrice: "100.1", TradeSize: "0.7",
		},
	}
	if err := sink.Write(records); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"mark=100.5", "101", "2.0000", "Sell (Ask)", "px=100.1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFlattenRecords(t *testing.T) {
	records := []models.UnifiedRecord{
		{
			Kind: models.KindBook,
			Time: time.UnixMilli(1700000000000),
			Coin: "BTC",
			Asks: []models.BookLevel{
				{Price: "101", Size: "3", Cumulative: "3.0000"},
				{Price: "102", Size: "1", Cumulative: "4.0000"},
			},
			Bids:  []models.BookLevel{{Price: "100", Size: "2", Cumulative: "2.0000"}},
			Stats: models.AssetStats{MarkPrice: "100.5"},
		},
		{
			Kind: models.KindTrade,
			Time: time.UnixMilli(1700000000001),
			Coin: "BTC", TradeSide: "Buy (Bid)", TradePrice: "100", TradeSize: "0.5",
		},
	}

	rows := flattenRecords(records)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows (2 asks + 1 bid + 1 trade), got %d", len(rows))
	}
	if rows[0].Side != "ask" || rows[0].Rank != 1 || rows[0].Price != "101" {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Rank != 2 || rows[1].Cumulative != "4.0000" {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
	if rows[2].Side != "bid" || rows[2].MarkPx != "100.5" {
		t.Fatalf("unexpected bid row: %+v", rows[2])
	}
	trade := rows[3]
	if trade.Kind != "trade" || trade.Side != "Buy (Bid)" || trade.Rank != 0 {
		t.Fatalf("unexpected trade row: %+v", trade)
	}
}

func TestObjectKeyPartitioning(t *testing.T) {
	cfg := &appconfig.Config{
		Writer: appconfig.WriterConfig{
			Partitioning: appconfig.PartitioningConfig{
				TimeFormat:     "year={year}/month={month}/day={day}/hour={hour}",
				AdditionalKeys: []string{"coin"},
			},
		},
	}
	s := &S3Sink{config: cfg}

	record := models.UnifiedRecord{
		Kind: models.KindBook,
		Time: time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC),
		Coin: "BTC",
	}
	key := s.objectKey("BTC", record, "0123456789abcdef")

	if !strings.HasPrefix(key, "coin=BTC/year=2024/month=03/day=05/hour=07/") {
		t.Fatalf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Fatalf("expected parquet suffix: %s", key)
	}
	if !strings.Contains(key, "hyperliquid_BTC_20240305070000_01234567") {
		t.Fatalf("unexpected filename: %s", key)
	}
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink(nil, "topic"); err == nil {
		t.Fatal("expected error for missing brokers")
	}
}
