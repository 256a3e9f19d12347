package writer

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hyperfeed/models"
)

func readAllRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestCSVSinkHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "book.csv")
	sink, err := NewCSVSink(path, 2)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	record := models.UnifiedRecord{
		Kind: models.KindBook,
		Time: time.UnixMilli(1700000000000),
		Coin: "BTC",
		Asks: []models.BookLevel{{Price: "101", Size: "3", Cumulative: "3.0000"}},
		Bids: []models.BookLevel{
			{Price: "100", Size: "2", Cumulative: "2.0000"},
			{Price: "99", Size: "1", Cumulative: "3.0000"},
		},
		Stats: models.AssetStats{MarkPrice: "100.5", OraclePrice: "100.4"},
	}
	if err := sink.Write([]models.UnifiedRecord{record}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows := readAllRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	header := models.RecordHeader(2)
	if len(rows[0]) != len(header) || rows[0][0] != "Last Update" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	row := rows[1]
	if len(row) != len(header) {
		t.Fatalf("row width %d, want %d", len(row), len(header))
	}
	if row[1] != "BTC" {
		t.Fatalf("unexpected coin column: %q", row[1])
	}
	// ask side has one rank, the second must render blank
	if row[2] != "101" || row[3] != "" {
		t.Fatalf("unexpected ask prices: %q %q", row[2], row[3])
	}
}

func TestCSVSinkAppendsWithoutRepeatingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.csv")
	record := models.UnifiedRecord{
		Kind: models.KindTrade,
		Time: time.UnixMilli(1700000000000),
		Coin: "BTC", TradeSide: "Buy (Bid)", TradePrice: "100", TradeSize: "0.5",
	}

	for i := 0; i < 2; i++ {
		sink, err := NewCSVSink(path, 2)
		if err != nil {
			t.Fatalf("NewCSVSink: %v", err)
		}
		if err := sink.Write([]models.UnifiedRecord{record}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	rows := readAllRows(t, path)
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][0] == "Last Update" || rows[2][0] == "Last Update" {
		t.Fatal("header repeated on append")
	}
}
