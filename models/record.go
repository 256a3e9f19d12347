package models

import (
	"fmt"
	"time"
)

// TimeLayout is the timestamp format used in the Last Update column.
const TimeLayout = "2006-01-02 15:04:05"

// RecordKind discriminates which block of a UnifiedRecord is populated.
type RecordKind string

const (
	KindBook  RecordKind = "book"
	KindTrade RecordKind = "trade"
)

// AssetStats holds the five enrichment fields fetched from the info
// endpoint. Empty values render as blank columns.
type AssetStats struct {
	Coin         string
	OraclePrice  string
	MarkPrice    string
	FundingRate  string
	OpenInterest string
	DayVolume    string
}

// BookLevel is one aggregated rank of a book side. A zero value renders as
// a blank rank, which keeps the column set stable when fewer levels arrive
// than the configured depth.
type BookLevel struct {
	Price      string
	Size       string
	Cumulative string
}

// UnifiedRecord is the single flattened schema shared by book snapshots and
// trades. Exactly one of the book+stats block or the trade block is
// populated; the other renders as empty fields so every record has the same
// columns.
type UnifiedRecord struct {
	Kind RecordKind
	Time time.Time
	Coin string

	Asks  []BookLevel
	Bids  []BookLevel
	Stats AssetStats

	TradeSide  string
	TradePrice string
	TradeSize  string
}

// RecordHeader returns the column names for the given depth. Layout follows
// the recorder's CSV contract: price, size and cumulative blocks per side,
// then the statistics columns, then the trade columns.
func RecordHeader(levels int) []string {
	header := make([]string, 0, 2+6*levels+8)
	header = append(header, "Last Update", "Coin")
	for _, side := range []string{"Ask", "Bid"} {
		for i := 1; i <= levels; i++ {
			header = append(header, fmt.Sprintf("%s L%d Price", side, i))
		}
		for i := 1; i <= levels; i++ {
			header = append(header, fmt.Sprintf("%s L%d Size", side, i))
		}
		for i := 1; i <= levels; i++ {
			header = append(header, fmt.Sprintf("%s L%d Cumulative", side, i))
		}
	}
	header = append(header,
		"Mark Price", "Oracle Price", "Funding Rate", "Open Interest", "24h Volume",
		"Trade Side", "Trade Price", "Trade Size",
	)
	return header
}

// Row flattens the record into one CSV row matching RecordHeader(levels).
// Missing ranks and the unpopulated block come out as empty strings.
func (r UnifiedRecord) Row(levels int) []string {
	row := make([]string, 0, 2+6*levels+8)
	row = append(row, r.Time.UTC().Format(TimeLayout), r.Coin)
	for _, side := range [][]BookLevel{r.Asks, r.Bids} {
		for i := 0; i < levels; i++ {
			row = append(row, levelField(side, i, func(l BookLevel) string { return l.Price }))
		}
		for i := 0; i < levels; i++ {
			row = append(row, levelField(side, i, func(l BookLevel) string { return l.Size }))
		}
		for i := 0; i < levels; i++ {
			row = append(row, levelField(side, i, func(l BookLevel) string { return l.Cumulative }))
		}
	}
	row = append(row,
		r.Stats.MarkPrice, r.Stats.OraclePrice, r.Stats.FundingRate,
		r.Stats.OpenInterest, r.Stats.DayVolume,
		r.TradeSide, r.TradePrice, r.TradeSize,
	)
	return row
}

func levelField(side []BookLevel, i int, get func(BookLevel) string) string {
	if i >= len(side) {
		return ""
	}
	return get(side[i])
}
