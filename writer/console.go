package writer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"hyperfeed/models"
)

// ConsoleSink renders records to standard output for interactive use. Book
// snapshots print the top ranks of each side, trades print a single line.
type ConsoleSink struct {
	levels int
	mu     sync.Mutex
	out    io.Writer
}

// NewConsoleSink creates a console sink showing at most levels ranks per side.
func NewConsoleSink(levels int) *ConsoleSink {
	if levels <= 0 {
		levels = 20
	}
	return &ConsoleSink{levels: levels, out: os.Stdout}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Write(records []models.UnifiedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		switch r.Kind {
		case models.KindTrade:
			fmt.Fprintf(s.out, "%s  %-6s trade  %-11s px=%s sz=%s\n",
				r.Time.UTC().Format(models.TimeLayout), r.Coin, r.TradeSide, r.TradePrice, r.TradeSize)
		case models.KindBook:
			s.printBook(r)
		}
	}
	return nil
}

func (s *ConsoleSink) printBook(r models.UnifiedRecord) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-6s book  mark=%s oracle=%s funding=%s oi=%s vol24h=%s\n",
		r.Time.UTC().Format(models.TimeLayout), r.Coin,
		r.Stats.MarkPrice, r.Stats.OraclePrice, r.Stats.FundingRate,
		r.Stats.OpenInterest, r.Stats.DayVolume)

	n := len(r.Asks)
	if len(r.Bids) > n {
		n = len(r.Bids)
	}
	if n > s.levels {
		n = s.levels
	}
	fmt.Fprintf(&b, "  %-4s %-14s %-14s %-14s | %-14s %-14s %-14s\n",
		"rank", "bid px", "bid sz", "bid cum", "ask px", "ask sz", "ask cum")
	for i := 0; i < n; i++ {
		var bid, ask models.BookLevel
		if i < len(r.Bids) {
			bid = r.Bids[i]
		}
		if i < len(r.Asks) {
			ask = r.Asks[i]
		}
		fmt.Fprintf(&b, "  %-4d %-14s %-14s %-14s | %-14s %-14s %-14s\n",
			i+1, bid.Price, bid.Size, bid.Cumulative, ask.Price, ask.Size, ask.Cumulative)
	}
	io.WriteString(s.out, b.String())
}

func (s *ConsoleSink) Close() error { return nil }
