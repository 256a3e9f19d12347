package processor

import (
	"github.com/shopspring/decimal"

	"hyperfeed/logger"
	"hyperfeed/models"
)

// AggregateLevels takes an ordered book side (best price first) and returns
// the first limit ranks paired with a running cumulative size. Accumulation
// uses decimal arithmetic so thousands of small sizes do not drift the way a
// binary float sum would; the cumulative value is formatted to four decimal
// places at this boundary. Levels whose size fails to parse are skipped.
// Fewer input levels than limit yield a shorter slice; sinks render the
// missing ranks blank.
func AggregateLevels(levels []models.WsLevel, limit int) []models.BookLevel {
	if limit < 0 {
		limit = 0
	}
	if len(levels) > limit {
		levels = levels[:limit]
	}

	out := make([]models.BookLevel, 0, len(levels))
	sum := decimal.Zero
	for _, lvl := range levels {
		size, err := decimal.NewFromString(lvl.Sz)
		if err != nil {
			logger.GetLogger().WithComponent("aggregator").WithError(err).WithFields(logger.Fields{
				"raw_size": lvl.Sz,
				"price":    lvl.Px,
			}).Warn("failed to parse level size")
			continue
		}
		sum = sum.Add(size)
		out = append(out, models.BookLevel{
			Price:      lvl.Px,
			Size:       lvl.Sz,
			Cumulative: sum.StringFixed(4),
		})
	}
	return out
}
