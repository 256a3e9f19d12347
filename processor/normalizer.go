package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "hyperfeed/config"
	"hyperfeed/enrich"
	"hyperfeed/internal/channel"
	"hyperfeed/logger"
	"hyperfeed/models"
)

// Normalizer turns decoded frames into unified records. Frames are handled
// strictly one at a time in arrival order; the enrichment call for a book
// snapshot completes before the next frame is touched, which preserves
// per-coin output ordering.
type Normalizer struct {
	config   *appconfig.Config
	channels *channel.Channels
	enricher *enrich.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics
	booksProcessed  int64
	tradesProcessed int64
	recordsProduced int64
	framesIgnored   int64
	errorsCount     int64
}

func NewNormalizer(cfg *appconfig.Config, ch *channel.Channels, enricher *enrich.Client) *Normalizer {
	return &Normalizer{
		config:   cfg,
		channels: ch,
		enricher: enricher,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (n *Normalizer) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("normalizer already running")
	}
	n.running = true
	n.ctx = ctx
	n.mu.Unlock()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"depth_levels": n.config.Processor.DepthLevels,
		"all_trades":   n.config.Processor.AllTrades,
	}).Info("starting normalizer")

	// Single worker keeps frames in arrival order.
	n.wg.Add(1)
	go n.worker()

	go n.metricsReporter(ctx)

	log.Info("normalizer started successfully")
	return nil
}

func (n *Normalizer) Stop() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()

	n.log.WithComponent("normalizer").Info("stopping normalizer")
	n.wg.Wait()
	n.log.WithComponent("normalizer").Info("normalizer stopped")
}

func (n *Normalizer) worker() {
	defer n.wg.Done()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"worker": "normalizer"})
	log.Info("starting normalizer worker")

	for {
		select {
		case <-n.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case frame, ok := <-n.channels.Frames:
			if !ok {
				log.Info("frame channel closed, worker stopping")
				return
			}

			start := time.Now()
			produced := n.processFrame(frame)
			n.recordsProduced += int64(produced)

			logger.LogPerformanceEntry(log, "normalizer", "process_frame", time.Since(start), logger.Fields{
				"channel":          frame.Channel,
				"records_produced": produced,
			})
		}
	}
}

// processFrame dispatches on the channel discriminant and returns how many
// records were produced. A malformed payload is logged with the raw frame
// and dropped; it never stops the worker.
func (n *Normalizer) processFrame(frame models.RawFrame) int {
	switch frame.Channel {
	case "l2Book":
		return n.processBook(frame)
	case "trades":
		return n.processTrades(frame)
	default:
		n.framesIgnored++
		n.log.WithComponent("normalizer").WithFields(logger.Fields{
			"channel": frame.Channel,
		}).Debug("ignoring frame with unrecognized channel")
		return 0
	}
}

func (n *Normalizer) processBook(frame models.RawFrame) int {
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "process_book"})

	var book models.WsBook
	if err := json.Unmarshal(frame.Data, &book); err != nil {
		n.errorsCount++
		log.WithError(err).WithFields(logger.Fields{
			"raw_payload": string(frame.Data),
		}).Warn("failed to unmarshal l2Book payload")
		return 0
	}

	levels := n.config.Processor.DepthLevels
	bids := AggregateLevels(book.Levels[0], levels)
	asks := AggregateLevels(book.Levels[1], levels)

	// A lookup miss or transport failure blanks the statistics columns;
	// it never suppresses the snapshot record itself.
	stats, err := n.enricher.Fetch(n.ctx, book.Coin)
	if err != nil {
		if errors.Is(err, enrich.ErrAssetNotFound) {
			log.WithFields(logger.Fields{"coin": book.Coin}).Warn("coin not found in universe, statistics omitted")
		} else {
			log.WithError(err).WithFields(logger.Fields{"coin": book.Coin}).Warn("enrichment fetch failed, statistics omitted")
		}
		stats = models.AssetStats{}
	}

	record := models.UnifiedRecord{
		Kind:  models.KindBook,
		Time:  time.UnixMilli(book.Time),
		Coin:  book.Coin,
		Asks:  asks,
		Bids:  bids,
		Stats: stats,
	}

	if !n.channels.SendRecord(n.ctx, record) {
		return 0
	}
	n.booksProcessed++

	logger.LogDataFlowEntry(log, "frame_channel", "record_channel", len(asks)+len(bids), "book_levels")
	return 1
}

func (n *Normalizer) processTrades(frame models.RawFrame) int {
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "process_trades"})

	var trades []models.WsTrade
	if err := json.Unmarshal(frame.Data, &trades); err != nil {
		n.errorsCount++
		log.WithError(err).WithFields(logger.Fields{
			"raw_payload": string(frame.Data),
		}).Warn("failed to unmarshal trades payload")
		return 0
	}
	if len(trades) == 0 {
		log.Debug("empty trades frame")
		return 0
	}

	// The feed may batch several executions into one frame. Historically
	// only the first was recorded; all_trades processes the whole batch.
	if !n.config.Processor.AllTrades {
		trades = trades[:1]
	}

	produced := 0
	for _, trade := range trades {
		record := models.UnifiedRecord{
			Kind:       models.KindTrade,
			Time:       time.UnixMilli(trade.Time),
			Coin:       trade.Coin,
			TradeSide:  SideLabel(trade.Side),
			TradePrice: trade.Px,
			TradeSize:  trade.Sz,
		}
		if !n.channels.SendRecord(n.ctx, record) {
			break
		}
		n.tradesProcessed++
		produced++
	}
	return produced
}

// SideLabel maps the feed's side code to the human readable label used in
// the trade column.
func SideLabel(side string) string {
	if side == "B" {
		return "Buy (Bid)"
	}
	return "Sell (Ask)"
}

func (n *Normalizer) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.reportMetrics()
		}
	}
}

func (n *Normalizer) reportMetrics() {
	n.mu.RLock()
	books := n.booksProcessed
	trades := n.tradesProcessed
	records := n.recordsProduced
	ignored := n.framesIgnored
	errs := n.errorsCount
	n.mu.RUnlock()

	n.log.LogMetric("normalizer", "books_processed", books, "counter", logger.Fields{})
	n.log.LogMetric("normalizer", "trades_processed", trades, "counter", logger.Fields{})
	n.log.LogMetric("normalizer", "records_produced", records, "counter", logger.Fields{})
	n.log.LogMetric("normalizer", "frames_ignored", ignored, "counter", logger.Fields{})
	n.log.LogMetric("normalizer", "errors_count", errs, "counter", logger.Fields{})

	n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"books_processed":  books,
		"trades_processed": trades,
		"records_produced": records,
		"frames_ignored":   ignored,
		"errors_count":     errs,
		"frames_len":       len(n.channels.Frames),
		"frames_cap":       cap(n.channels.Frames),
	}).Info("normalizer metrics")
}
