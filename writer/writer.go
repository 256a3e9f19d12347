package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "hyperfeed/config"
	"hyperfeed/internal/channel"
	"hyperfeed/logger"
	"hyperfeed/models"
)

// Sink persists batches of unified records. Implementations are expected to
// tolerate repeated Write calls and to flush any internal buffering on Close.
type Sink interface {
	Name() string
	Write(records []models.UnifiedRecord) error
	Close() error
}

// Writer drains the record channel into a buffer and fans each flushed batch
// out to every configured sink. A failing sink never blocks the others.
type Writer struct {
	config      *appconfig.Config
	channels    *channel.Channels
	sinks       []Sink
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      []models.UnifiedRecord
	bufMu       sync.Mutex
	flushTicker *time.Ticker
}

// NewWriter creates a writer over the given sinks. Sinks are injected so
// tests can capture output without touching disk or the network.
func NewWriter(cfg *appconfig.Config, ch *channel.Channels, sinks []Sink) (*Writer, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}
	return &Writer{
		config:   cfg,
		channels: ch,
		sinks:    sinks,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}, nil
}

// BuildSinks constructs the sinks enabled in the configuration.
func BuildSinks(cfg *appconfig.Config) ([]Sink, error) {
	var sinks []Sink
	if cfg.Writer.CSV.Enabled {
		s, err := NewCSVSink(cfg.Writer.CSV.Path, cfg.Processor.DepthLevels)
		if err != nil {
			return nil, fmt.Errorf("csv sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Writer.Console.Enabled {
		sinks = append(sinks, NewConsoleSink(cfg.Writer.Console.Levels))
	}
	if cfg.Writer.Kafka.Enabled {
		s, err := NewKafkaSink(cfg.Writer.Kafka.Brokers, cfg.Writer.Kafka.Topic)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Storage.S3.Enabled {
		s, err := NewS3Sink(cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no sinks enabled")
	}
	return sinks, nil
}

// Start begins draining the record channel.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("writer").WithFields(logger.Fields{"operation": "Start"})
	names := make([]string, len(w.sinks))
	for i, s := range w.sinks {
		names[i] = s.Name()
	}
	log.WithFields(logger.Fields{"sinks": names}).Info("starting writer")

	w.flushTicker = time.NewTicker(w.config.Writer.FlushInterval)
	w.wg.Add(1)
	go w.worker()

	log.Info("writer started successfully")
	return nil
}

// Stop drains remaining records, flushes and closes every sink.
func (w *Writer) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	log := w.log.WithComponent("writer")
	log.Info("stopping writer")
	w.wg.Wait()
	for _, s := range w.sinks {
		if err := s.Close(); err != nil {
			log.WithError(err).WithFields(logger.Fields{"sink": s.Name()}).Warn("failed to close sink")
		}
	}
	log.Info("writer stopped")
}

func (w *Writer) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting writer worker")

	for {
		select {
		case <-w.ctx.Done():
			w.drainRemaining()
			w.flushBuffer("shutdown")
			log.Info("worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flushBuffer("interval")
		case record, ok := <-w.channels.Records:
			if !ok {
				w.flushBuffer("channel closed")
				return
			}
			w.bufMu.Lock()
			w.buffer = append(w.buffer, record)
			w.bufMu.Unlock()
		}
	}
}

// drainRemaining empties whatever is still queued in the record channel so a
// shutdown does not silently discard records the processor already emitted.
func (w *Writer) drainRemaining() {
	for {
		select {
		case record, ok := <-w.channels.Records:
			if !ok {
				return
			}
			w.bufMu.Lock()
			w.buffer = append(w.buffer, record)
			w.bufMu.Unlock()
		default:
			return
		}
	}
}

func (w *Writer) flushBuffer(reason string) {
	w.bufMu.Lock()
	batch := w.buffer
	w.buffer = nil
	w.bufMu.Unlock()

	if len(batch) == 0 {
		return
	}

	log := w.log.WithComponent("writer").WithFields(logger.Fields{
		"records": len(batch),
		"reason":  reason,
	})
	log.Debug("flushing records")

	for _, s := range w.sinks {
		if err := s.Write(batch); err != nil {
			log.WithError(err).WithFields(logger.Fields{"sink": s.Name()}).Error("sink write failed")
			continue
		}
		logger.IncrementRecordWritten(s.Name(), len(batch))
	}
}
