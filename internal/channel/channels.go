package channel

import (
	"context"
	"sync"
	"time"

	"hyperfeed/logger"
	"hyperfeed/models"
)

type ChannelStats struct {
	FramesSent     int64
	RecordsSent    int64
	FramesDropped  int64
	RecordsDropped int64
}

// Channels carries decoded frames from the reader to the normalizer and
// unified records from the normalizer to the writer.
type Channels struct {
	Frames  chan models.RawFrame
	Records chan models.UnifiedRecord

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(frameBufferSize, recordBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Frames:  make(chan models.RawFrame, frameBufferSize),
		Records: make(chan models.UnifiedRecord, recordBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"frame_buffer_size":  frameBufferSize,
		"record_buffer_size": recordBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Frames)
	close(c.Records)
	c.log.WithComponent("channels").Info("channels closed")
}

func (c *Channels) IncrementFramesSent() {
	c.statsMutex.Lock()
	c.stats.FramesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRecordsSent() {
	c.statsMutex.Lock()
	c.stats.RecordsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementFramesDropped() {
	c.statsMutex.Lock()
	c.stats.FramesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRecordsDropped() {
	c.statsMutex.Lock()
	c.stats.RecordsDropped++
	c.statsMutex.Unlock()
}

// SendFrame forwards a decoded frame without blocking. A full buffer counts
// as a drop so the reader never stalls behind a slow pipeline.
func (c *Channels) SendFrame(ctx context.Context, frame models.RawFrame) bool {
	select {
	case c.Frames <- frame:
		c.IncrementFramesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementFramesDropped()
		return false
	}
}

// SendRecord blocks until the writer accepts the record or the context is
// cancelled. Records are never dropped once produced.
func (c *Channels) SendRecord(ctx context.Context, record models.UnifiedRecord) bool {
	select {
	case c.Records <- record:
		c.IncrementRecordsSent()
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically logs channel occupancy and send/drop
// counters until the context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"frames_sent":     stats.FramesSent,
				"frames_dropped":  stats.FramesDropped,
				"records_sent":    stats.RecordsSent,
				"records_dropped": stats.RecordsDropped,
				"frames_len":      len(c.Frames),
				"frames_cap":      cap(c.Frames),
				"records_len":     len(c.Records),
				"records_cap":     cap(c.Records),
			}).Info("channel metrics")
		}
	}
}
