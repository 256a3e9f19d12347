package writer

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"hyperfeed/logger"
	"hyperfeed/models"
)

// kafkaEnvelope is the JSON document published per record. Keeping the book
// sides as structured arrays lets downstream consumers pick their own depth.
type kafkaEnvelope struct {
	Kind       string             `json:"kind"`
	Time       string             `json:"time"`
	Coin       string             `json:"coin"`
	Asks       []models.BookLevel `json:"asks,omitempty"`
	Bids       []models.BookLevel `json:"bids,omitempty"`
	Stats      models.AssetStats  `json:"stats,omitempty"`
	TradeSide  string             `json:"trade_side,omitempty"`
	TradePrice string             `json:"trade_price,omitempty"`
	TradeSize  string             `json:"trade_size,omitempty"`
}

// KafkaSink publishes each unified record as a JSON message keyed by coin so
// per-coin ordering is preserved across partitions.
type KafkaSink struct {
	writer *kafka.Writer
	log    *logger.Log
}

// NewKafkaSink connects a sink to the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	s := &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		log: logger.GetLogger(),
	}
	s.log.WithComponent("kafka_sink").WithFields(logger.Fields{
		"brokers": brokers,
		"topic":   topic,
	}).Debug("kafka sink initialized")
	return s, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(records []models.UnifiedRecord) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		env := kafkaEnvelope{
			Kind:       string(r.Kind),
			Time:       r.Time.UTC().Format(models.TimeLayout),
			Coin:       r.Coin,
			Asks:       r.Asks,
			Bids:       r.Bids,
			Stats:      r.Stats,
			TradeSide:  r.TradeSide,
			TradePrice: r.TradePrice,
			TradeSize:  r.TradeSize,
		}
		data, err := json.Marshal(env)
		if err != nil {
			s.log.WithComponent("kafka_sink").WithError(err).Warn("failed to marshal record")
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Coin),
			Value: data,
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.writer.WriteMessages(context.Background(), msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	s.log.WithComponent("kafka_sink").WithFields(logger.Fields{
		"records": len(msgs),
	}).Debug("records written to kafka")
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
