package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "hyperfeed/config"
	"hyperfeed/logger"
	"hyperfeed/models"
)

// ParquetRecord is the long-format row written to S3. Book records unroll
// into one row per populated rank and side; trades produce a single row with
// rank zero.
type ParquetRecord struct {
	Kind       string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Coin       string `parquet:"name=coin, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
	Side       string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Rank       int32  `parquet:"name=rank, type=INT32"`
	Price      string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Size       string `parquet:"name=size, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cumulative string `parquet:"name=cumulative, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarkPx     string `parquet:"name=mark_px, type=BYTE_ARRAY, convertedtype=UTF8"`
	OraclePx   string `parquet:"name=oracle_px, type=BYTE_ARRAY, convertedtype=UTF8"`
	Funding    string `parquet:"name=funding, type=BYTE_ARRAY, convertedtype=UTF8"`
	OpenInt    string `parquet:"name=open_interest, type=BYTE_ARRAY, convertedtype=UTF8"`
	DayVolume  string `parquet:"name=day_volume, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}
func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// S3Sink batches records into parquet objects partitioned by coin and time.
type S3Sink struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewS3Sink builds the AWS client from configuration and validates that
// credentials are actually resolvable before any batch arrives.
func NewS3Sink(cfg *appconfig.Config) (*S3Sink, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_sink").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("s3_sink").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("s3 sink initialized")

	return &S3Sink{config: cfg, s3Client: s3Client, log: log}, nil
}

func (s *S3Sink) Name() string { return "s3" }

// Write groups the batch by coin and uploads one parquet object per coin.
func (s *S3Sink) Write(records []models.UnifiedRecord) error {
	byCoin := make(map[string][]models.UnifiedRecord)
	for _, r := range records {
		byCoin[r.Coin] = append(byCoin[r.Coin], r)
	}

	var firstErr error
	for coin, group := range byCoin {
		if err := s.uploadGroup(coin, group); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *S3Sink) uploadGroup(coin string, records []models.UnifiedRecord) error {
	batchID := uuid.New().String()
	rows := flattenRecords(records)
	log := s.log.WithComponent("s3_sink").WithFields(logger.Fields{
		"batch_id": batchID,
		"coin":     coin,
		"records":  len(records),
		"rows":     len(rows),
	})
	if len(rows) == 0 {
		log.Debug("batch produced no rows, skipping")
		return nil
	}

	data, err := s.createParquetFile(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return err
	}

	key := s.objectKey(coin, records[len(records)-1], batchID)
	if err := s.upload(key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": s.config.Storage.S3.Bucket, "s3_key": key}).
			Error("failed to upload to S3")
		return err
	}

	log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("batch uploaded")
	return nil
}

// flattenRecords unrolls unified records into long-format parquet rows.
func flattenRecords(records []models.UnifiedRecord) []ParquetRecord {
	var rows []ParquetRecord
	for _, r := range records {
		ts := r.Time.UnixMilli()
		switch r.Kind {
		case models.KindTrade:
			rows = append(rows, ParquetRecord{
				Kind:      string(models.KindTrade),
				Coin:      r.Coin,
				Timestamp: ts,
				Side:      r.TradeSide,
				Price:     r.TradePrice,
				Size:      r.TradeSize,
			})
		case models.KindBook:
			for i, l := range r.Asks {
				rows = append(rows, bookRow(r, ts, "ask", i+1, l))
			}
			for i, l := range r.Bids {
				rows = append(rows, bookRow(r, ts, "bid", i+1, l))
			}
		}
	}
	return rows
}

func bookRow(r models.UnifiedRecord, ts int64, side string, rank int, l models.BookLevel) ParquetRecord {
	return ParquetRecord{
		Kind:       string(models.KindBook),
		Coin:       r.Coin,
		Timestamp:  ts,
		Side:       side,
		Rank:       int32(rank),
		Price:      l.Price,
		Size:       l.Size,
		Cumulative: l.Cumulative,
		MarkPx:     r.Stats.MarkPrice,
		OraclePx:   r.Stats.OraclePrice,
		Funding:    r.Stats.FundingRate,
		OpenInt:    r.Stats.OpenInterest,
		DayVolume:  r.Stats.DayVolume,
	}
}

// objectKey builds the partitioned S3 key for a batch.
func (s *S3Sink) objectKey(coin string, last models.UnifiedRecord, batchID string) string {
	timestamp := last.Time.UTC()

	var parts []string
	for _, k := range s.config.Writer.Partitioning.AdditionalKeys {
		switch k {
		case "coin":
			parts = append(parts, fmt.Sprintf("coin=%s", coin))
		case "kind":
			parts = append(parts, fmt.Sprintf("kind=%s", last.Kind))
		}
	}

	timeFormat := s.config.Writer.Partitioning.TimeFormat
	timePath := strings.ReplaceAll(timeFormat, "{year}", fmt.Sprintf("%04d", timestamp.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", timestamp.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", timestamp.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", timestamp.Hour()))
	parts = append(parts, timePath)

	filename := fmt.Sprintf("hyperliquid_%s_%s_%s.parquet",
		coin, timestamp.Format("20060102150405"), batchID[:8])

	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}

func (s *S3Sink) createParquetFile(rows []ParquetRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch s.config.Writer.Parquet.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "lzo":
		pw.CompressionType = parquet.CompressionCodec_LZO
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (s *S3Sink) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       s.config.Writer.Parquet.Compression,
			"hyperfeed-version": s.config.Hyperfeed.Version,
		},
	}

	if _, err := s.s3Client.PutObject(context.Background(), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", s.config.Storage.S3.Bucket, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }
