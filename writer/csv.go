package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hyperfeed/logger"
	"hyperfeed/models"
)

// CSVSink appends unified records to a single CSV file. The header row is
// written only when the file is created empty, so restarts keep appending to
// the same file without repeating it.
type CSVSink struct {
	path   string
	levels int
	mu     sync.Mutex
	file   *os.File
	csv    *csv.Writer
	log    *logger.Log
}

// NewCSVSink opens (or creates) the CSV file at path for appending.
func NewCSVSink(path string, levels int) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create csv directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	s := &CSVSink{
		path:   path,
		levels: levels,
		file:   file,
		csv:    csv.NewWriter(file),
		log:    logger.GetLogger(),
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() == 0 {
		if err := s.csv.Write(models.RecordHeader(levels)); err != nil {
			file.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	s.log.WithComponent("csv_sink").WithFields(logger.Fields{
		"path":   path,
		"levels": levels,
	}).Info("csv sink initialized")
	return s, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(records []models.UnifiedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.csv.Write(r.Row(s.levels)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
