package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/bookprice/models"
)

// MultiWriter fans every batch out to several writers, e.g. a CSV file plus a JSONL companion.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (mw *MultiWriter) Write(rows []models.ProcessedRow) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(rows); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for i, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
