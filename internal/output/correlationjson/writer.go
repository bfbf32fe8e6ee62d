package correlationjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MLidstrom/Castellan-sub000/internal/logger"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Writer appends detected correlations to a JSON-lines file. The file is
// opened in append mode so correlations accumulate across restarts.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
}

// NewWriter opens (or creates) the JSONL file at path.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	buf := bufio.NewWriter(f)
	logger.Infof("Correlation JSON writer appending to %s", path)
	return &Writer{
		file:    f,
		buf:     buf,
		encoder: json.NewEncoder(buf),
	}, nil
}

// WriteCorrelations appends a batch, one JSON object per line, and flushes so
// a crash between batches loses nothing.
func (w *Writer) WriteCorrelations(correlations []*models.Correlation) error {
	if len(correlations) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range correlations {
		if err := w.encoder.Encode(c); err != nil {
			return fmt.Errorf("encode correlation %s: %w", c.ID, err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
