package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dhcgn/mailbox-export/model"
)

// CSV writes one row per record to emailData.csv, header first.
type CSV struct {
	path string

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, BaseName+".csv")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(model.Columns); err != nil {
		file.Close()
		return nil, err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return nil, err
	}

	return &CSV{path: path, file: file, writer: writer}, nil
}

func (c *CSV) Path() string {
	return c.path
}

func (c *CSV) Write(_ context.Context, _ string, records []model.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return os.ErrClosed
	}
	for _, rec := range records {
		if err := c.writer.Write(rec.Row()); err != nil {
			return fmt.Errorf("write record %d: %w", rec.ID, err)
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return nil
	}
	c.writer.Flush()
	werr := c.writer.Error()
	c.writer = nil
	if err := c.file.Close(); err != nil {
		return err
	}
	return werr
}
