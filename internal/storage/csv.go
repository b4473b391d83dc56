package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"robots_timeline/internal/model"
)

// Header is the first row of every CSV grid.
var Header = []string{"date", "publisher", "bot_name", "bot_category", "is_blocked"}

// CSV writes daily records as comma separated rows.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVFile creates (or truncates) the file at path and writes the header.
func NewCSVFile(path string) (*CSV, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	c, err := NewCSV(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// NewCSV writes the header to w and returns a sink over it.
func NewCSV(w io.Writer) (*CSV, error) {
	c := &CSV{w: csv.NewWriter(w)}
	if err := c.w.Write(Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return c, nil
}

// Name implements Sink.
func (c *CSV) Name() string { return "csv" }

// WriteRecords implements Sink. Rows are flushed before it returns.
func (c *CSV) WriteRecords(_ context.Context, records []model.DailyRecord) error {
	row := make([]string, len(Header))
	for _, r := range records {
		row[0] = r.Date.Format(model.DateLayout)
		row[1] = r.Publisher
		row[2] = r.BotName
		row[3] = r.BotCategory
		row[4] = blockedFlag(r.IsBlocked)
		if err := c.w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the underlying file, if any.
// Closing twice is a no-op.
func (c *CSV) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}

func blockedFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
