// Package storage defines the grid sink interface and its implementations.
package storage

import (
	"context"

	"robots_timeline/internal/model"
)

// Sink receives the daily records of one publisher at a time. Callers
// serialize writes; implementations need not be safe for concurrent use.
type Sink interface {
	Name() string
	WriteRecords(ctx context.Context, records []model.DailyRecord) error
	Close() error
}
