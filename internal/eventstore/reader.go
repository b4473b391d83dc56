// Package eventstore loads a publisher's partitioned robots.txt event logs
// and merges them into one chronologically ordered stream.
package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"robots_timeline/internal/model"
)

// Diagnostics receives counts of recoverable conditions met while reading.
// A nil Diagnostics is allowed.
type Diagnostics interface {
	PartitionSkipped(reason string)
	EventDropped(reason string)
	EntriesMalformed(n int)
	EventsLoaded(n int)
}

// Reasons reported to Diagnostics.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
)

// Reader discovers and decodes event files below Root.
//
// Files live at <Root>/<publisher>/<YYYY>/timeline_<YYYY>.json. An
// un-partitioned <Root>/<publisher>/timeline.json is read as well.
type Reader struct {
	root  string
	years []int
	diag  Diagnostics
	log   *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithYears fixes the expected year partitions instead of discovering them.
// An expected partition without a file is logged as missing.
func WithYears(years []int) Option {
	return func(r *Reader) {
		r.years = slices.Clone(years)
		slices.Sort(r.years)
	}
}

// WithDiagnostics attaches a counter sink for skipped and dropped input.
func WithDiagnostics(d Diagnostics) Option {
	return func(r *Reader) { r.diag = d }
}

// New creates a Reader rooted at root.
func New(root string, log *slog.Logger, opts ...Option) *Reader {
	r := &Reader{root: root, log: log}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load returns all events of a publisher sorted ascending by timestamp.
// Events without a timestamp are kept and sort first. Missing or unreadable
// partitions contribute zero events; Load itself never fails on bad input.
func (r *Reader) Load(publisher string) []model.Event {
	dir := filepath.Join(r.root, publisher)

	var events []model.Event
	for _, p := range r.partitions(publisher, dir) {
		events = append(events, r.readPartition(publisher, p)...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})

	if r.diag != nil {
		r.diag.EventsLoaded(len(events))
	}
	return events
}

type partition struct {
	year int // 0 for the un-partitioned file
	path string
}

func (r *Reader) partitions(publisher, dir string) []partition {
	var parts []partition

	if _, err := os.Stat(filepath.Join(dir, "timeline.json")); err == nil {
		parts = append(parts, partition{path: filepath.Join(dir, "timeline.json")})
	}

	years := r.years
	if years == nil {
		years = r.discoverYears(publisher, dir)
	}
	for _, y := range years {
		name := fmt.Sprintf("timeline_%d.json", y)
		parts = append(parts, partition{
			year: y,
			path: filepath.Join(dir, strconv.Itoa(y), name),
		})
	}
	return parts
}

func (r *Reader) discoverYears(publisher, dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("publisher directory not found", "publisher", publisher, "path", dir)
		} else {
			r.log.Error("list publisher directory", "publisher", publisher, "path", dir, "error", err)
		}
		return nil
	}

	var years []int
	for _, e := range entries {
		if !e.IsDir() || !isDigits(e.Name()) {
			continue
		}
		y, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	slices.Sort(years)
	return years
}

func (r *Reader) readPartition(publisher string, p partition) []model.Event {
	data, err := os.ReadFile(p.path)
	if err != nil {
		reason := ReasonMalformed
		if errors.Is(err, fs.ErrNotExist) {
			reason = ReasonMissing
			r.log.Debug("partition missing", "publisher", publisher, "year", p.year, "path", p.path)
		} else {
			r.log.Warn("read partition", "publisher", publisher, "year", p.year, "path", p.path, "error", err)
		}
		r.skipped(reason)
		return nil
	}

	events, err := r.decode(publisher, data)
	if err != nil {
		r.log.Warn("parse partition", "publisher", publisher, "year", p.year, "path", p.path, "error", err)
		r.skipped(ReasonMalformed)
		return nil
	}
	return events
}

func (r *Reader) decode(publisher string, data []byte) ([]model.Event, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}

	events := make([]model.Event, 0, len(items))
	malformed := 0
	for i, item := range items {
		var ev model.Event
		if err := json.Unmarshal(item, &ev); err != nil {
			r.log.Warn("skip malformed event", "publisher", publisher, "index", i, "error", err)
			if r.diag != nil {
				r.diag.EventDropped(ReasonMalformed)
			}
			continue
		}
		malformed += ev.Malformed
		events = append(events, ev)
	}

	if malformed > 0 {
		r.log.Warn("skipped malformed entries", "publisher", publisher, "count", malformed)
		if r.diag != nil {
			r.diag.EntriesMalformed(malformed)
		}
	}
	return events, nil
}

func (r *Reader) skipped(reason string) {
	if r.diag != nil {
		r.diag.PartitionSkipped(reason)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
