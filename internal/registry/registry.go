// Package registry loads the tracked bot universe and the publisher list.
package registry

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"robots_timeline/internal/model"
)

// Registry resolves bot names to categories and keeps their load order.
type Registry struct {
	bots  []model.Bot
	index map[string]int
}

// Bots returns the tracked bots in registry order.
func (r *Registry) Bots() []model.Bot {
	out := make([]model.Bot, len(r.bots))
	copy(out, r.bots)
	return out
}

// Names returns the tracked bot names in registry order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.bots))
	for i, b := range r.bots {
		out[i] = b.Name
	}
	return out
}

// Restrict returns a registry holding only the named bots, in registry order.
func (r *Registry) Restrict(names []string) *Registry {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := newRegistry()
	for _, b := range r.bots {
		if keep[b.Name] {
			out.add(b.Name, b.Category)
		}
	}
	return out
}

func newRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// add keeps the first position of a bot and the last category seen for it.
func (r *Registry) add(name, category string) {
	if i, ok := r.index[name]; ok {
		r.bots[i].Category = category
		return
	}
	r.index[name] = len(r.bots)
	r.bots = append(r.bots, model.Bot{Name: name, Category: category})
}

// LoadBots reads a bot registry file. See ParseBots for the formats.
func LoadBots(path string) (*Registry, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open bots file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseBots(f)
}

// ParseBots reads a CSV bot registry in one of two layouts:
//
//   - wide: one column per category named "name of <category> bot", each
//     cell a bot name (e.g. "name of AI bot", "name of search bot");
//   - narrow: columns "name" and "category".
//
// Categories from wide headers are capitalized ("search" becomes "Search").
// Columns are read left to right; a bot listed twice keeps its first
// position and its last category.
func ParseBots(r io.Reader) (*Registry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("bots file is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	if nameCol, catCol, ok := narrowColumns(header); ok {
		reg := newRegistry()
		for _, row := range rows {
			name := cell(row, nameCol)
			if name == "" {
				continue
			}
			reg.add(name, cell(row, catCol))
		}
		return reg, nil
	}

	reg := newRegistry()
	matched := false
	for col, h := range header {
		category, ok := wideCategory(h)
		if !ok {
			continue
		}
		matched = true
		for _, row := range rows {
			if name := cell(row, col); name != "" {
				reg.add(name, category)
			}
		}
	}
	if !matched {
		return nil, fmt.Errorf("no bot columns in header %q", header)
	}
	return reg, nil
}

func narrowColumns(header []string) (int, int, bool) {
	nameCol, catCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name", "bot_name":
			nameCol = i
		case "category", "bot_category":
			catCol = i
		}
	}
	return nameCol, catCol, nameCol >= 0 && catCol >= 0
}

func wideCategory(header string) (string, bool) {
	h := strings.TrimSpace(header)
	lower := strings.ToLower(h)
	if !strings.HasPrefix(lower, "name of ") || !strings.HasSuffix(lower, " bot") {
		return "", false
	}
	category := strings.TrimSpace(h[len("name of ") : len(h)-len(" bot")])
	if category == "" {
		return "", false
	}
	runes := []rune(category)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes), true
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// LoadPublishers reads one publisher per line, skipping blank lines, and
// returns at most limit entries. A limit of 0 or less returns all.
func LoadPublishers(path string, limit int) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open publishers file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParsePublishers(f, limit)
}

// ParsePublishers is LoadPublishers over an io.Reader.
func ParsePublishers(r io.Reader, limit int) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read publishers: %w", err)
	}
	return out, nil
}
