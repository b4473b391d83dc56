// Package model defines the domain types used across the application.
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// TimestampLayout is the wayback-style instant encoding used by event files.
const TimestampLayout = "20060102150405"

// DateLayout is the calendar date encoding used in output rows.
const DateLayout = "2006-01-02"

// EventKind names one facet of an event. An event may carry several.
type EventKind string

// Supported event kinds.
const (
	KindInitialContent EventKind = "initial_content"
	KindRuleChanges    EventKind = "rule_changes"
	KindAgentsAdded    EventKind = "agents_added"
	KindAgentsRemoved  EventKind = "agents_removed"
)

// Event is one recorded change to a publisher's robots.txt.
//
// Decoding is lenient: a kind whose payload has the wrong shape is dropped,
// and individual entries that fail to decode are skipped and counted in
// Malformed. Neither aborts decoding of the rest of the event.
type Event struct {
	Timestamp      string
	InitialContent []RuleEntry
	RuleChanges    []RuleEntry
	AgentsAdded    []string
	AgentsRemoved  []string

	Kinds     []EventKind
	Malformed int
}

// Has reports whether the event carries the given kind.
func (e *Event) Has(kind EventKind) bool {
	for _, k := range e.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Instant parses the event timestamp. ok is false when the timestamp is
// missing or not in TimestampLayout.
func (e *Event) Instant() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(TimestampLayout, e.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{}

	if ts, ok := raw["timestamp"]; ok {
		// A non-string timestamp is treated as missing.
		_ = json.Unmarshal(ts, &e.Timestamp)
	}

	if v, ok := raw[string(KindInitialContent)]; ok {
		e.Kinds = append(e.Kinds, KindInitialContent)
		e.InitialContent = e.decodeRules(v)
	}
	if v, ok := raw[string(KindRuleChanges)]; ok {
		e.Kinds = append(e.Kinds, KindRuleChanges)
		e.RuleChanges = e.decodeRules(v)
	}
	if v, ok := raw[string(KindAgentsAdded)]; ok {
		e.Kinds = append(e.Kinds, KindAgentsAdded)
		e.AgentsAdded = e.decodeNames(v)
	}
	if v, ok := raw[string(KindAgentsRemoved)]; ok {
		e.Kinds = append(e.Kinds, KindAgentsRemoved)
		e.AgentsRemoved = e.decodeNames(v)
	}
	return nil
}

func (e *Event) decodeRules(data json.RawMessage) []RuleEntry {
	items, ok := e.decodeList(data)
	if !ok {
		return nil
	}
	rules := make([]RuleEntry, 0, len(items))
	for _, item := range items {
		var r RuleEntry
		if err := json.Unmarshal(item, &r); err != nil || r.UserAgent == "" {
			e.Malformed++
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

func (e *Event) decodeNames(data json.RawMessage) []string {
	items, ok := e.decodeList(data)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err != nil || name == "" {
			e.Malformed++
			continue
		}
		names = append(names, name)
	}
	return names
}

func (e *Event) decodeList(data json.RawMessage) ([]json.RawMessage, bool) {
	if isNull(data) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		e.Malformed++
		return nil, false
	}
	return items, true
}

// RuleEntry is one user-agent block inside initial_content or rule_changes.
type RuleEntry struct {
	UserAgent string    `json:"user_agent"`
	Allow     Directive `json:"allow"`
	Disallow  Directive `json:"disallow"`
}

// Directive is an allow or disallow value. It is either a plain value,
// judged only by truthiness, or a delta object carrying an "added" list.
type Directive struct {
	Truthy bool
	Delta  bool
	Added  []string
}

// UnmarshalJSON implements json.Unmarshaler. It never fails on valid JSON.
func (d *Directive) UnmarshalJSON(data []byte) error {
	*d = Directive{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || isNull(data) {
		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	d.Truthy = truthy(v)

	if obj, ok := v.(map[string]any); ok {
		d.Delta = true
		if added, ok := obj["added"].([]any); ok {
			for _, a := range added {
				if s, ok := a.(string); ok {
					d.Added = append(d.Added, s)
				}
			}
		}
	}
	return nil
}

// AddedExactly reports whether the delta's added set is exactly [pattern].
func (d Directive) AddedExactly(pattern string) bool {
	return d.Delta && len(d.Added) == 1 && d.Added[0] == pattern
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}

// Bot is a tracked crawler and its category, e.g. AI or Search.
type Bot struct {
	Name     string
	Category string
}

// UnknownCategory is rendered for bots the registry has no category for.
const UnknownCategory = "Unknown"

// DailyRecord is the blocked state of one bot on one publisher for one day.
type DailyRecord struct {
	Date        time.Time
	Publisher   string
	BotName     string
	BotCategory string
	IsBlocked   bool
}
