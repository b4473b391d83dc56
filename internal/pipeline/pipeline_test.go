package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"robots_timeline/internal/eventstore"
	"robots_timeline/internal/interpret"
	"robots_timeline/internal/materialize"
	"robots_timeline/internal/model"
	"robots_timeline/internal/storage"
)

type memSink struct {
	mu      sync.Mutex
	records []model.DailyRecord
	failOn  string
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) WriteRecords(_ context.Context, records []model.DailyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(records) > 0 && records[0].Publisher == s.failOn {
		return errors.New("sink unavailable")
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *memSink) Close() error { return nil }

type countingObserver struct {
	mu        sync.Mutex
	replays   int
	ambiguous int
	records   int
	statuses  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{statuses: map[string]int{}}
}

func (o *countingObserver) ObserveReplay(s interpret.Stats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replays++
	o.ambiguous += s.Ambiguous
}

func (o *countingObserver) RecordsWritten(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records += n
}

func (o *countingObserver) PublisherDone(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[status]++
}

type mapLoader map[string][]model.Event

func (m mapLoader) Load(publisher string) []model.Event { return m[publisher] }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func window(t *testing.T, start, end time.Time) materialize.Window {
	t.Helper()
	w, err := materialize.NewWindow(start, end)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	return w
}

func decodeEvents(t *testing.T, raw string) []model.Event {
	t.Helper()
	var events []model.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	return events
}

func blockedSeries(records []model.DailyRecord, publisher, bot string) []bool {
	var out []bool
	for _, r := range records {
		if r.Publisher == publisher && r.BotName == bot {
			out = append(out, r.IsBlocked)
		}
	}
	return out
}

func writePartition(t *testing.T, root, publisher, year, content string) {
	t.Helper()
	dir := filepath.Join(root, publisher, year)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "timeline_"+year+".json"), []byte(content), 0o600); err != nil {
		t.Fatalf("write partition: %v", err)
	}
}

var trackedBots = []model.Bot{
	{Name: "GPTBot", Category: "AI"},
	{Name: "Googlebot", Category: "Search"},
}

func TestRunBlockingScenarios(t *testing.T) {
	baseline := `{"timestamp":"20230101000000","initial_content":[
		{"user_agent":"GPTBot","disallow":{"added":["https://%s/"]}}]}`

	tests := []struct {
		name   string
		events string
		want   []bool
	}{
		{
			name:   "blocked from baseline stays blocked",
			events: "[" + fmt.Sprintf(baseline, "cnbc.com") + "]",
			want:   []bool{true, true, true, true, true},
		},
		{
			name: "removal on day three unblocks",
			events: "[" + fmt.Sprintf(baseline, "cnbc.com") + `,
				{"timestamp":"20230103120000","agents_removed":["GPTBot"]}]`,
			want: []bool{true, true, false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memSink{}
			loader := mapLoader{"cnbc.com": decodeEvents(t, tt.events)}
			r := New(loader, trackedBots, []storage.Sink{sink}, discardLogger())

			sum, err := r.Run(context.Background(), []string{"cnbc.com"}, window(t, day(2023, 1, 1), day(2023, 1, 5)))
			if err != nil {
				t.Fatalf("run: %v", err)
			}

			if diff := cmp.Diff(tt.want, blockedSeries(sink.records, "cnbc.com", "GPTBot")); diff != "" {
				t.Errorf("GPTBot series mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]bool{false, false, false, false, false}, blockedSeries(sink.records, "cnbc.com", "Googlebot")); diff != "" {
				t.Errorf("Googlebot series mismatch (-want +got):\n%s", diff)
			}
			want := Summary{Publishers: 1, Completed: 1, Records: 10}
			if diff := cmp.Diff(want, sum); diff != "" {
				t.Errorf("summary mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunEndToEndIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writePartition(t, root, "cnbc.com", "2023", `[
		{"timestamp":"20230102000000","rule_changes":[{"user_agent":"Googlebot","allow":{"added":["https://cnbc.com/news"]}}]},
		{"timestamp":"20230101000000","initial_content":[{"user_agent":"GPTBot","disallow":{"added":["https://cnbc.com/"]}}]}
	]`)
	writePartition(t, root, "wsj.com", "2023", `[
		{"timestamp":"20230102000000","rule_changes":[{"user_agent":"Googlebot","disallow":"/private"}]}
	]`)
	writePartition(t, root, "wsj.com", "2024", `{broken`)
	publishers := []string{"wsj.com", "cnbc.com", "bbc.com"}
	w := window(t, day(2023, 1, 1), day(2023, 1, 2))

	render := func(workers int) (string, *countingObserver) {
		var buf bytes.Buffer
		sink, err := storage.NewCSV(&buf)
		if err != nil {
			t.Fatalf("new csv: %v", err)
		}
		obs := newCountingObserver()
		r := New(eventstore.New(root, discardLogger()), trackedBots, []storage.Sink{sink}, discardLogger(),
			WithWorkers(workers), WithObserver(obs))
		if _, err := r.Run(context.Background(), publishers, w); err != nil {
			t.Fatalf("run: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		return buf.String(), obs
	}

	first, obs := render(1)
	want := "date,publisher,bot_name,bot_category,is_blocked\n" +
		"2023-01-01,wsj.com,GPTBot,AI,0\n" +
		"2023-01-01,wsj.com,Googlebot,Search,0\n" +
		"2023-01-02,wsj.com,GPTBot,AI,0\n" +
		"2023-01-02,wsj.com,Googlebot,Search,1\n" +
		"2023-01-01,cnbc.com,GPTBot,AI,1\n" +
		"2023-01-01,cnbc.com,Googlebot,Search,0\n" +
		"2023-01-02,cnbc.com,GPTBot,AI,1\n" +
		"2023-01-02,cnbc.com,Googlebot,Search,0\n" +
		"2023-01-01,bbc.com,GPTBot,AI,0\n" +
		"2023-01-01,bbc.com,Googlebot,Search,0\n" +
		"2023-01-02,bbc.com,GPTBot,AI,0\n" +
		"2023-01-02,bbc.com,Googlebot,Search,0\n"
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
	if obs.ambiguous != 1 {
		t.Errorf("ambiguous = %d, want 1", obs.ambiguous)
	}
	if diff := cmp.Diff(map[string]int{StatusCompleted: 3}, obs.statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if obs.records != 12 {
		t.Errorf("records = %d, want 12", obs.records)
	}

	second, _ := render(1)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
	parallel, _ := render(4)
	if diff := cmp.Diff(first, parallel); diff != "" {
		t.Errorf("parallel run differs (-serial +parallel):\n%s", diff)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memSink{}
	obs := newCountingObserver()
	r := New(mapLoader{}, trackedBots, []storage.Sink{sink}, discardLogger(), WithObserver(obs))

	sum, err := r.Run(ctx, []string{"cnbc.com", "wsj.com"}, window(t, day(2023, 1, 1), day(2023, 1, 3)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if diff := cmp.Diff(Summary{Publishers: 2, Skipped: 2}, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if len(sink.records) != 0 {
		t.Errorf("wrote %d records after cancel", len(sink.records))
	}
	if diff := cmp.Diff(map[string]int{StatusSkipped: 2}, obs.statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSinkFailureStops(t *testing.T) {
	sink := &memSink{failOn: "wsj.com"}
	r := New(mapLoader{}, trackedBots, []storage.Sink{sink}, discardLogger(), WithWorkers(2))

	sum, err := r.Run(context.Background(), []string{"cnbc.com", "wsj.com", "bbc.com"}, window(t, day(2023, 1, 1), day(2023, 1, 1)))
	if err == nil {
		t.Fatal("expected sink error")
	}
	if sum.Completed != 1 {
		t.Errorf("completed = %d, want 1", sum.Completed)
	}
	if diff := cmp.Diff([]string{"cnbc.com", "cnbc.com"}, publishersOf(sink.records)); diff != "" {
		t.Errorf("written publishers mismatch (-want +got):\n%s", diff)
	}
}

func publishersOf(records []model.DailyRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Publisher
	}
	return out
}

func TestWithWorkers(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{name: "positive", in: 3, want: 3},
		{name: "zero means one", in: 0, want: 1},
		{name: "negative other than -1 means one", in: -5, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(mapLoader{}, nil, nil, discardLogger(), WithWorkers(tt.in))
			if r.workers != tt.want {
				t.Errorf("workers = %d, want %d", r.workers, tt.want)
			}
		})
	}

	if r := New(mapLoader{}, nil, nil, discardLogger(), WithWorkers(-1)); r.workers < 1 {
		t.Errorf("all-CPU workers = %d, want >= 1", r.workers)
	}
}
