package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"robots_timeline/internal/model"
)

func TestParseBots(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		want    []model.Bot
		wantErr bool
	}{
		{
			name: "wide layout with uneven columns",
			csv: "company,name of AI bot,name of search bot\n" +
				"OpenAI,GPTBot,OAI-SearchBot\n" +
				"Common Crawl,CCBot,\n" +
				"Google,,Googlebot\n",
			want: []model.Bot{
				{Name: "GPTBot", Category: "AI"},
				{Name: "CCBot", Category: "AI"},
				{Name: "OAI-SearchBot", Category: "Search"},
				{Name: "Googlebot", Category: "Search"},
			},
		},
		{
			name: "bot in two columns keeps first position and last category",
			csv: "name of AI bot,name of search bot\n" +
				"Applebot,Bingbot\n" +
				",Applebot\n",
			want: []model.Bot{
				{Name: "Applebot", Category: "Search"},
				{Name: "Bingbot", Category: "Search"},
			},
		},
		{
			name: "narrow layout",
			csv:  "name,category\nGPTBot,AI\nGooglebot,Search\n,AI\nMystery,\n",
			want: []model.Bot{
				{Name: "GPTBot", Category: "AI"},
				{Name: "Googlebot", Category: "Search"},
				{Name: "Mystery", Category: ""},
			},
		},
		{
			name:    "no bot columns",
			csv:     "company,url\nOpenAI,openai.com\n",
			wantErr: true,
		},
		{
			name:    "empty file",
			csv:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := ParseBots(strings.NewReader(tt.csv))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBots() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, reg.Bots()); diff != "" {
				t.Errorf("Bots mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRestrict(t *testing.T) {
	reg, err := ParseBots(strings.NewReader("name,category\nGPTBot,AI\nCCBot,AI\nGooglebot,Search\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := reg.Restrict([]string{"Googlebot", "GPTBot", "NotThere"})

	if diff := cmp.Diff([]string{"GPTBot", "Googlebot"}, got.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"GPTBot", "CCBot", "Googlebot"}, reg.Names()); diff != "" {
		t.Errorf("source registry changed (-want +got):\n%s", diff)
	}
}

func TestParsePublishers(t *testing.T) {
	input := "cnbc.com\n\n  nytimes.com  \nwsj.com\nbbc.com\n"

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "no limit", limit: 0, want: []string{"cnbc.com", "nytimes.com", "wsj.com", "bbc.com"}},
		{name: "limit", limit: 2, want: []string{"cnbc.com", "nytimes.com"}},
		{name: "limit above count", limit: 100, want: []string{"cnbc.com", "nytimes.com", "wsj.com", "bbc.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePublishers(strings.NewReader(input), tt.limit)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("publishers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	botsPath := filepath.Join(dir, "company_bots.csv")
	pubsPath := filepath.Join(dir, "publishers.txt")
	if err := os.WriteFile(botsPath, []byte("name of AI bot\nGPTBot\n"), 0o600); err != nil {
		t.Fatalf("write bots: %v", err)
	}
	if err := os.WriteFile(pubsPath, []byte("cnbc.com\n"), 0o600); err != nil {
		t.Fatalf("write publishers: %v", err)
	}

	reg, err := LoadBots(botsPath)
	if err != nil {
		t.Fatalf("load bots: %v", err)
	}
	if diff := cmp.Diff([]model.Bot{{Name: "GPTBot", Category: "AI"}}, reg.Bots()); diff != "" {
		t.Errorf("Bots mismatch (-want +got):\n%s", diff)
	}

	pubs, err := LoadPublishers(pubsPath, 0)
	if err != nil {
		t.Fatalf("load publishers: %v", err)
	}
	if diff := cmp.Diff([]string{"cnbc.com"}, pubs); diff != "" {
		t.Errorf("publishers mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadBots(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("expected error for missing bots file")
	}
}
