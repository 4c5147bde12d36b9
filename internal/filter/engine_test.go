package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		h     Headline
		rules []Rule
		want  bool
	}{
		{
			name: "no rules passes everything",
			h:    Headline{Title: "anything"},
			want: true,
		},
		{
			name:  "include word matches",
			h:     Headline{Title: "Sequel cast revealed", Link: "https://news/1"},
			rules: []Rule{{Kind: Include, Scope: ScopeAll, Value: "cast"}},
			want:  true,
		},
		{
			name:  "include word no match",
			h:     Headline{Title: "Box office weekend", Link: "https://news/2"},
			rules: []Rule{{Kind: Include, Scope: ScopeAll, Value: "cast"}},
			want:  false,
		},
		{
			name:  "include is case insensitive",
			h:     Headline{Title: "RELEASE DATE CONFIRMED"},
			rules: []Rule{{Kind: Include, Scope: ScopeTitle, Value: "release"}},
			want:  true,
		},
		{
			name: "include and exclude both match, exclude wins",
			h:    Headline{Title: "Release date rumour"},
			rules: []Rule{
				{Kind: Include, Scope: ScopeTitle, Value: "release"},
				{Kind: Exclude, Scope: ScopeTitle, Value: "rumour"},
			},
			want: false,
		},
		{
			name: "multiple includes OR logic",
			h:    Headline{Title: "New director joins"},
			rules: []Rule{
				{Kind: Include, Scope: ScopeTitle, Value: "cast"},
				{Kind: Include, Scope: ScopeTitle, Value: "director"},
			},
			want: true,
		},
		{
			name:  "regex include matches",
			h:     Headline{Title: "Teaser drops in Hindi and Tamil"},
			rules: []Rule{{Kind: IncludeRe, Scope: ScopeTitle, Value: "hindi|telugu"}},
			want:  true,
		},
		{
			name:  "regex exclude blocks",
			h:     Headline{Title: "Sponsored: release party tickets"},
			rules: []Rule{{Kind: ExcludeRe, Scope: ScopeAll, Value: "^sponsored"}},
			want:  false,
		},
		{
			name:  "invalid regex never matches",
			h:     Headline{Title: "anything"},
			rules: []Rule{{Kind: IncludeRe, Scope: ScopeAll, Value: "[invalid"}},
			want:  false,
		},
		{
			name:  "link scope ignores title",
			h:     Headline{Title: "Cast list", Link: "https://news/box-office"},
			rules: []Rule{{Kind: Include, Scope: ScopeLink, Value: "cast"}},
			want:  false,
		},
		{
			name:  "unicode include",
			h:     Headline{Title: "रिलीज़ डेट का ऐलान"},
			rules: []Rule{{Kind: Include, Scope: ScopeTitle, Value: "रिलीज़"}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Match(tt.h, tt.rules)); diff != "" {
				t.Errorf("Match() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name    string
		words   []string
		want    []Rule
		wantErr bool
	}{
		{
			name:  "defaults",
			words: nil,
			want: []Rule{
				{Kind: IncludeRe, Scope: ScopeTitle, Value: `\bcast\b`},
				{Kind: IncludeRe, Scope: ScopeTitle, Value: `\bdirectors?\b`},
				{Kind: IncludeRe, Scope: ScopeTitle, Value: `\breleases?\b`},
				{Kind: IncludeRe, Scope: ScopeTitle, Value: `\blanguages?\b`},
			},
		},
		{
			name:  "excludes and regex",
			words: []string{" trailer ", "-rumour", "/dub(bed)?/", "-/^ad:/", "", "-"},
			want: []Rule{
				{Kind: Include, Scope: ScopeTitle, Value: "trailer"},
				{Kind: Exclude, Scope: ScopeTitle, Value: "rumour"},
				{Kind: IncludeRe, Scope: ScopeTitle, Value: "dub(bed)?"},
				{Kind: ExcludeRe, Scope: ScopeTitle, Value: "^ad:"},
			},
		},
		{
			name:    "bad regex",
			words:   []string{"/[oops/"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Keywords(tt.words)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Keywords() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultKeywordsMatchWholeWords(t *testing.T) {
	rules, err := Keywords(nil)
	if err != nil {
		t.Fatalf("Keywords: %v", err)
	}

	tests := []struct {
		title string
		want  bool
	}{
		{"Full cast announced", true},
		{"Cast: the final lineup", true},
		{"Two directors share the chair", true},
		{"New releases this week", true},
		{"Dubbed language versions", true},
		{"Live broadcast of the awards", false},
		{"Box office forecast", false},
		{"Directorial debut reviewed", false},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Match(Headline{Title: tt.title}, rules)); diff != "" {
			t.Errorf("Match(%q) (-want +got):\n%s", tt.title, diff)
		}
	}
}
