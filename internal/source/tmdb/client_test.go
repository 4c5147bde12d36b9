package tmdb_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"release_bot/internal/model"
	"release_bot/internal/source"
	"release_bot/internal/source/tmdb"
)

var fixedNow = func() time.Time { return time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC) }

func newClient(t *testing.T, handler http.HandlerFunc) *tmdb.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := tmdb.New("key", server.URL,
		tmdb.WithMinInterval(0),
		tmdb.WithClock(fixedNow),
		tmdb.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := tmdb.New("", "https://example.com"); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestFetchCandidates(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "key" {
			t.Errorf("expected api_key query parameter, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/discover/movie":
			q := r.URL.Query()
			if q.Get("with_original_language") != "hi" || q.Get("region") != "IN" {
				t.Errorf("unexpected filters: %q", r.URL.RawQuery)
			}
			if q.Get("primary_release_date.gte") != "2025-10-20" {
				t.Errorf("unexpected date floor: %q", q.Get("primary_release_date.gte"))
			}
			_, _ = w.Write([]byte(`{"page":1,"total_pages":1,"results":[
				{"id":1,"title":"Good Film","release_date":"2025-11-01","overview":"o","poster_path":"/p.jpg"},
				{"id":0,"title":"No Id"},
				{"id":3,"title":"Old Film","release_date":"2019-01-01"},
				{"id":4,"title":"Broken Details","release_date":"2025-12-01"}
			]}`))
		case "/movie/1":
			if r.URL.Query().Get("append_to_response") != "credits" {
				t.Errorf("expected credits to be appended")
			}
			_, _ = w.Write([]byte(`{"id":1,"spoken_languages":[{"english_name":"Hindi"}],
				"credits":{"cast":[{"name":"A"},{"name":"B"}],"crew":[{"name":"D","job":"Director"},{"name":"W","job":"Writer"}]}}`))
		case "/movie/4":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	q := source.Query{Kind: model.KindMovie, Region: "IN", Language: "hi", MinYear: 2024, SortBy: source.SortReleaseDate}
	var got []source.RawCandidate
	for c := range client.FetchCandidates(context.Background(), q) {
		got = append(got, c)
	}

	want := []source.RawCandidate{{
		ID:          1,
		Title:       "Good Film",
		Kind:        model.KindMovie,
		ReleaseDate: "2025-11-01",
		Overview:    "o",
		PosterURL:   tmdb.DefaultImageBase + "/p.jpg",
		Cast:        "A, B",
		Director:    "D",
		Languages:   "Hindi",
		Provider:    "tmdb",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchCandidates mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchCandidatesSeriesUsesCreators(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/discover/tv":
			if got := r.URL.Query().Get("sort_by"); got != "popularity.desc" {
				t.Errorf("sort_by = %q", got)
			}
			_, _ = w.Write([]byte(`{"page":1,"total_pages":1,"results":[{"id":7,"name":"Show","first_air_date":"2025-10-25"}]}`))
		case "/tv/7":
			_, _ = w.Write([]byte(`{"id":7,"created_by":[{"name":"Creator"}],"credits":{"cast":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	q := source.Query{Kind: model.KindSeries, SortBy: source.SortPopularity}
	var got []source.RawCandidate
	for c := range client.FetchCandidates(context.Background(), q) {
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if diff := cmp.Diff("Creator", got[0].Director); diff != "" {
		t.Errorf("director (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("", got[0].PosterURL); diff != "" {
		t.Errorf("poster (-want +got):\n%s", diff)
	}
}

func TestFetchCandidatesStopsEarly(t *testing.T) {
	calls := 0
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if strings.HasPrefix(r.URL.Path, "/discover") {
			_, _ = w.Write([]byte(`{"page":1,"total_pages":5,"results":[{"id":1,"title":"A"},{"id":2,"title":"B"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	for range client.FetchCandidates(context.Background(), source.Query{Kind: model.KindMovie}) {
		break
	}
	if diff := cmp.Diff(2, calls); diff != "" {
		t.Errorf("expected one list and one details call (-want +got):\n%s", diff)
	}
}

func TestDiscoverErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error is transient", status: http.StatusBadGateway, wantErr: source.ErrTransientFetch},
		{name: "rate limited is transient", status: http.StatusTooManyRequests, wantErr: source.ErrTransientFetch},
		{name: "garbage body is malformed", status: http.StatusOK, body: "not json", wantErr: source.ErrMalformedRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Discover(context.Background(), source.Query{Kind: model.KindMovie}, 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/multi":
			if r.URL.Query().Get("query") != "Dune" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"results":[{"id":9,"media_type":"person","name":"Someone"},{"id":5,"media_type":"movie","title":"Dune","release_date":"2026-12-18"}]}`))
		case "/movie/5":
			_, _ = w.Write([]byte(`{"id":5,"credits":{"crew":[{"name":"Denis","job":"Director"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	got, err := client.Search(context.Background(), "Dune")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if diff := cmp.Diff("Denis", got.Director); diff != "" {
		t.Errorf("director (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.KindMovie, got.Kind); diff != "" {
		t.Errorf("kind (-want +got):\n%s", diff)
	}
}

func TestSearchNotFound(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	if _, err := client.Search(context.Background(), "nothing"); !errors.Is(err, source.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.Search(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty query")
	}
}
