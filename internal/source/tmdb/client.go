// Package tmdb implements the primary metadata adapter on top of the TMDB v3 API.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"release_bot/internal/metrics"
	"release_bot/internal/model"
	"release_bot/internal/source"
)

const (
	// DefaultBaseURL is the public TMDB v3 endpoint.
	DefaultBaseURL = "https://api.themoviedb.org/3"
	// DefaultImageBase prefixes poster paths.
	DefaultImageBase = "https://image.tmdb.org/t/p/w500"
	// DefaultMinInterval keeps well below TMDB's ~50 requests/second ceiling.
	DefaultMinInterval = 250 * time.Millisecond

	providerName = "tmdb"
	castLimit    = 5
)

// Result represents a single TMDB list or search entry.
type Result struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	MediaType    string  `json:"media_type"`
	PosterPath   string  `json:"poster_path"`
	GenreIDs     []int   `json:"genre_ids"`
	Popularity   float64 `json:"popularity"`
}

// Response models a paginated TMDB list response.
type Response struct {
	Page         int      `json:"page"`
	Results      []Result `json:"results"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
}

type person struct {
	Name string `json:"name"`
	Job  string `json:"job"`
}

type spokenLanguage struct {
	EnglishName string `json:"english_name"`
	Name        string `json:"name"`
}

// Details models the fields of movie/tv detail payloads this adapter reads.
type Details struct {
	ID              int64            `json:"id"`
	SpokenLanguages []spokenLanguage `json:"spoken_languages"`
	CreatedBy       []person         `json:"created_by"`
	Credits         struct {
		Cast []person `json:"cast"`
		Crew []person `json:"crew"`
	} `json:"credits"`
}

// Client provides access to the TMDB API.
type Client struct {
	apiKey     string
	baseURL    string
	imageBase  string
	language   string
	maxPages   int
	httpClient *http.Client
	throttle   *source.Throttle
	log        *slog.Logger
	now        func() time.Time
}

var _ source.Primary = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMinInterval overrides the minimum delay between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		c.throttle = source.NewThrottle(d)
	}
}

// WithLogger sets the logger used for skipped candidates.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMaxPages caps how many list pages a single query walks.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithClock overrides the time source used for date filters.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a TMDB client.
func New(apiKey, baseURL string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		imageBase:  DefaultImageBase,
		language:   "en-US",
		maxPages:   3,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		throttle:   source.NewThrottle(DefaultMinInterval),
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.log = client.log.With("component", providerName)
	return client, nil
}

// FetchCandidates walks the discover endpoint for q and yields candidates
// enriched with details. Candidates that fail to translate or whose details
// cannot be fetched are logged and skipped; a failing page ends the sequence.
func (c *Client) FetchCandidates(ctx context.Context, q source.Query) iter.Seq[source.RawCandidate] {
	return func(yield func(source.RawCandidate) bool) {
		for page := 1; page <= c.maxPages; page++ {
			resp, err := c.Discover(ctx, q, page)
			if err != nil {
				c.log.Warn("discover page failed", "kind", q.Kind, "region", q.Region, "language", q.Language, "page", page, "error", err)
				return
			}

			for _, r := range resp.Results {
				cand, err := toCandidate(r, q.Kind, c.imageBase)
				if err != nil {
					metrics.RecordSkipped("malformed")
					c.log.Warn("skip candidate", "id", r.ID, "error", err)
					continue
				}
				if !onOrAfterYear(cand.ReleaseDate, q.MinYear) {
					continue
				}

				details, err := c.FetchDetails(ctx, cand.Kind, cand.ID)
				if err != nil {
					metrics.RecordSkipped("details")
					c.log.Warn("skip candidate without details", "id", cand.ID, "title", cand.Title, "error", err)
					continue
				}
				details.Apply(&cand)

				if !yield(cand) {
					return
				}
			}

			if page >= resp.TotalPages {
				return
			}
		}
	}
}

// Discover requests one page of the movie or tv discover list.
func (c *Client) Discover(ctx context.Context, q source.Query, page int) (*Response, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("include_adult", "false")
	if q.Language != "" {
		params.Set("with_original_language", q.Language)
	}
	if len(q.GenreIDs) > 0 {
		ids := make([]string, len(q.GenreIDs))
		for i, id := range q.GenreIDs {
			ids[i] = strconv.Itoa(id)
		}
		params.Set("with_genres", strings.Join(ids, ","))
	}

	from := c.now().UTC().Format(time.DateOnly)
	if q.MinYear > 0 {
		if floor := fmt.Sprintf("%04d-01-01", q.MinYear); floor > from {
			from = floor
		}
	}

	path := "/discover/movie"
	switch q.Kind {
	case model.KindSeries:
		path = "/discover/tv"
		params.Set("first_air_date.gte", from)
		if q.Region != "" {
			params.Set("with_origin_country", q.Region)
		}
		if q.SortBy == source.SortPopularity {
			params.Set("sort_by", "popularity.desc")
		} else {
			params.Set("sort_by", "first_air_date.asc")
		}
	default:
		params.Set("primary_release_date.gte", from)
		if q.Region != "" {
			params.Set("region", q.Region)
		}
		if q.SortBy == source.SortPopularity {
			params.Set("sort_by", "popularity.desc")
		} else {
			params.Set("sort_by", "primary_release_date.asc")
		}
	}

	var payload Response
	if err := c.getJSON(ctx, path, params, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// FetchDetails fetches cast, director and spoken languages for a title.
func (c *Client) FetchDetails(ctx context.Context, kind model.MediaKind, id int64) (source.RawDetails, error) {
	if id <= 0 {
		return source.RawDetails{}, fmt.Errorf("%w: id must be positive", source.ErrMalformedRecord)
	}
	path := fmt.Sprintf("/movie/%d", id)
	if kind == model.KindSeries {
		path = fmt.Sprintf("/tv/%d", id)
	}
	params := url.Values{}
	params.Set("append_to_response", "credits")

	var payload Details
	if err := c.getJSON(ctx, path, params, &payload); err != nil {
		return source.RawDetails{}, err
	}
	return payload.toRawDetails(kind), nil
}

// Search looks a title up across movies and TV and returns the best match
// with details filled in.
func (c *Client) Search(ctx context.Context, title string) (*source.RawCandidate, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("query must not be empty")
	}
	params := url.Values{}
	params.Set("query", title)
	params.Set("include_adult", "false")

	var payload Response
	if err := c.getJSON(ctx, "/search/multi", params, &payload); err != nil {
		return nil, err
	}

	for _, r := range payload.Results {
		var kind model.MediaKind
		switch r.MediaType {
		case "movie":
			kind = model.KindMovie
		case "tv":
			kind = model.KindSeries
		default:
			continue
		}
		cand, err := toCandidate(r, kind, c.imageBase)
		if err != nil {
			continue
		}
		details, err := c.FetchDetails(ctx, kind, cand.ID)
		if err != nil {
			c.log.Warn("search details failed", "id", cand.ID, "error", err)
		} else {
			details.Apply(&cand)
		}
		return &cand, nil
	}
	return nil, fmt.Errorf("%w: %q", source.ErrNotFound, title)
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	params.Set("api_key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
	endpoint.RawQuery = params.Encode()

	if err := c.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("%w: throttle: %w", source.ErrTransientFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return fmt.Errorf("%w: execute request (latency=%v): %w", source.ErrTransientFetch, latency, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: tmdb %s returned %d (latency=%v)", source.ErrTransientFetch, path, resp.StatusCode, latency)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: tmdb %s", source.ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("tmdb %s returned %d (latency=%v)", path, resp.StatusCode, latency)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode tmdb response: %w", source.ErrMalformedRecord, err)
	}
	return nil
}

func toCandidate(r Result, kind model.MediaKind, imageBase string) (source.RawCandidate, error) {
	title, date := r.Title, r.ReleaseDate
	if kind == model.KindSeries {
		title, date = r.Name, r.FirstAirDate
	}
	if title == "" {
		title = r.Title + r.Name
	}
	if date == "" {
		date = r.ReleaseDate + r.FirstAirDate
	}
	if r.ID <= 0 {
		return source.RawCandidate{}, fmt.Errorf("%w: missing id", source.ErrMalformedRecord)
	}
	if strings.TrimSpace(title) == "" {
		return source.RawCandidate{}, fmt.Errorf("%w: missing title for id %d", source.ErrMalformedRecord, r.ID)
	}

	poster := ""
	if r.PosterPath != "" {
		poster = imageBase + r.PosterPath
	}
	return source.RawCandidate{
		ID:          r.ID,
		Title:       title,
		Kind:        kind,
		ReleaseDate: date,
		Overview:    r.Overview,
		PosterURL:   poster,
		Provider:    providerName,
	}, nil
}

func (d Details) toRawDetails(kind model.MediaKind) source.RawDetails {
	var out source.RawDetails

	var cast []string
	for _, p := range d.Credits.Cast {
		if len(cast) == castLimit {
			break
		}
		if p.Name != "" {
			cast = append(cast, p.Name)
		}
	}
	out.Cast = strings.Join(cast, ", ")

	var directors []string
	if kind == model.KindSeries {
		for _, p := range d.CreatedBy {
			if p.Name != "" {
				directors = append(directors, p.Name)
			}
		}
	}
	if len(directors) == 0 {
		for _, p := range d.Credits.Crew {
			if p.Job == "Director" && p.Name != "" {
				directors = append(directors, p.Name)
			}
		}
	}
	out.Director = strings.Join(directors, ", ")

	var langs []string
	for _, l := range d.SpokenLanguages {
		name := l.EnglishName
		if name == "" {
			name = l.Name
		}
		if name != "" {
			langs = append(langs, name)
		}
	}
	out.Languages = strings.Join(langs, ", ")
	return out
}

// onOrAfterYear reports whether an ISO date is in minYear or later. Dates
// that do not parse are kept; they surface as TBA downstream.
func onOrAfterYear(date string, minYear int) bool {
	if minYear <= 0 || len(date) < 4 {
		return true
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return true
	}
	return year >= minYear
}
