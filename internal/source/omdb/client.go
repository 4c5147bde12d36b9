// Package omdb implements the secondary title-lookup adapter on top of the OMDb API.
package omdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"release_bot/internal/model"
	"release_bot/internal/source"
)

const (
	// DefaultBaseURL is the public OMDb endpoint.
	DefaultBaseURL = "https://www.omdbapi.com/"
	// DefaultMinInterval spreads calls thinly; the free tier allows 1000 a day.
	DefaultMinInterval = time.Second

	providerName = "omdb"
	omdbDate     = "02 Jan 2006"
)

// Record is the flat OMDb title payload.
type Record struct {
	Title    string `json:"Title"`
	Year     string `json:"Year"`
	Released string `json:"Released"`
	Plot     string `json:"Plot"`
	Poster   string `json:"Poster"`
	Actors   string `json:"Actors"`
	Director string `json:"Director"`
	Language string `json:"Language"`
	Type     string `json:"Type"`
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

// BreakerConfig tunes the circuit breaker around OMDb calls.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

// Client provides title lookups against OMDb.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	throttle   *source.Throttle
	breaker    *gobreaker.CircuitBreaker[*source.RawCandidate]
	log        *slog.Logger
}

var _ source.Secondary = (*Client)(nil)

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

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(cfg BreakerConfig) Option {
	return func(c *Client) {
		c.breaker = c.newBreaker(cfg)
	}
}

// New creates an OMDb client.
func New(apiKey, baseURL string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("omdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		throttle:   source.NewThrottle(DefaultMinInterval),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.log = client.log.With("component", providerName)
	if client.breaker == nil {
		client.breaker = client.newBreaker(BreakerConfig{FailureThreshold: 5, Timeout: 5 * time.Minute})
	}
	return client, nil
}

func (c *Client) newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[*source.RawCandidate] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[*source.RawCandidate](gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, source.ErrNotFound) || errors.Is(err, source.ErrMalformedRecord)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// Lookup returns the single OMDb match for title, or source.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, title string, kind model.MediaKind) (*source.RawCandidate, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title must not be empty")
	}
	cand, err := c.breaker.Execute(func() (*source.RawCandidate, error) {
		return c.lookup(ctx, title, kind)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: omdb breaker: %w", source.ErrTransientFetch, err)
	}
	return cand, err
}

func (c *Client) lookup(ctx context.Context, title string, kind model.MediaKind) (*source.RawCandidate, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse omdb url: %w", err)
	}
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("t", title)
	params.Set("plot", "short")
	switch kind {
	case model.KindMovie:
		params.Set("type", "movie")
	case model.KindSeries:
		params.Set("type", "series")
	}
	endpoint.RawQuery = params.Encode()

	if err := c.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %w", source.ErrTransientFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, fmt.Errorf("%w: execute request (latency=%v): %w", source.ErrTransientFetch, latency, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: omdb returned %d (latency=%v)", source.ErrTransientFetch, resp.StatusCode, latency)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("omdb returned %d (latency=%v)", resp.StatusCode, latency)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode omdb response: %w", source.ErrMalformedRecord, err)
	}
	if !strings.EqualFold(rec.Response, "True") {
		return nil, fmt.Errorf("%w: omdb %q: %s", source.ErrNotFound, title, rec.Error)
	}
	if clean(rec.Title) == "" {
		return nil, fmt.Errorf("%w: omdb record without title", source.ErrMalformedRecord)
	}
	cand := rec.toCandidate(kind)
	return &cand, nil
}

func (r Record) toCandidate(kind model.MediaKind) source.RawCandidate {
	if r.Type == "series" {
		kind = model.KindSeries
	} else if r.Type == "movie" {
		kind = model.KindMovie
	}
	return source.RawCandidate{
		Title:       clean(r.Title),
		Kind:        kind,
		ReleaseDate: isoDate(r.Released),
		Overview:    clean(r.Plot),
		PosterURL:   clean(r.Poster),
		Cast:        clean(r.Actors),
		Director:    clean(r.Director),
		Languages:   clean(r.Language),
		Provider:    providerName,
	}
}

// clean maps OMDb's "N/A" marker to an empty string.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if s == model.NotAvailable {
		return ""
	}
	return s
}

func isoDate(released string) string {
	released = clean(released)
	if released == "" {
		return ""
	}
	t, err := time.Parse(omdbDate, released)
	if err != nil {
		return ""
	}
	return t.Format(time.DateOnly)
}
