// Package source defines the contracts between the release pipeline and the
// external metadata providers.
package source

import (
	"context"
	"errors"
	"iter"

	"release_bot/internal/model"
)

// Provider failure classes. Adapters wrap their errors with one of these so
// callers can decide per item whether to skip or abort.
var (
	ErrTransientFetch  = errors.New("transient fetch error")
	ErrMalformedRecord = errors.New("malformed record")
	ErrNotFound        = errors.New("not found")
)

// Sort orders understood by the primary provider.
const (
	SortReleaseDate = "release_date"
	SortPopularity  = "popularity"
)

// Query describes one list request against a provider.
type Query struct {
	Kind     model.MediaKind
	Region   string
	Language string
	MinYear  int
	SortBy   string
	GenreIDs []int
}

// RawCandidate is a provider record translated into provider-neutral fields.
// Empty strings mean the provider did not supply the value.
type RawCandidate struct {
	ID          int64
	Title       string
	Kind        model.MediaKind
	ReleaseDate string
	Overview    string
	PosterURL   string
	Cast        string
	Director    string
	Languages   string
	Provider    string
}

// RawDetails carries the fields list endpoints omit.
type RawDetails struct {
	Cast      string
	Director  string
	Languages string
}

// Apply copies non-empty detail fields onto the candidate.
func (d RawDetails) Apply(c *RawCandidate) {
	if d.Cast != "" {
		c.Cast = d.Cast
	}
	if d.Director != "" {
		c.Director = d.Director
	}
	if d.Languages != "" {
		c.Languages = d.Languages
	}
}

// Primary is the rich structured-metadata provider.
type Primary interface {
	FetchCandidates(ctx context.Context, q Query) iter.Seq[RawCandidate]
	FetchDetails(ctx context.Context, kind model.MediaKind, id int64) (RawDetails, error)
	Search(ctx context.Context, title string) (*RawCandidate, error)
}

// Secondary is the plain title-lookup provider used as a fallback.
type Secondary interface {
	Lookup(ctx context.Context, title string, kind model.MediaKind) (*RawCandidate, error)
}
