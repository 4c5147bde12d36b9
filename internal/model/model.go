// Package model defines the domain types used across the application.
package model

import "time"

// MediaKind distinguishes movies from TV seasons.
type MediaKind string

// Supported media kinds.
const (
	KindMovie  MediaKind = "movie"
	KindSeries MediaKind = "series"
)

// GenreTag is one of the content categories a subscriber can follow.
type GenreTag string

// Placeholder values used when a provider leaves a field empty.
const (
	DateTBA           = "TBA"
	NotAvailable      = "N/A"
	NoOverview        = "No overview available."
	PlaceholderPoster = "https://via.placeholder.com/500x750?text=No+Poster"
)

// Release is the canonical record of one upcoming movie or TV season.
type Release struct {
	Identity      string
	Title         string
	Kind          MediaKind
	GenreTag      GenreTag
	GenreTags     []GenreTag
	ReleaseDate   string
	Overview      string
	PosterURL     string
	Cast          string
	Director      string
	Languages     string
	Source        string
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
}

// Subscriber is a chat user together with the genre tags they follow.
type Subscriber struct {
	UserID    int64
	Genres    []GenreTag
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Follows reports whether the subscriber follows the given tag.
func (s Subscriber) Follows(tag GenreTag) bool {
	for _, g := range s.Genres {
		if g == tag {
			return true
		}
	}
	return false
}

// NewsItem is a scraped headline. Title and Link together identify it.
type NewsItem struct {
	Title     string
	Link      string
	ScrapedAt time.Time
}

// Stats holds store-wide counters shown to the admin.
type Stats struct {
	Subscribers int
	Releases    int
	NewsItems   int
	Deliveries  int
}
