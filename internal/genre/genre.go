// Package genre maps subscriber genre tags to provider queries.
package genre

import (
	"errors"
	"fmt"
	"strings"

	"release_bot/internal/model"
	"release_bot/internal/source"
)

// EpochYear is the earliest release year a query accepts. Older catalog
// entries occasionally come back from "upcoming" listings and are dropped.
const EpochYear = 2024

// ErrUnknownGenre is returned for tags outside the catalog.
var ErrUnknownGenre = errors.New("unknown genre")

// Known genre tags.
const (
	Bollywood model.GenreTag = "bollywood"
	Hollywood model.GenreTag = "hollywood"
	Tamil     model.GenreTag = "tamil"
	Tollywood model.GenreTag = "tollywood"
	Gujarati  model.GenreTag = "gujarati"
	Marathi   model.GenreTag = "marathi"
	Korean    model.GenreTag = "korean"
	Indian    model.GenreTag = "indian"
	WebSeries model.GenreTag = "webseries"
	Anime     model.GenreTag = "anime"
)

// TMDB genre id for animation, shared by the movie and TV lists.
const tmdbAnimation = 16

// Entry is one row of the genre table.
type Entry struct {
	Tag     model.GenreTag
	Label   string
	Queries []source.Query
}

func movie(region, lang string) source.Query {
	return source.Query{Kind: model.KindMovie, Region: region, Language: lang, MinYear: EpochYear, SortBy: source.SortReleaseDate}
}

func series(region, lang string) source.Query {
	return source.Query{Kind: model.KindSeries, Region: region, Language: lang, MinYear: EpochYear, SortBy: source.SortReleaseDate}
}

// table is ordered the way the selection menu shows it.
var table = []Entry{
	{Tag: Bollywood, Label: "Bollywood", Queries: []source.Query{movie("IN", "hi")}},
	{Tag: Hollywood, Label: "Hollywood", Queries: []source.Query{movie("US", "en")}},
	{Tag: Tamil, Label: "Tamil", Queries: []source.Query{movie("IN", "ta")}},
	{Tag: Tollywood, Label: "Tollywood", Queries: []source.Query{movie("IN", "te")}},
	{Tag: Gujarati, Label: "Gujarati", Queries: []source.Query{movie("IN", "gu")}},
	{Tag: Marathi, Label: "Marathi", Queries: []source.Query{movie("IN", "mr")}},
	{Tag: Korean, Label: "Korean Dramas", Queries: []source.Query{series("KR", "ko")}},
	{Tag: Indian, Label: "Indian Dramas", Queries: []source.Query{series("IN", "hi")}},
	{Tag: WebSeries, Label: "Web Series", Queries: []source.Query{
		{Kind: model.KindSeries, MinYear: EpochYear, SortBy: source.SortPopularity},
	}},
	{Tag: Anime, Label: "Anime", Queries: []source.Query{
		{Kind: model.KindSeries, Region: "JP", Language: "ja", MinYear: EpochYear, SortBy: source.SortReleaseDate, GenreIDs: []int{tmdbAnimation}},
		{Kind: model.KindMovie, Region: "JP", Language: "ja", MinYear: EpochYear, SortBy: source.SortReleaseDate, GenreIDs: []int{tmdbAnimation}},
	}},
}

var byTag = func() map[model.GenreTag]Entry {
	m := make(map[model.GenreTag]Entry, len(table))
	for _, e := range table {
		m[e.Tag] = e
	}
	return m
}()

// Canonical trims and lower-cases a tag.
func Canonical(tag string) model.GenreTag {
	return model.GenreTag(strings.ToLower(strings.TrimSpace(tag)))
}

// Resolve returns the provider queries for a tag.
func Resolve(tag model.GenreTag) ([]source.Query, error) {
	e, ok := byTag[Canonical(string(tag))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenre, tag)
	}
	out := make([]source.Query, len(e.Queries))
	copy(out, e.Queries)
	return out, nil
}

// Valid reports whether tag is in the catalog.
func Valid(tag model.GenreTag) bool {
	_, ok := byTag[Canonical(string(tag))]
	return ok
}

// Label returns the display name of a tag, or the tag itself when unknown.
func Label(tag model.GenreTag) string {
	if e, ok := byTag[Canonical(string(tag))]; ok {
		return e.Label
	}
	return string(tag)
}

// Tags returns every known tag in menu order.
func Tags() []model.GenreTag {
	out := make([]model.GenreTag, len(table))
	for i, e := range table {
		out[i] = e.Tag
	}
	return out
}
