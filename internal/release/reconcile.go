package release

import (
	"errors"
	"fmt"
	"strings"

	"release_bot/internal/model"
	"release_bot/internal/source"
)

// Errors returned by Reconcile.
var (
	ErrNoCandidate = errors.New("no candidate to reconcile")
	ErrEmptyTitle  = errors.New("candidate title is empty after cleaning")
)

// Reconcile merges the primary and secondary records of one title into a
// canonical release. At least one record must be non-nil.
//
// The primary provider carries better media assets while the secondary one
// tends to have fresher release-date corrections, so the merge is asymmetric:
//
//	releaseDate  secondary when primary is TBA or missing
//	overview     secondary only when primary has none
//	poster       primary (secondary only fills a gap)
//	cast         secondary when primary is N/A
//	director     secondary when primary is N/A
//	languages    primary (secondary only fills a gap)
func Reconcile(primary, secondary *source.RawCandidate, tag model.GenreTag) (model.Release, error) {
	if primary == nil && secondary == nil {
		return model.Release{}, ErrNoCandidate
	}

	base := primary
	if base == nil {
		base = secondary
	}

	r := model.Release{
		Title:       CleanTitle(base.Title),
		Kind:        base.Kind,
		GenreTag:    tag,
		GenreTags:   []model.GenreTag{tag},
		ReleaseDate: model.DateTBA,
		Overview:    model.NoOverview,
		PosterURL:   model.PlaceholderPoster,
		Cast:        model.NotAvailable,
		Director:    model.NotAvailable,
		Languages:   model.NotAvailable,
	}
	if r.Title == "" {
		return model.Release{}, fmt.Errorf("%w: %q", ErrEmptyTitle, base.Title)
	}
	if r.Kind == "" {
		r.Kind = model.KindMovie
	}

	var providers []string
	if primary != nil {
		providers = append(providers, primary.Provider)
		r.ReleaseDate = NormalizeDate(primary.ReleaseDate)
		r.Overview = orDefault(primary.Overview, model.NoOverview)
		r.PosterURL = orDefault(primary.PosterURL, model.PlaceholderPoster)
		r.Cast = orDefault(primary.Cast, model.NotAvailable)
		r.Director = orDefault(primary.Director, model.NotAvailable)
		r.Languages = orDefault(primary.Languages, model.NotAvailable)
	}

	if secondary != nil {
		providers = append(providers, secondary.Provider)
		if d := NormalizeDate(secondary.ReleaseDate); r.ReleaseDate == model.DateTBA {
			r.ReleaseDate = d
		}
		if s := strings.TrimSpace(secondary.Overview); s != "" && r.Overview == model.NoOverview {
			r.Overview = s
		}
		if s := strings.TrimSpace(secondary.PosterURL); s != "" && r.PosterURL == model.PlaceholderPoster {
			r.PosterURL = s
		}
		if s := strings.TrimSpace(secondary.Cast); s != "" && r.Cast == model.NotAvailable {
			r.Cast = s
		}
		if s := strings.TrimSpace(secondary.Director); s != "" && r.Director == model.NotAvailable {
			r.Director = s
		}
		if s := strings.TrimSpace(secondary.Languages); s != "" && r.Languages == model.NotAvailable {
			r.Languages = s
		}
	}

	r.Source = strings.Join(nonEmpty(providers), "+")
	r.Identity = Identity(r.Title, r.ReleaseDate)
	return r, nil
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == model.NotAvailable {
		return def
	}
	return s
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
