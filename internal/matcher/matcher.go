// Package matcher selects the subscribers interested in a release.
package matcher

import (
	"context"
	"fmt"

	"release_bot/internal/model"
)

// Store is the subset of storage the matcher reads from.
type Store interface {
	ListSubscribersByGenres(ctx context.Context, tags []model.GenreTag) ([]model.Subscriber, error)
}

// Matcher resolves notification recipients through the store's genre index.
type Matcher struct {
	store Store
}

// New creates a Matcher over store.
func New(store Store) *Matcher {
	return &Matcher{store: store}
}

// RecipientsFor returns every subscriber following at least one of the
// release's genre tags. Each subscriber appears once.
func (m *Matcher) RecipientsFor(ctx context.Context, r model.Release) ([]model.Subscriber, error) {
	tags := Tags(r)
	if len(tags) == 0 {
		return nil, nil
	}
	subs, err := m.store.ListSubscribersByGenres(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("recipients for %q: %w", r.Identity, err)
	}

	seen := make(map[int64]bool, len(subs))
	out := subs[:0]
	for _, s := range subs {
		if seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		out = append(out, s)
	}
	return out, nil
}

// Tags returns the release's tags with the most recent match first.
func Tags(r model.Release) []model.GenreTag {
	var tags []model.GenreTag
	add := func(t model.GenreTag) {
		if t == "" {
			return
		}
		for _, x := range tags {
			if x == t {
				return
			}
		}
		tags = append(tags, t)
	}
	add(r.GenreTag)
	for _, t := range r.GenreTags {
		add(t)
	}
	return tags
}
