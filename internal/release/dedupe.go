package release

import (
	"time"

	"release_bot/internal/model"
)

// NotifyAhead is how far past today a release still counts as imminent.
const NotifyAhead = 7 * 24 * time.Hour

// Dedupe returns one release per identity, keeping the first occurrence and
// the input order. Tags of dropped duplicates are added to the survivor.
func Dedupe(releases []model.Release) []model.Release {
	out := make([]model.Release, 0, len(releases))
	index := make(map[string]int, len(releases))
	for _, r := range releases {
		tags := append([]model.GenreTag{r.GenreTag}, r.GenreTags...)
		if i, ok := index[r.Identity]; ok {
			out[i].GenreTags = MergeTags(out[i].GenreTags, tags...)
			continue
		}
		index[r.Identity] = len(out)
		r.GenreTags = MergeTags(nil, tags...)
		out = append(out, r)
	}
	return out
}

// MergeTags appends tags missing from dst, preserving order.
func MergeTags(dst []model.GenreTag, tags ...model.GenreTag) []model.GenreTag {
	for _, t := range tags {
		if t == "" {
			continue
		}
		found := false
		for _, d := range dst {
			if d == t {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, t)
		}
	}
	return dst
}

// Window returns the [today, today+7d] date range for now.
func Window(now time.Time) (start, end string) {
	now = now.UTC()
	return now.Format(time.DateOnly), now.Add(NotifyAhead).Format(time.DateOnly)
}

// Month returns the YYYY-MM of now.
func Month(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// Eligible reports whether a release dated date is notifiable at now: it
// falls in the current calendar month or within the next seven days.
func Eligible(date string, now time.Time) bool {
	date = NormalizeDate(date)
	if date == model.DateTBA {
		return false
	}
	if date[:7] == Month(now) {
		return true
	}
	start, end := Window(now)
	return date >= start && date <= end
}
