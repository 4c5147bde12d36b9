// Package release turns provider candidates into canonical releases: it
// normalizes titles and dates, merges primary and secondary records, and
// removes duplicates within a batch.
package release

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"release_bot/internal/model"
)

// CleanTitle trims a title, folds accented letters to their base form,
// drops any remaining non-ASCII characters and collapses whitespace.
func CleanTitle(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	prevSpace := true
	for _, r := range folded {
		switch {
		case r > unicode.MaxASCII || unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeDate returns s as YYYY-MM-DD, or model.DateTBA when s is empty or
// not a recognizable date.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len(time.DateOnly) {
		if t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)]); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return model.DateTBA
}

// Identity returns the dedup and upsert key for a title and release date.
func Identity(title, date string) string {
	return strings.ToLower(CleanTitle(title)) + "|" + NormalizeDate(date)
}
