package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"release_bot/internal/genre"
	"release_bot/internal/matcher"
	"release_bot/internal/model"
)

// overviewLimit is the number of overview characters shown in a caption.
const overviewLimit = 200

// FormatNotification formats a release as a scheduled notification caption.
func FormatNotification(r model.Release) string {
	return "Upcoming: " + FormatRelease(r)
}

// FormatRelease formats a release as a photo caption. The overview is cut
// for display only.
func FormatRelease(r model.Release) string {
	var b strings.Builder
	b.WriteString(r.Title)
	if r.Kind == model.KindSeries {
		b.WriteString(" (series)")
	}
	b.WriteString("\n")
	if tags := matcher.Tags(r); len(tags) > 0 {
		fmt.Fprintf(&b, "Genre: %s\n", genreLabels(tags))
	}
	fmt.Fprintf(&b, "Release: %s\n", r.ReleaseDate)
	fmt.Fprintf(&b, "Cast: %s\n", r.Cast)
	fmt.Fprintf(&b, "Director: %s\n", r.Director)
	fmt.Fprintf(&b, "Languages: %s\n", r.Languages)
	fmt.Fprintf(&b, "Overview: %s", truncate(r.Overview, overviewLimit))
	return b.String()
}

// FormatNews formats the latest headlines as a list.
func FormatNews(items []model.NewsItem) string {
	if len(items) == 0 {
		return "No news yet. Check back later."
	}
	var b strings.Builder
	b.WriteString("Latest release news:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "\n• %s\n", it.Title)
		if it.Link != "" {
			fmt.Fprintf(&b, "  %s\n", it.Link)
		}
	}
	return b.String()
}

// FormatStats formats store counters and the current cycle state.
func FormatStats(st model.Stats, state string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subscribers: %d\n", st.Subscribers)
	fmt.Fprintf(&b, "Releases: %d\n", st.Releases)
	fmt.Fprintf(&b, "News items: %d\n", st.NewsItems)
	fmt.Fprintf(&b, "Notifications delivered: %d", st.Deliveries)
	if state != "" {
		fmt.Fprintf(&b, "\nCycle: %s", state)
	}
	return b.String()
}

func genreLabels(tags []model.GenreTag) string {
	labels := make([]string, len(tags))
	for i, t := range tags {
		labels[i] = genre.Label(t)
	}
	return strings.Join(labels, ", ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}
