// Package fetcher downloads news pages and extracts release headlines.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"release_bot/internal/filter"
	"release_bot/internal/model"
)

// Supported page formats.
const (
	FormatHTML = "html"
	FormatRSS  = "rss"
)

// DefaultXPath selects every anchor on an HTML page.
const DefaultXPath = "//a"

const userAgent = "ReleaseNotifyBot/1.0"

var whitespace = regexp.MustCompile(`\s+`)

// Fetcher downloads news pages and turns them into headlines.
type Fetcher struct {
	transport http.RoundTripper
	maxItems  int
}

// New creates a Fetcher. A nil transport uses http.DefaultTransport.
func New(transport http.RoundTripper) *Fetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Fetcher{transport: transport, maxItems: 50}
}

// FetchHeadlines downloads pageURL, extracts headlines according to format
// and keeps those passing rules. Duplicate title and link pairs are dropped.
func (f *Fetcher) FetchHeadlines(ctx context.Context, pageURL, format, xpath string, rules []filter.Rule) ([]model.NewsItem, error) {
	var body string
	err := requests.URL(pageURL).
		Transport(f.transport).
		UserAgent(userAgent).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	var items []model.NewsItem
	switch format {
	case FormatRSS:
		items, err = parseFeed(body)
	case FormatHTML, "":
		items, err = parseAnchors(body, pageURL, xpath)
	default:
		return nil, fmt.Errorf("unknown news format %q", format)
	}
	if err != nil {
		return nil, err
	}

	return f.keep(items, rules), nil
}

func (f *Fetcher) keep(items []model.NewsItem, rules []filter.Rule) []model.NewsItem {
	seen := make(map[string]bool, len(items))
	var out []model.NewsItem
	for _, it := range items {
		if it.Title == "" {
			continue
		}
		key := it.Title + "\x00" + it.Link
		if seen[key] {
			continue
		}
		seen[key] = true
		if !filter.Match(filter.Headline{Title: it.Title, Link: it.Link}, rules) {
			continue
		}
		out = append(out, it)
		if len(out) == f.maxItems {
			break
		}
	}
	return out
}

func parseFeed(body string) ([]model.NewsItem, error) {
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	items := make([]model.NewsItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, model.NewsItem{
			Title: compactWhitespace(it.Title),
			Link:  strings.TrimSpace(it.Link),
		})
	}
	return items, nil
}

func parseAnchors(body, pageURL, xpath string) ([]model.NewsItem, error) {
	if xpath == "" {
		xpath = DefaultXPath
	}
	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	nodes, err := htmlquery.QueryAll(doc, xpath)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", xpath, err)
	}

	base, _ := url.Parse(pageURL)
	items := make([]model.NewsItem, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, model.NewsItem{
			Title: digForText(n),
			Link:  resolveLink(base, htmlquery.SelectAttr(n, "href")),
		})
	}
	return items, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return compactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
		buf.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
}

func compactWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
