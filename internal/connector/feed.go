package connector

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/logging"
)

const maxPerFeed = 20

// FeedConfig names one RSS/Atom deal feed.
type FeedConfig struct {
	URL  string
	Name string
}

// Feed searches RSS/Atom deal feeds for entries mentioning every term of the
// query.
type Feed struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
	logger *zap.Logger
}

// NewFeed creates a connector over the given feeds.
func NewFeed(feeds []FeedConfig, client *http.Client, logger *zap.Logger) *Feed {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &Feed{feeds: feeds, parser: parser, logger: logging.OrNop(logger)}
}

func (f *Feed) Name() string { return "feeds" }

// Search parses every feed and keeps matching entries. A feed that cannot be
// parsed is logged and skipped; the error is only returned when all fail.
func (f *Feed) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	terms := strings.Fields(strings.ToLower(query))
	records := []Record{}
	var lastErr error
	failed := 0

	for _, fc := range f.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		feed, err := f.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			f.logger.Warn("failed to parse feed", zap.String("url", fc.URL), zap.Error(err))
			lastErr = err
			failed++
			continue
		}

		matched := 0
		for _, item := range feed.Items {
			if matched >= maxPerFeed {
				break
			}
			rec, ok := feedRecord(item, name)
			if !ok || !matchesTerms(rec, terms) {
				continue
			}
			records = append(records, rec)
			matched++
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}
		f.logger.Debug("parsed feed", zap.String("feed", name), zap.Int("matched", matched))
	}

	if failed > 0 && failed == len(f.feeds) {
		return nil, &Error{Connector: f.Name(), Err: lastErr}
	}
	return records, nil
}

func feedRecord(item *gofeed.Item, source string) (Record, bool) {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if itemURL == "" || title == "" {
		return nil, false
	}

	var content string
	if item.Description != "" {
		content = stripHTML(item.Description)
	} else if item.Content != "" {
		content = stripHTML(item.Content)
	}

	meta := Record{}
	if item.PublishedParsed != nil {
		meta["published"] = item.PublishedParsed.Format(time.DateOnly)
	} else if item.UpdatedParsed != nil {
		meta["published"] = item.UpdatedParsed.Format(time.DateOnly)
	}
	if len(item.Categories) > 0 {
		meta["categories"] = item.Categories
	}

	rec := Record{
		"product_id":  item.GUID,
		"title":       title,
		"url":         itemURL,
		"description": content,
		"source":      source,
		"metadata":    meta,
	}
	if img := feedImage(item); img != "" {
		rec["image_url"] = img
	}
	return rec, true
}

func feedImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func matchesTerms(rec Record, terms []string) bool {
	haystack := strings.ToLower(rec["title"].(string) + " " + rec["description"].(string))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func stripHTML(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
