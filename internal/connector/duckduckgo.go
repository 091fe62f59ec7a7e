package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML endpoint of DuckDuckGo. It needs no API key
// and serves as the fallback connector.
type DuckDuckGo struct {
	Region  string
	BaseURL string

	client *http.Client
}

// NewDuckDuckGo creates the fallback web search connector.
func NewDuckDuckGo(region string, client *http.Client) *DuckDuckGo {
	if client == nil {
		client = http.DefaultClient
	}
	return &DuckDuckGo{Region: region, BaseURL: defaultDuckDuckGoURL, client: client}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search returns up to limit web results for query.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	doc, err := d.fetchDocument(ctx, query)
	if err != nil {
		return nil, &Error{Connector: d.Name(), Err: err}
	}

	records := []Record{}
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(records) >= limit {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}
		if rec, ok := parseResult(s); ok {
			records = append(records, rec)
		}
		return true
	})
	return records, nil
}

func (d *DuckDuckGo) fetchDocument(ctx context.Context, query string) (*goquery.Document, error) {
	params := url.Values{}
	params.Set("q", query)
	if d.Region != "" {
		params.Set("kl", d.Region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; shopscout/1.0)")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func parseResult(s *goquery.Selection) (Record, bool) {
	link := s.Find("a.result__a").First()
	title := strings.TrimSpace(link.Text())
	href, _ := link.Attr("href")
	target := resolveRedirect(href)
	if title == "" || target == "" {
		return nil, false
	}

	rec := Record{
		"title":       title,
		"url":         target,
		"description": strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		"metadata":    Record{"display_url": strings.TrimSpace(s.Find(".result__url").First().Text())},
	}
	if u, err := url.Parse(target); err == nil {
		rec["source"] = strings.TrimPrefix(u.Hostname(), "www.")
	}
	if img, ok := s.Find("img.result__icon__img").First().Attr("src"); ok && strings.HasPrefix(img, "http") {
		rec["image_url"] = img
	}
	return rec, true
}

// resolveRedirect unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=<target> links.
func resolveRedirect(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
