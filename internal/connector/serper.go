package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultSerperURL = "https://google.serper.dev"

// Search verticals understood by Serper.
const (
	VerticalSearch   = "search"
	VerticalShopping = "shopping"
	VerticalImages   = "images"
	VerticalNews     = "news"
	VerticalPlaces   = "places"
)

// Verticals lists the accepted vertical names.
var Verticals = []string{VerticalSearch, VerticalShopping, VerticalImages, VerticalNews, VerticalPlaces}

// Serper is a client for the google.serper.dev search API.
type Serper struct {
	APIKey  string
	Country string
	BaseURL string

	client *http.Client
}

// NewSerper creates a Serper client.
func NewSerper(apiKey, country string, client *http.Client) *Serper {
	if client == nil {
		client = http.DefaultClient
	}
	return &Serper{APIKey: apiKey, Country: country, BaseURL: defaultSerperURL, client: client}
}

type serperResponse struct {
	Organic  []Record `json:"organic"`
	Shopping []Record `json:"shopping"`
	Images   []Record `json:"images"`
	News     []Record `json:"news"`
	Places   []Record `json:"places"`
}

// SearchVertical queries one Serper endpoint and maps the results onto
// listing records.
func (s *Serper) SearchVertical(ctx context.Context, query, vertical string, limit int) ([]Record, error) {
	if vertical == "" {
		vertical = VerticalSearch
	}
	resp, err := s.post(ctx, vertical, query, limit)
	if err != nil {
		return nil, &Error{Connector: "serper_" + vertical, Err: err}
	}

	var items []Record
	switch vertical {
	case VerticalSearch:
		items = resp.Organic
	case VerticalShopping:
		items = resp.Shopping
	case VerticalImages:
		items = resp.Images
	case VerticalNews:
		items = resp.News
	case VerticalPlaces:
		items = resp.Places
	}

	n := clampLimit(len(items), limit)
	records := make([]Record, 0, n)
	for _, item := range items[:n] {
		records = append(records, serperRecord(item, vertical))
	}
	return records, nil
}

// SearchImages returns image URLs for query.
func (s *Serper) SearchImages(ctx context.Context, query string, count int) ([]string, error) {
	resp, err := s.post(ctx, VerticalImages, query, count)
	if err != nil {
		return nil, &Error{Connector: "serper_images", Err: err}
	}
	var urls []string
	for _, img := range resp.Images {
		if u, ok := img["imageUrl"].(string); ok && u != "" {
			urls = append(urls, u)
		}
		if count > 0 && len(urls) >= count {
			break
		}
	}
	return urls, nil
}

// Shopping exposes the shopping vertical as a retrieval connector.
func (s *Serper) Shopping() Connector { return &serperVertical{s: s, vertical: VerticalShopping} }

// Web exposes the plain web search vertical as a connector.
func (s *Serper) Web() Connector { return &serperVertical{s: s, vertical: VerticalSearch} }

func (s *Serper) post(ctx context.Context, vertical, query string, limit int) (*serperResponse, error) {
	body := map[string]any{"q": query}
	if s.Country != "" {
		body["gl"] = s.Country
	}
	if limit > 0 {
		body["num"] = limit
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(s.BaseURL, "/") + "/" + vertical
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.APIKey)

	var resp serperResponse
	if err := doJSON(s.client, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func serperRecord(item Record, vertical string) Record {
	rec := Record{
		"title":       item["title"],
		"url":         item["link"],
		"description": item["snippet"],
		"source":      item["source"],
		"raw":         item,
	}
	if id, ok := item["productId"]; ok {
		rec["product_id"] = id
	}
	if p, ok := item["price"]; ok {
		rec["price"] = p
	}
	if r, ok := item["rating"]; ok {
		rec["rating"] = r
	}
	if n, ok := item["ratingCount"]; ok {
		rec["rating_count"] = n
	}
	if img, ok := item["imageUrl"]; ok {
		rec["image_url"] = img
	}
	meta := Record{"vertical": vertical}
	for _, k := range []string{"delivery", "offers", "date", "address", "position"} {
		if v, ok := item[k]; ok {
			meta[k] = v
		}
	}
	rec["metadata"] = meta
	if rec["source"] == nil {
		rec["source"] = "serper_" + vertical
	}
	return rec
}

type serperVertical struct {
	s        *Serper
	vertical string
}

func (v *serperVertical) Name() string { return "serper_" + v.vertical }

func (v *serperVertical) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	return v.s.SearchVertical(ctx, query, v.vertical, limit)
}
