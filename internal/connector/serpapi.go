package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultSerpAPIURL = "https://serpapi.com"

// SerpAPIAmazon searches Amazon through SerpAPI's amazon engine.
type SerpAPIAmazon struct {
	APIKey  string
	Region  string
	BaseURL string

	client *http.Client
}

// NewSerpAPIAmazon creates an Amazon marketplace connector for region
// ("in" searches amazon.in).
func NewSerpAPIAmazon(apiKey, region string, client *http.Client) *SerpAPIAmazon {
	if region == "" {
		region = "in"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SerpAPIAmazon{APIKey: apiKey, Region: region, BaseURL: defaultSerpAPIURL, client: client}
}

func (a *SerpAPIAmazon) Name() string { return "serpapi_amazon" }

func (a *SerpAPIAmazon) domain() string { return "amazon." + a.Region }

// Search returns up to limit organic Amazon results.
func (a *SerpAPIAmazon) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	params := url.Values{}
	params.Set("engine", "amazon")
	params.Set("api_key", a.APIKey)
	params.Set("amazon_domain", a.domain())
	params.Set("k", query)
	if limit > 0 {
		params.Set("num", strconv.Itoa(limit))
	}

	endpoint := strings.TrimRight(a.BaseURL, "/") + "/search.json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Connector: a.Name(), Err: fmt.Errorf("creating request: %w", err)}
	}

	var resp struct {
		Error          string   `json:"error"`
		OrganicResults []Record `json:"organic_results"`
	}
	if err := doJSON(a.client, req, &resp); err != nil {
		return nil, &Error{Connector: a.Name(), Err: err}
	}
	if resp.Error != "" && len(resp.OrganicResults) == 0 {
		// SerpAPI reports an empty result page as an error string.
		if strings.Contains(strings.ToLower(resp.Error), "hasn't returned any results") {
			return []Record{}, nil
		}
		return nil, &Error{Connector: a.Name(), Err: fmt.Errorf("%s", resp.Error)}
	}

	n := clampLimit(len(resp.OrganicResults), limit)
	records := make([]Record, 0, n)
	for _, item := range resp.OrganicResults[:n] {
		records = append(records, a.record(item))
	}
	return records, nil
}

func (a *SerpAPIAmazon) record(item Record) Record {
	rec := Record{
		"product_id":  item["asin"],
		"title":       item["title"],
		"url":         item["link"],
		"rating":      item["rating"],
		"reviews":     item["reviews"],
		"source":      a.domain(),
		"description": item["snippet"],
		"metadata": Record{
			"delivery":     item["delivery"],
			"availability": item["availability"],
		},
		"raw":       item,
		"image_url": item["thumbnail"],
	}
	switch p := item["price"].(type) {
	case map[string]any:
		rec["price"] = p["raw"]
		rec["currency"] = p["currency"]
	case nil:
		rec["price"] = item["extracted_price"]
	default:
		rec["price"] = p
	}
	return rec
}
