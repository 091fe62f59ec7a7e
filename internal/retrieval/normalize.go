package retrieval

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/currency"

	"github.com/TobiSchelling/shopscout/internal/connector"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

var numberExpr = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?`)

var currencySymbols = map[string]string{
	"₹":   "INR",
	"Rs":  "INR",
	"Rs.": "INR",
	"$":   "USD",
	"US$": "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
}

// Normalize maps a provider record onto the common listing shape and
// validates it.
func Normalize(rec connector.Record) (schema.RawListing, error) {
	l := schema.RawListing{
		ProductID:   firstString(rec, "product_id", "asin", "id", "url", "link", "title"),
		Title:       firstString(rec, "title", "name"),
		URL:         optString(rec, "url", "link"),
		Rating:      optNumber(rec["rating"]),
		Description: optString(rec, "description", "snippet", "raw_description"),
		ImageURL:    optString(rec, "image_url", "thumbnail", "imageUrl", "image"),
		Metadata:    map[string]any{},
	}

	if meta, ok := rec["metadata"].(map[string]any); ok {
		for k, v := range meta {
			if v != nil {
				l.Metadata[k] = v
			}
		}
	}
	if raw, ok := rec["raw"].(map[string]any); ok {
		l.Raw = raw
	} else {
		l.Raw = rec
	}

	l.Price, l.Currency = normalizePrice(rec)

	if reviews, ok := rec["reviews"].([]any); ok {
		l.ReviewCount = schema.Ptr(len(reviews))
	} else {
		for _, key := range []string{"reviews", "review_count", "rating_count", "ratingCount"} {
			if n := optNumber(rec[key]); n != nil && *n >= 0 {
				l.Metadata["review_count"] = int(math.Round(*n))
				break
			}
		}
	}

	if s := optString(rec, "source"); s != nil {
		l.Source = s
	} else if l.URL != nil {
		l.Source = sourceFromURL(*l.URL)
	}

	if err := l.Validate(); err != nil {
		return schema.RawListing{}, err
	}
	return l, nil
}

func normalizePrice(rec connector.Record) (*float64, *string) {
	var (
		price *float64
		cur   *string
		text  string
	)

	switch p := rec["price"].(type) {
	case map[string]any:
		for _, k := range []string{"extracted", "value", "raw"} {
			if n := optNumber(p[k]); n != nil {
				price = n
				break
			}
		}
		if s, ok := p["raw"].(string); ok {
			text = s
		}
		if s, ok := p["currency"].(string); ok {
			cur = normalizeCurrency(s)
		}
	case string:
		text = p
		price = optNumber(p)
	default:
		price = optNumber(p)
	}
	if price == nil {
		price = optNumber(rec["extracted_price"])
	}

	if s := optString(rec, "currency"); s != nil {
		cur = normalizeCurrency(*s)
	}
	if cur == nil && text != "" {
		cur = currencyFromText(text)
	}
	return price, cur
}

// normalizeCurrency maps a symbol or code onto an ISO 4217 code. Unknown
// values are kept upper-cased.
func normalizeCurrency(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if code, ok := currencySymbols[s]; ok {
		return &code
	}
	if unit, err := currency.ParseISO(strings.ToUpper(s)); err == nil {
		code := unit.String()
		return &code
	}
	up := strings.ToUpper(s)
	return &up
}

func currencyFromText(text string) *string {
	for _, field := range strings.Fields(numberExpr.ReplaceAllString(text, " ")) {
		if code, ok := currencySymbols[field]; ok {
			return &code
		}
		if unit, err := currency.ParseISO(strings.ToUpper(field)); err == nil {
			code := unit.String()
			return &code
		}
	}
	// Symbols glued to a word, e.g. "from₹999".
	for _, sym := range []string{"₹", "€", "£", "¥", "$"} {
		if strings.Contains(text, sym) {
			code := currencySymbols[sym]
			return &code
		}
	}
	return nil
}

func sourceFromURL(raw string) *string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return &domain
	}
	return &host
}

func firstString(rec connector.Record, keys ...string) string {
	if s := optString(rec, keys...); s != nil {
		return *s
	}
	return ""
}

// optString returns the first key holding a non-empty scalar, formatted as a
// string.
func optString(rec connector.Record, keys ...string) *string {
	for _, k := range keys {
		var s string
		switch v := rec[k].(type) {
		case string:
			s = strings.TrimSpace(v)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			s = strconv.Itoa(v)
		case int64:
			s = strconv.FormatInt(v, 10)
		case json.Number:
			s = v.String()
		}
		if s != "" {
			return &s
		}
	}
	return nil
}

// optNumber parses numbers and numeric strings such as "₹1,299.00".
func optNumber(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		m := numberExpr.FindString(n)
		if m == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
