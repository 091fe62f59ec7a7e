package schema

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrValidation is matched by every schema validation failure.
var ErrValidation = errors.New("schema validation failed")

// ValidationError describes which field of which entity is invalid.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Entity, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(entity, field, format string, args ...any) error {
	return &ValidationError{Entity: entity, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the classification returned by discovery.
func (c *DomainClassification) Validate() error {
	if strings.TrimSpace(c.Keyword) == "" {
		return invalid("DomainClassification", "keyword", "must not be empty")
	}
	if !c.Domain.Valid() {
		return invalid("DomainClassification", "domain", "unknown domain %q", c.Domain)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return invalid("DomainClassification", "confidence", "%v outside [0,1]", c.Confidence)
	}
	if c.Products == nil {
		return invalid("DomainClassification", "products", "field required")
	}
	for i, p := range c.Products {
		if strings.TrimSpace(p.Title) == "" {
			return invalid("DomainClassification", fmt.Sprintf("products[%d].title", i), "must not be empty")
		}
	}
	return nil
}

// Validate checks a normalized listing.
func (l *RawListing) Validate() error {
	if strings.TrimSpace(l.ProductID) == "" {
		return invalid("RawListing", "product_id", "must not be empty")
	}
	if strings.TrimSpace(l.Title) == "" {
		return invalid("RawListing", "title", "must not be empty")
	}
	if l.URL != nil {
		if err := checkHTTPURL(*l.URL); err != nil {
			return invalid("RawListing", "url", "%v", err)
		}
	}
	if l.Rating != nil && (*l.Rating < 0 || *l.Rating > 5) {
		return invalid("RawListing", "rating", "%v outside [0,5]", *l.Rating)
	}
	if l.ReviewCount != nil && *l.ReviewCount < 0 {
		return invalid("RawListing", "review_count", "must not be negative")
	}
	if l.Price != nil && *l.Price < 0 {
		return invalid("RawListing", "price", "must not be negative")
	}
	return nil
}

// Validate checks an enrichment result.
func (p *ProcessedItem) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return invalid("ProcessedItem", "title", "must not be empty")
	}
	if p.Sentiment != nil {
		switch *p.Sentiment {
		case SentimentPositive, SentimentNeutral, SentimentNegative:
		default:
			return invalid("ProcessedItem", "sentiment", "unknown sentiment %q", *p.Sentiment)
		}
	}
	if p.SentimentScore != nil && (*p.SentimentScore < -1 || *p.SentimentScore > 1) {
		return invalid("ProcessedItem", "sentiment_score", "%v outside [-1,1]", *p.SentimentScore)
	}
	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		return invalid("ProcessedItem", "rating", "%v outside [0,5]", *p.Rating)
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http(s)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
