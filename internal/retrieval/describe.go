package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const maxDescriptionChars = 500

// Describer fetches a listing page and extracts its readable text.
type Describer struct {
	client *http.Client
}

// NewDescriber creates a page describer with the given request timeout.
func NewDescriber(timeout time.Duration) *Describer {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Describer{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Describe returns up to 500 characters of the page's main text. An empty
// string with a nil error means the page had nothing extractable.
func (d *Describer) Describe(ctx context.Context, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "shopscout/1.0 (product research)")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: %s", pageURL, resp.Status)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, 4<<20), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if r := []rune(text); len(r) > maxDescriptionChars {
		text = string(r[:maxDescriptionChars])
	}
	return text, nil
}
