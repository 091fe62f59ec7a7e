package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Record is one loosely-typed listing as returned by a provider.
type Record = map[string]any

// Connector returns raw listings for a query. "No results" is an empty slice,
// not an error.
type Connector interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Record, error)
}

// ImageSearcher returns image URLs ordered by relevance.
type ImageSearcher interface {
	SearchImages(ctx context.Context, query string, count int) ([]string, error)
}

// VerticalSearcher runs a search against one vertical (web, shopping, news...).
type VerticalSearcher interface {
	SearchVertical(ctx context.Context, query, vertical string, limit int) ([]Record, error)
}

// Error is a transport, auth or decode failure of a single connector.
type Error struct {
	Connector string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connector %s: %v", e.Connector, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// statusError is returned for non-2xx provider responses.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: %s", http.StatusText(e.code), e.body)
}

// doJSON executes req and decodes a JSON body into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func clampLimit(items, limit int) int {
	if limit <= 0 || limit > items {
		return items
	}
	return limit
}
