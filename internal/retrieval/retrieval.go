package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/connector"
	"github.com/TobiSchelling/shopscout/internal/logging"
	"github.com/TobiSchelling/shopscout/internal/metrics"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

// Options wires the collaborators of a Retriever. Only Connectors is required.
type Options struct {
	Connectors []connector.Connector
	// Images backfills listings that arrive without a picture.
	Images connector.ImageSearcher
	// Describer backfills empty descriptions from the listing page.
	Describer *Describer
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Retriever fans a keyword out to every connector, one after another.
type Retriever struct {
	connectors []connector.Connector
	images     connector.ImageSearcher
	describer  *Describer
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New creates a Retriever.
func New(opts Options) *Retriever {
	return &Retriever{
		connectors: opts.Connectors,
		images:     opts.Images,
		describer:  opts.Describer,
		logger:     logging.OrNop(opts.Logger),
		metrics:    opts.Metrics,
	}
}

type sourced struct {
	connector string
	record    connector.Record
}

// Retrieve queries the connectors in order and normalizes the merged results.
// A failing connector or an invalid record is skipped with a warning; the
// only error returned is cancellation of ctx.
func (r *Retriever) Retrieve(ctx context.Context, keyword, domain string, limit int) (*schema.RetrievalBatch, error) {
	batch := &schema.RetrievalBatch{
		Keyword:  keyword,
		Domain:   domain,
		Products: []schema.RawListing{},
	}

	var all []sourced
	for _, c := range r.connectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		records, err := c.Search(ctx, keyword, limit)
		r.metrics.RecordConnector(c.Name(), time.Since(start), err)
		if err != nil {
			r.logger.Warn("connector failed", zap.String("connector", c.Name()), zap.Error(err))
			batch.Warnings = append(batch.Warnings, fmt.Sprintf("connector %s failed: %v", c.Name(), err))
			continue
		}

		r.logger.Info("connector returned results", zap.String("connector", c.Name()), zap.Int("count", len(records)))
		for _, rec := range records {
			all = append(all, sourced{connector: c.Name(), record: rec})
		}
	}

	for _, s := range all {
		listing, err := Normalize(s.record)
		if err != nil {
			r.logger.Warn("dropping invalid listing", zap.String("connector", s.connector), zap.Error(err))
			r.metrics.RecordDropped("invalid")
			batch.Warnings = append(batch.Warnings, fmt.Sprintf("dropped listing from %s: %v", s.connector, err))
			continue
		}

		if listing.ImageURL == nil {
			if warning := r.backfillImage(ctx, &listing); warning != "" {
				batch.Warnings = append(batch.Warnings, warning)
			}
		}
		if listing.Description == nil && listing.URL != nil && r.describer != nil {
			if warning := r.backfillDescription(ctx, &listing); warning != "" {
				batch.Warnings = append(batch.Warnings, warning)
			}
		}

		batch.Products = append(batch.Products, listing)
	}

	batch.TotalFound = len(batch.Products)
	r.logger.Info("retrieval complete",
		zap.String("keyword", keyword),
		zap.Int("listings", batch.TotalFound),
		zap.Int("warnings", len(batch.Warnings)))
	return batch, nil
}

func (r *Retriever) backfillImage(ctx context.Context, l *schema.RawListing) string {
	if r.images == nil || l.Title == "" {
		return fmt.Sprintf("no image found for %q", l.Title)
	}
	urls, err := r.images.SearchImages(ctx, l.Title, 2)
	if err != nil {
		r.logger.Debug("image search failed", zap.String("title", l.Title), zap.Error(err))
		return fmt.Sprintf("no image found for %q: %v", l.Title, err)
	}
	if len(urls) == 0 || urls[0] == "" {
		return fmt.Sprintf("no image found for %q", l.Title)
	}
	l.ImageURL = schema.Ptr(urls[0])
	return ""
}

func (r *Retriever) backfillDescription(ctx context.Context, l *schema.RawListing) string {
	text, err := r.describer.Describe(ctx, *l.URL)
	if err != nil {
		r.logger.Debug("description fetch failed", zap.String("url", *l.URL), zap.Error(err))
		return fmt.Sprintf("no description for %q: %v", l.Title, err)
	}
	if text == "" {
		return fmt.Sprintf("no description for %q", l.Title)
	}
	l.Description = &text
	return ""
}
