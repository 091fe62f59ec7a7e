package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/shopscout/internal/config"
	"github.com/TobiSchelling/shopscout/internal/llm"
	"github.com/TobiSchelling/shopscout/internal/logging"
	"github.com/TobiSchelling/shopscout/internal/metrics"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

const systemPrompt = `You are an NLP product processor.
Given raw product/app/book/design JSON, clean and enrich it:
- Summarize concisely (1-3 sentences).
- Extract 3-5 pros (positives).
- Extract 3-5 cons (negatives).
- Infer sentiment: positive, neutral, or negative.
- Give a sentiment_score between -1 and 1.

Always return ONLY a JSON object with these fields:
{
    "title": "string (required, keep the original title)",
    "url": "string or null",
    "price": number or null,
    "currency": "ISO code or null",
    "rating": number between 0 and 5 or null,
    "review_count": integer or null,
    "image_url": "string or null",
    "summary": "string",
    "pros": ["..."],
    "cons": ["..."],
    "sentiment": "positive" | "neutral" | "negative",
    "sentiment_score": number,
    "source": "string or null",
    "extra": {}
}`

const userPrompt = `You are analyzing a %s.

Raw item JSON:
%s

Process this into the JSON object described above.
Return ONLY valid JSON, no explanation.`

const maxListEntries = 5

// Options configures a Processor.
type Options struct {
	Completer llm.Completer
	// MaxConcurrency bounds in-flight enrichment calls; 0 means one per listing.
	MaxConcurrency int
	// OnError is config.OnErrorAbort or config.OnErrorSkip.
	OnError   string
	MaxTokens int
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Processor enriches listings with one model call each, concurrently.
type Processor struct {
	completer      llm.Completer
	maxConcurrency int
	skipFailures   bool
	maxTokens      int
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// New creates a Processor.
func New(opts Options) *Processor {
	return &Processor{
		completer:      opts.Completer,
		maxConcurrency: opts.MaxConcurrency,
		skipFailures:   opts.OnError == config.OnErrorSkip,
		maxTokens:      opts.MaxTokens,
		logger:         logging.OrNop(opts.Logger),
		metrics:        opts.Metrics,
	}
}

// Process enriches every listing of batch. Items keep the input order. With
// the abort policy the first failure cancels the remaining calls and fails
// the stage; with the skip policy failed listings are left out and reported
// as warnings.
func (p *Processor) Process(ctx context.Context, batch *schema.RetrievalBatch) (*schema.ProcessingBatch, error) {
	if p.completer == nil {
		return nil, fmt.Errorf("no LLM provider available for processing")
	}

	out := &schema.ProcessingBatch{
		Keyword:   batch.Keyword,
		Domain:    batch.Domain,
		Processed: []schema.ProcessedItem{},
		Warnings:  append([]string{}, batch.Warnings...),
	}
	if len(batch.Products) == 0 {
		p.logger.Info("no listings to process")
		return out, nil
	}

	results := make([]*schema.ProcessedItem, len(batch.Products))
	failures := make([]error, len(batch.Products))

	g, gctx := errgroup.WithContext(ctx)
	callCtx := gctx
	if p.skipFailures {
		callCtx = ctx
	}
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}

	start := time.Now()
	for i, listing := range batch.Products {
		g.Go(func() error {
			item, err := p.analyze(callCtx, listing, batch.Domain)
			if err != nil {
				if p.skipFailures {
					failures[i] = err
					return nil
				}
				return fmt.Errorf("processing %q: %w", listing.Title, err)
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, item := range results {
		if item != nil {
			out.Processed = append(out.Processed, *item)
			continue
		}
		title := batch.Products[i].Title
		p.logger.Warn("skipping listing", zap.String("title", title), zap.Error(failures[i]))
		p.metrics.RecordDropped("enrichment_failed")
		out.Warnings = append(out.Warnings, fmt.Sprintf("processing failed for %q: %v", title, failures[i]))
	}

	p.logger.Info("processing complete",
		zap.Int("processed", len(out.Processed)),
		zap.Int("failed", len(batch.Products)-len(out.Processed)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (p *Processor) analyze(ctx context.Context, listing schema.RawListing, domain string) (*schema.ProcessedItem, error) {
	raw, err := json.Marshal(listing)
	if err != nil {
		return nil, fmt.Errorf("marshaling listing: %w", err)
	}
	if domain == "" {
		domain = "product"
	}

	var item schema.ProcessedItem
	req := llm.Request{
		Stage:     "processing",
		System:    systemPrompt,
		Prompt:    fmt.Sprintf(userPrompt, domain, raw),
		MaxTokens: p.maxTokens,
	}
	if err := llm.CompleteJSON(ctx, p.completer, req, &item); err != nil {
		return nil, err
	}

	finish(&item, listing)
	return &item, nil
}

// finish fills fields the model left empty from the source listing and
// cleans the free-text fields.
func finish(item *schema.ProcessedItem, l schema.RawListing) {
	item.ProductID = l.ProductID
	if item.URL == nil {
		item.URL = l.URL
	}
	if item.Price == nil {
		item.Price = l.Price
	}
	if item.Currency == nil {
		item.Currency = l.Currency
	}
	if item.Rating == nil {
		item.Rating = l.Rating
	}
	if item.ReviewCount == nil {
		item.ReviewCount = l.ReviewCount
	}
	if item.ImageURL == nil {
		item.ImageURL = l.ImageURL
	}
	if item.Source == nil {
		item.Source = l.Source
	}

	if item.Extra == nil {
		item.Extra = map[string]any{}
	}
	if _, ok := item.Extra["review_count"]; !ok {
		if n, ok := l.Metadata["review_count"]; ok {
			item.Extra["review_count"] = n
		}
	}

	if item.Summary != nil {
		s := plainText(*item.Summary)
		item.Summary = &s
	}
	item.Pros = cleanList(item.Pros, maxListEntries)
	item.Cons = cleanList(item.Cons, maxListEntries)
}
