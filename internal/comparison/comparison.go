package comparison

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/llm"
	"github.com/TobiSchelling/shopscout/internal/logging"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

const systemPrompt = `You are a product comparison engine.
Given multiple processed items, select the top 3 picks:
- Best overall
- Best budget
- Best premium

Also provide a short reasoning (2-3 sentences).
Return ONLY a JSON object:
{"best_overall": "title", "best_budget": "title", "best_premium": "title", "reasoning": "..."}`

const userPrompt = `You are comparing multiple %s.

Items (simplified table):
%s

Pick best_overall, best_budget, and best_premium by title, copying each title exactly as listed.
Explain reasoning briefly.
Return ONLY valid JSON.`

const (
	defaultTopN     = 20
	productIDLength = 50
)

// Comparer scores, ranks and asks the model for the best picks.
type Comparer struct {
	completer llm.Completer
	topN      int
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a Comparer that shows the model the topN best-scored rows.
func New(c llm.Completer, topN int, logger *zap.Logger) *Comparer {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &Comparer{completer: c, topN: topN, now: time.Now, logger: logging.OrNop(logger)}
}

// Compare builds one row per item, sorts rows by score (stable, descending)
// and merges the model's picks. Rows, keyword, domain and the timestamp are
// always the locally computed values.
func (c *Comparer) Compare(ctx context.Context, batch *schema.ProcessingBatch) (*schema.ComparisonReport, error) {
	rows := BuildRows(batch.Processed)

	report := &schema.ComparisonReport{
		Meta: map[string]any{"rows_considered": min(len(rows), c.topN)},
	}

	if len(rows) > 0 {
		if c.completer == nil {
			return nil, fmt.Errorf("no LLM provider available for comparison")
		}
		var picks schema.Picks
		req := llm.Request{
			Stage:  "comparison",
			System: systemPrompt,
			Prompt: fmt.Sprintf(userPrompt, domainNoun(batch.Domain), Table(rows, c.topN)),
		}
		if err := llm.CompleteJSON(ctx, c.completer, req, &picks); err != nil {
			return nil, fmt.Errorf("picking best items: %w", err)
		}
		report.BestOverall = picks.BestOverall
		report.BestBudget = picks.BestBudget
		report.BestPremium = picks.BestPremium
		report.Reasoning = picks.Reasoning
	}

	report.Keyword = batch.Keyword
	report.Domain = batch.Domain
	report.Rows = rows
	report.GeneratedAt = c.now().UTC().Format(time.RFC3339)

	if rejected := c.checkPicks(report); len(rejected) > 0 {
		report.Meta["rejected_picks"] = rejected
	}
	return report, nil
}

// BuildRows scores every item and returns the rows sorted by descending
// score; equal scores keep their input order.
func BuildRows(items []schema.ProcessedItem) []schema.ComparisonRow {
	rows := make([]schema.ComparisonRow, 0, len(items))
	for _, p := range items {
		id := p.ProductID
		if id == "" {
			id = truncate(p.Title, productIDLength)
		}
		extra := p.Extra
		if extra == nil {
			extra = map[string]any{}
		}
		rows = append(rows, schema.ComparisonRow{
			ProductID:   id,
			Title:       p.Title,
			Price:       p.Price,
			Currency:    p.Currency,
			Rating:      p.Rating,
			ReviewCount: p.ReviewCount,
			Pros:        nonNil(p.Pros),
			Cons:        nonNil(p.Cons),
			Summary:     p.Summary,
			URL:         p.URL,
			Source:      p.Source,
			Score:       Score(p),
			Extra:       extra,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	return rows
}

// Table renders the first n rows as "title | price: P | rating: R | score: S".
func Table(rows []schema.ComparisonRow, n int) string {
	if n > len(rows) {
		n = len(rows)
	}
	lines := make([]string, 0, n)
	for _, r := range rows[:n] {
		lines = append(lines, fmt.Sprintf("%s | price: %s | rating: %s | score: %s",
			r.Title, formatOpt(r.Price), formatOpt(r.Rating), strconv.FormatFloat(r.Score, 'f', -1, 64)))
	}
	return strings.Join(lines, "\n")
}

// checkPicks canonicalizes each pick to the row title it names and nulls
// picks that name no row. It returns the rejected titles.
func (c *Comparer) checkPicks(report *schema.ComparisonReport) []string {
	var rejected []string
	for _, pick := range []**string{&report.BestOverall, &report.BestBudget, &report.BestPremium} {
		if *pick == nil {
			continue
		}
		if strings.TrimSpace(**pick) == "" {
			*pick = nil
			continue
		}
		if title, ok := matchTitle(report.Rows, **pick); ok {
			*pick = schema.Ptr(title)
			continue
		}
		c.logger.Warn("model picked an unknown title", zap.String("pick", **pick))
		rejected = append(rejected, **pick)
		*pick = nil
	}
	return rejected
}

func matchTitle(rows []schema.ComparisonRow, pick string) (string, bool) {
	for _, r := range rows {
		if r.Title == pick {
			return r.Title, true
		}
	}
	folded := fold(pick)
	for _, r := range rows {
		if fold(r.Title) == folded {
			return r.Title, true
		}
	}
	return "", false
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func domainNoun(domain string) string {
	if domain == "" {
		return "products"
	}
	return domain + " items"
}

func formatOpt(v *float64) string {
	if v == nil {
		return "None"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// number reads counts stored as JSON numbers, Go ints or numeric strings.
// NaN and infinities are rejected.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
