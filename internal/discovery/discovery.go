package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/connector"
	"github.com/TobiSchelling/shopscout/internal/llm"
	"github.com/TobiSchelling/shopscout/internal/logging"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

const systemPrompt = `You are a product discovery agent.
Given a user keyword you give top products (only names) for the keyword in %s, suggest platforms (only online platforms) and classify it into one of:
%s

You may call web_search to look things up before answering.
When you are done, answer with ONLY this JSON:
{
    "keyword": "the keyword",
    "domain": "one of the domains above",
    "confidence": 0.0-1.0,
    "recommended_platforms": ["platform", "..."],
    "products": [{"title": "product name", "url": "optional url"}]
}`

const userPrompt = `Classify this keyword into a domain, suggest platforms (where to look for the products) and give top products for the keyword.

Keyword: %q`

const searchResults = 5

// Classifier triages a keyword into a domain with the help of web search.
type Classifier struct {
	completer llm.Completer
	search    connector.VerticalSearcher
	market    string
	logger    *zap.Logger
}

// New creates a Classifier. search may be nil, in which case the model gets
// no tool. market names the region products should be suggested for.
func New(c llm.Completer, search connector.VerticalSearcher, market string, logger *zap.Logger) *Classifier {
	if market == "" {
		market = "India"
	}
	return &Classifier{completer: c, search: search, market: market, logger: logging.OrNop(logger)}
}

// Classify asks the model for the keyword's domain, platforms and candidate
// products. An answer that does not validate is an error; there is no
// fallback domain.
func (c *Classifier) Classify(ctx context.Context, keyword string) (*schema.DomainClassification, error) {
	if c.completer == nil {
		return nil, fmt.Errorf("no LLM provider available for discovery")
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("keyword must not be empty")
	}

	req := llm.Request{
		Stage:  "discovery",
		System: fmt.Sprintf(systemPrompt, c.market, domainList()),
		Prompt: fmt.Sprintf(userPrompt, keyword),
	}
	if c.search != nil {
		req.Tools = []llm.Tool{c.searchTool()}
	} else {
		req.JSON = true
	}

	text, err := c.completer.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classifying %q: %w", keyword, err)
	}

	var out schema.DomainClassification
	if err := llm.DecodeJSON(text, &out); err != nil {
		return nil, fmt.Errorf("classifying %q: %w", keyword, err)
	}
	if strings.TrimSpace(out.Keyword) == "" {
		out.Keyword = keyword
	}
	if out.RecommendedPlatforms == nil {
		out.RecommendedPlatforms = []string{}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("classifying %q: %w", keyword, err)
	}

	c.logger.Info("keyword classified",
		zap.String("keyword", keyword),
		zap.String("domain", string(out.Domain)),
		zap.Float64("confidence", out.Confidence),
		zap.Int("products", len(out.Products)))
	return &out, nil
}

func (c *Classifier) searchTool() llm.Tool {
	return llm.Tool{
		Name:        "web_search",
		Description: "Google search. Returns JSON results for the query from the chosen vertical.",
		Parameters: []llm.ToolParam{
			{Name: "query", Description: "The search query to execute", Required: true},
			{Name: "vertical", Description: "Which index to search; defaults to search", Enum: connector.Verticals},
		},
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is required")
			}
			vertical, _ := args["vertical"].(string)
			if vertical == "" {
				vertical = connector.VerticalSearch
			}

			records, err := c.search.SearchVertical(ctx, query, vertical, searchResults)
			if err != nil {
				return "", err
			}
			for _, r := range records {
				delete(r, "raw")
			}
			data, err := json.Marshal(records)
			if err != nil {
				return "", fmt.Errorf("encoding results: %w", err)
			}
			return string(data), nil
		},
	}
}

func domainList() string {
	lines := make([]string, 0, len(schema.Domains))
	for _, d := range schema.Domains {
		lines = append(lines, "- "+string(d))
	}
	return strings.Join(lines, "\n")
}
