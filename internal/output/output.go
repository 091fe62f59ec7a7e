// Package output assembles the user-facing report. It performs no I/O.
package output

import (
	"fmt"

	"github.com/TobiSchelling/shopscout/internal/schema"
)

// FallbackInsights is used when the comparison carries no reasoning.
const FallbackInsights = "See comparison table."

// Assemble composes the final report from the processed items, the
// comparison and the optional discovery result.
func Assemble(batch *schema.ProcessingBatch, report *schema.ComparisonReport, classification *schema.DomainClassification) *schema.FinalReport {
	final := &schema.FinalReport{
		Keyword:    batch.Keyword,
		Domain:     batch.Domain,
		Products:   batch.Processed,
		Comparison: report,
		Warnings:   append([]string{}, batch.Warnings...),
	}
	if final.Products == nil {
		final.Products = []schema.ProcessedItem{}
	}

	if final.Domain == "" {
		if classification != nil && classification.Domain != "" {
			final.Domain = string(classification.Domain)
		} else {
			final.Domain = "unknown"
		}
	}
	if classification != nil {
		final.DomainConfidence = schema.Ptr(classification.Confidence)
	}

	insights := FallbackInsights
	if report != nil {
		switch {
		case report.BestOverall != nil:
			final.TopRecommendation = schema.Ptr(*report.BestOverall)
		case len(report.Rows) > 0:
			final.TopRecommendation = schema.Ptr(report.Rows[0].Title)
		}
		if report.Reasoning != nil && *report.Reasoning != "" {
			insights = *report.Reasoning
		}
		if rejected, ok := report.Meta["rejected_picks"].([]string); ok {
			for _, title := range rejected {
				final.Warnings = append(final.Warnings, fmt.Sprintf("model pick %q does not match any listing", title))
			}
		}
		final.GeneratedAt = report.GeneratedAt
	}
	final.Insights = &insights
	return final
}
