package schema

// Domain is the category a keyword refers to.
type Domain string

const (
	DomainPhysicalProduct Domain = "physical_product"
	DomainApp             Domain = "app"
	DomainEbook           Domain = "ebook"
	DomainDesign          Domain = "design"
	DomainLocation        Domain = "location"
	DomainOther           Domain = "other"
)

// Domains lists every valid domain in prompt order.
var Domains = []Domain{
	DomainPhysicalProduct,
	DomainApp,
	DomainEbook,
	DomainDesign,
	DomainLocation,
	DomainOther,
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// Sentiment values an enrichment call may return.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// DiscoveredProduct is a candidate product proposed during discovery.
type DiscoveredProduct struct {
	Title string  `json:"title"`
	URL   *string `json:"url,omitempty"`
}

// DomainClassification is the output of keyword triage.
type DomainClassification struct {
	Keyword              string              `json:"keyword"`
	Domain               Domain              `json:"domain"`
	Confidence           float64             `json:"confidence"`
	RecommendedPlatforms []string            `json:"recommended_platforms"`
	Products             []DiscoveredProduct `json:"products"`
}

// RawListing is one connector record mapped onto the common listing shape.
type RawListing struct {
	ProductID   string         `json:"product_id"`
	Title       string         `json:"title"`
	URL         *string        `json:"url,omitempty"`
	Price       *float64       `json:"price,omitempty"`
	Currency    *string        `json:"currency,omitempty"`
	Rating      *float64       `json:"rating,omitempty"`
	ReviewCount *int           `json:"review_count,omitempty"`
	Source      *string        `json:"source,omitempty"`
	Description *string        `json:"raw_description,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	Raw         map[string]any `json:"raw,omitempty"`
	ImageURL    *string        `json:"image_url,omitempty"`
}

// RetrievalBatch holds the normalized listings for one keyword.
type RetrievalBatch struct {
	Keyword    string       `json:"keyword"`
	Domain     string       `json:"domain"`
	Products   []RawListing `json:"products"`
	TotalFound int          `json:"total_found"`
	Warnings   []string     `json:"warnings,omitempty"`
}

// ProcessedItem is a listing enriched by the language model.
type ProcessedItem struct {
	ProductID      string         `json:"product_id,omitempty"`
	Title          string         `json:"title"`
	URL            *string        `json:"url,omitempty"`
	Price          *float64       `json:"price,omitempty"`
	Currency       *string        `json:"currency,omitempty"`
	Rating         *float64       `json:"rating,omitempty"`
	ReviewCount    *int           `json:"review_count,omitempty"`
	ImageURL       *string        `json:"image_url,omitempty"`
	Summary        *string        `json:"summary,omitempty"`
	Pros           []string       `json:"pros"`
	Cons           []string       `json:"cons"`
	Sentiment      *string        `json:"sentiment,omitempty"`
	SentimentScore *float64       `json:"sentiment_score,omitempty"`
	Source         *string        `json:"source,omitempty"`
	Score          *float64       `json:"score,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// ProcessingBatch collects the processed items for one keyword.
type ProcessingBatch struct {
	Keyword   string          `json:"keyword"`
	Domain    string          `json:"domain"`
	Processed []ProcessedItem `json:"processed"`
	Warnings  []string        `json:"warnings"`
}

// ComparisonRow is a scored item in the ranking table.
type ComparisonRow struct {
	ProductID   string         `json:"product_id"`
	Title       string         `json:"title"`
	Price       *float64       `json:"price,omitempty"`
	Currency    *string        `json:"currency,omitempty"`
	Rating      *float64       `json:"rating,omitempty"`
	ReviewCount *int           `json:"review_count,omitempty"`
	Pros        []string       `json:"pros"`
	Cons        []string       `json:"cons"`
	Summary     *string        `json:"summary,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Source      *string        `json:"source,omitempty"`
	Score       float64        `json:"score"`
	Extra       map[string]any `json:"extra"`
}

// Picks is the part of a comparison the language model decides.
type Picks struct {
	BestOverall *string `json:"best_overall"`
	BestBudget  *string `json:"best_budget"`
	BestPremium *string `json:"best_premium"`
	Reasoning   *string `json:"reasoning"`
}

// ComparisonReport is the final ranking decision.
type ComparisonReport struct {
	Keyword     string          `json:"keyword"`
	Domain      string          `json:"domain"`
	Rows        []ComparisonRow `json:"rows"`
	BestOverall *string         `json:"best_overall,omitempty"`
	BestBudget  *string         `json:"best_budget,omitempty"`
	BestPremium *string         `json:"best_premium,omitempty"`
	Reasoning   *string         `json:"reasoning,omitempty"`
	GeneratedAt string          `json:"generated_at"`
	Meta        map[string]any  `json:"meta"`
}

// FinalReport is the user-facing result of a pipeline run.
type FinalReport struct {
	Keyword           string            `json:"keyword"`
	Domain            string            `json:"domain"`
	DomainConfidence  *float64          `json:"domain_confidence,omitempty"`
	TopRecommendation *string           `json:"top_recommendation,omitempty"`
	Insights          *string           `json:"insights,omitempty"`
	Products          []ProcessedItem   `json:"products"`
	Comparison        *ComparisonReport `json:"comparison"`
	Warnings          []string          `json:"warnings"`
	GeneratedAt       string            `json:"generated_at,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Deref returns *p or the zero value when p is nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
