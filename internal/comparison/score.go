package comparison

import (
	"math"

	"github.com/TobiSchelling/shopscout/internal/schema"
)

// Score ranks an item by rating, damped by the log of its review volume:
//
//	round((rating/5) * (1 + ln(1+reviews)/10), 4)
//
// reviews falls back to extra["review_count"] and then to zero.
func Score(item schema.ProcessedItem) float64 {
	ratingNorm := schema.Deref(item.Rating) / 5.0

	reviews := 0.0
	if item.ReviewCount != nil {
		reviews = float64(*item.ReviewCount)
	} else if n, ok := number(item.Extra["review_count"]); ok {
		reviews = n
	}
	if reviews < 0 {
		reviews = 0
	}

	weight := 1 + math.Log1p(reviews)/10.0
	return round4(ratingNorm * weight)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
