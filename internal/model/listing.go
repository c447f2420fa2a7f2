package model

import "time"

// Classification is the finalized label for a message or listing.
type Classification string

const (
	ClassificationHousing Classification = "HOUSING"
	ClassificationSpam    Classification = "SPAM"
	ClassificationOther   Classification = "OTHER"
)

// ValidClassification reports whether c is a known classification label.
func ValidClassification(c Classification) bool {
	switch c {
	case ClassificationHousing, ClassificationSpam, ClassificationOther:
		return true
	}
	return false
}

// CatalogListing is the durable entity promoted from a validated
// extraction. Promotion is one-way: listings are never demoted back to
// extraction details.
type CatalogListing struct {
	ID                   string          `json:"id"`
	SessionID            string          `json:"session_id"`
	MessageIndex         int             `json:"message_index"`
	Fields               ExtractedFields `json:"fields"`
	Classification       Classification  `json:"classification"`
	ExtractionConfidence float64         `json:"extraction_confidence"`
	NeedsReview          bool            `json:"needs_review"`
	CreatedAt            time.Time       `json:"created_at"`
}
