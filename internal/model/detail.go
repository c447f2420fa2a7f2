package model

// DetailStatus is the outcome of a single message's extraction.
type DetailStatus string

const (
	DetailStatusSuccess     DetailStatus = "success"
	DetailStatusFailed      DetailStatus = "failed"
	DetailStatusNeedsReview DetailStatus = "needs_review"
)

// ExtractedFields holds the structured housing data pulled from one
// message. Field names mirror the extraction service's wire format.
type ExtractedFields struct {
	RentPrice        string `json:"rent_price,omitempty"`
	Location         string `json:"location,omitempty"`
	RoomType         string `json:"room_type,omitempty"`
	AvailabilityDate string `json:"availability_date,omitempty"`
	ContactInfo      string `json:"contact_info,omitempty"`
	GenderPreference string `json:"gender_preference,omitempty"`
	AdditionalNotes  string `json:"additional_notes,omitempty"`
}

// Set assigns a named field by its wire name. Returns false for an
// unknown field name.
func (f *ExtractedFields) Set(field, value string) bool {
	switch field {
	case "rent_price":
		f.RentPrice = value
	case "location":
		f.Location = value
	case "room_type":
		f.RoomType = value
	case "availability_date":
		f.AvailabilityDate = value
	case "contact_info":
		f.ContactInfo = value
	case "gender_preference":
		f.GenderPreference = value
	case "additional_notes":
		f.AdditionalNotes = value
	default:
		return false
	}
	return true
}

// IsEmpty reports whether no field was extracted.
func (f ExtractedFields) IsEmpty() bool {
	return f == ExtractedFields{}
}

// ExtractionDetail is the per-message extraction record. MessageIndex
// always refers to the message's original position in the transcript,
// regardless of the order details were appended in.
type ExtractionDetail struct {
	MessageIndex int             `json:"message_index"`
	OriginalText string          `json:"original_text"`
	Fields       ExtractedFields `json:"extracted_fields"`
	Confidence   float64         `json:"confidence"`
	Status       DetailStatus    `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`

	// PromotedListingID links to the catalog listing created from this
	// detail. Empty until promotion; promotion is one-way.
	PromotedListingID string `json:"promoted_listing_id,omitempty"`
}
