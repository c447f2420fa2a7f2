package model

import (
	"time"
)

// SessionStatus represents the current state of an ingestion session.
type SessionStatus string

const (
	SessionStatusUploaded     SessionStatus = "uploaded"
	SessionStatusParsing      SessionStatus = "parsing"
	SessionStatusClassifying  SessionStatus = "classifying"
	SessionStatusExtracting   SessionStatus = "extracting"
	SessionStatusCompleted    SessionStatus = "completed"
	SessionStatusError        SessionStatus = "error"
	SessionStatusReviewNeeded SessionStatus = "review_needed"
)

// IsTerminal returns true for states that end normal processing.
// A review_needed session is parked, not terminal: it still awaits
// CompleteReview before it can be swept.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusError
}

// legalTransitions encodes the forward edges of the session lifecycle.
// The only backward move is retryProcessing, which is handled separately
// by Session.RetryProcessing rather than through this table.
var legalTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusUploaded:     {SessionStatusParsing, SessionStatusCompleted, SessionStatusError},
	SessionStatusParsing:      {SessionStatusClassifying, SessionStatusCompleted, SessionStatusError},
	SessionStatusClassifying:  {SessionStatusExtracting, SessionStatusCompleted, SessionStatusReviewNeeded, SessionStatusError},
	SessionStatusExtracting:   {SessionStatusCompleted, SessionStatusReviewNeeded, SessionStatusError},
	SessionStatusReviewNeeded: {SessionStatusCompleted},
}

// CanTransition reports whether moving from one status to another is a
// legal forward transition.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourceKind describes where a session's raw content came from.
type SourceKind string

const (
	SourceKindFile        SourceKind = "file"
	SourceKindChatMessage SourceKind = "chat_message"
	SourceKindManual      SourceKind = "manual"
)

// ValidSourceKind reports whether k is a known source kind.
func ValidSourceKind(k SourceKind) bool {
	switch k {
	case SourceKindFile, SourceKindChatMessage, SourceKindManual:
		return true
	}
	return false
}

// SessionError records the last failure applied to a session.
type SessionError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseResult summarizes the segmentation stage.
type ParseResult struct {
	TotalMessages  int        `json:"total_messages"`
	Participants   []string   `json:"participants,omitempty"`
	FirstMessageAt *time.Time `json:"first_message_at,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	HousingCount   int        `json:"housing_count"`
	SpamCount      int        `json:"spam_count"`
	OtherCount     int        `json:"other_count"`
}

// ClassCounts returns the per-class totals in a fixed order.
func (p ParseResult) ClassCounts() (housing, spam, other int) {
	return p.HousingCount, p.SpamCount, p.OtherCount
}

// ClassificationResult accumulates per-class counts and running mean
// confidences as messages are classified.
type ClassificationResult struct {
	HousingCount         int     `json:"housing_count"`
	SpamCount            int     `json:"spam_count"`
	OtherCount           int     `json:"other_count"`
	HousingAvgConfidence float64 `json:"housing_avg_confidence"`
	SpamAvgConfidence    float64 `json:"spam_avg_confidence"`
	OtherAvgConfidence   float64 `json:"other_avg_confidence"`
}

// Total returns the number of classified messages across all classes.
func (c ClassificationResult) Total() int {
	return c.HousingCount + c.SpamCount + c.OtherCount
}

// ExtractionResult accumulates per-message extraction outcomes.
type ExtractionResult struct {
	SuccessfulExtractions    int                `json:"successful_extractions"`
	FailedExtractions        int                `json:"failed_extractions"`
	NeedsReviewCount         int                `json:"needs_review_count"`
	RunningAverageConfidence float64            `json:"running_average_confidence"`
	Details                  []ExtractionDetail `json:"details,omitempty"`
}

// DetailByIndex returns a pointer to the detail for the given original
// message index, or nil if none exists. Details are not index-ordered
// when extraction ran concurrently, so this scans.
func (e *ExtractionResult) DetailByIndex(messageIndex int) *ExtractionDetail {
	if e == nil {
		return nil
	}
	for i := range e.Details {
		if e.Details[i].MessageIndex == messageIndex {
			return &e.Details[i]
		}
	}
	return nil
}

// Correction is a single reviewer-supplied field override targeting one
// extraction detail.
type Correction struct {
	MessageIndex int    `json:"message_index"`
	Field        string `json:"field"`
	Value        string `json:"value"`
}

// Review records the human-in-the-loop correction step.
type Review struct {
	IsReviewed          bool           `json:"is_reviewed"`
	Reviewer            string         `json:"reviewer,omitempty"`
	ReviewedAt          *time.Time     `json:"reviewed_at,omitempty"`
	Notes               string         `json:"notes,omitempty"`
	Corrections         []Correction   `json:"corrections,omitempty"`
	FinalClassification Classification `json:"final_classification,omitempty"`
}

// IngestionSession is one unit of chat ingestion: a file upload, a single
// live chat message, or manually pasted text.
type IngestionSession struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"owner_id"`
	SourceKind SourceKind    `json:"source_kind"`
	// RawContent is the transcript or message text the session was
	// created from. Kept out of API responses; needed for retries.
	RawContent string        `json:"-"`
	Status     SessionStatus `json:"status"`
	Progress   int           `json:"progress"`
	RetryCount int           `json:"retry_count"`
	LastError  *SessionError `json:"last_error,omitempty"`

	ParseResult          *ParseResult          `json:"parse_result,omitempty"`
	ClassificationResult *ClassificationResult `json:"classification_result,omitempty"`
	ExtractionResult     *ExtractionResult     `json:"extraction_result,omitempty"`
	Review               *Review               `json:"review,omitempty"`

	// Version is the optimistic concurrency counter used by the store's
	// compare-and-swap update.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Advance moves the session to a new status if the transition is legal.
func (s *IngestionSession) Advance(to SessionStatus) bool {
	if !CanTransition(s.Status, to) {
		return false
	}
	s.Status = to
	return true
}

// Fail moves the session to error and records the failure.
func (s *IngestionSession) Fail(message string, at time.Time) {
	s.Status = SessionStatusError
	s.LastError = &SessionError{Message: message, Timestamp: at}
}

// CanRetry reports whether a retryProcessing request is permitted.
// A completed session with no recorded error has nothing to retry.
func (s *IngestionSession) CanRetry() bool {
	return !(s.Status == SessionStatusCompleted && s.LastError == nil)
}

// RetryProcessing resets the session for reprocessing. It is the only
// transition that moves status backward. Returns false if the session is
// completed with no prior error.
func (s *IngestionSession) RetryProcessing() bool {
	if !s.CanRetry() {
		return false
	}
	s.Status = SessionStatusUploaded
	s.Progress = 0
	s.RetryCount++
	s.LastError = nil
	return true
}
