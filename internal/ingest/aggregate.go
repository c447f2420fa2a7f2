package ingest

import (
	"sync"

	"github.com/roomscout/ingest-cli/internal/model"
)

// Aggregator owns the session's mutable counters during a pipeline
// run. Workers report results concurrently; a single mutex serializes
// every update so the incremental means stay correct regardless of
// completion order.
type Aggregator struct {
	mu sync.Mutex

	total     int
	processed int

	classification model.ClassificationResult
	extraction     model.ExtractionResult
}

// NewAggregator creates an Aggregator for a run over total messages.
func NewAggregator(total int) *Aggregator {
	return &Aggregator{total: total}
}

// RecordClassification counts one classified message and folds its
// confidence into the per-class running mean.
func (a *Aggregator) RecordClassification(class model.Classification, confidence float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch class {
	case model.ClassificationHousing:
		a.classification.HousingCount++
		a.classification.HousingAvgConfidence = runningMean(
			a.classification.HousingAvgConfidence, a.classification.HousingCount, confidence)
	case model.ClassificationSpam:
		a.classification.SpamCount++
		a.classification.SpamAvgConfidence = runningMean(
			a.classification.SpamAvgConfidence, a.classification.SpamCount, confidence)
	default:
		a.classification.OtherCount++
		a.classification.OtherAvgConfidence = runningMean(
			a.classification.OtherAvgConfidence, a.classification.OtherCount, confidence)
	}
}

// AppendDetail records one extraction outcome. Append order is
// completion order; detail.MessageIndex keeps the original position.
func (a *Aggregator) AppendDetail(detail model.ExtractionDetail) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.extraction.Details = append(a.extraction.Details, detail)
	switch detail.Status {
	case model.DetailStatusSuccess:
		a.extraction.SuccessfulExtractions++
	case model.DetailStatusFailed:
		a.extraction.FailedExtractions++
	case model.DetailStatusNeedsReview:
		a.extraction.NeedsReviewCount++
	}

	n := len(a.extraction.Details)
	a.extraction.RunningAverageConfidence = runningMean(
		a.extraction.RunningAverageConfidence, n, detail.Confidence)
}

// MarkProcessed counts one fully handled message, successful or not.
func (a *Aggregator) MarkProcessed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processed++
}

// Progress reports processed messages as a 0-100 percentage.
func (a *Aggregator) Progress() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.total == 0 {
		return 100
	}
	return a.processed * 100 / a.total
}

// Snapshot copies the current aggregates.
func (a *Aggregator) Snapshot() (model.ClassificationResult, model.ExtractionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cls := a.classification
	ext := a.extraction
	ext.Details = make([]model.ExtractionDetail, len(a.extraction.Details))
	copy(ext.Details, a.extraction.Details)
	return cls, ext
}

// runningMean folds value into a mean over n samples, where avg held
// n-1 samples before this one.
func runningMean(avg float64, n int, value float64) float64 {
	return (avg*float64(n-1) + value) / float64(n)
}
