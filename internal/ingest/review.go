package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roomscout/ingest-cli/internal/model"
	"github.com/roomscout/ingest-cli/internal/store"
)

// ReviewRequest carries a reviewer's decision for a review_needed
// session.
type ReviewRequest struct {
	Reviewer            string               `json:"reviewer"`
	Notes               string               `json:"notes,omitempty"`
	Corrections         []model.Correction   `json:"corrections,omitempty"`
	FinalClassification model.Classification `json:"final_classification,omitempty"`
}

// CompleteReview applies a reviewer's corrections and moves the
// session from review_needed to completed. Corrections are applied to
// their target details before any promotion can read them.
func (p *Pipeline) CompleteReview(ctx context.Context, sessionID string, req ReviewRequest) (*model.IngestionSession, error) {
	if req.Reviewer == "" {
		return nil, eris.New("ingest: reviewer is required")
	}
	if req.FinalClassification != "" && !model.ValidClassification(req.FinalClassification) {
		return nil, eris.Errorf("ingest: unknown classification %q", req.FinalClassification)
	}

	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusReviewNeeded {
		return nil, &ReviewStateError{SessionID: sessionID, Status: sess.Status}
	}

	for _, c := range req.Corrections {
		detail := sess.ExtractionResult.DetailByIndex(c.MessageIndex)
		if detail == nil {
			return nil, eris.Errorf("ingest: correction targets unknown message %d", c.MessageIndex)
		}
		if !detail.Fields.Set(c.Field, c.Value) {
			return nil, eris.Errorf("ingest: correction targets unknown field %q", c.Field)
		}
	}

	now := time.Now().UTC()
	sess.Review = &model.Review{
		IsReviewed:          true,
		Reviewer:            req.Reviewer,
		ReviewedAt:          &now,
		Notes:               req.Notes,
		Corrections:         req.Corrections,
		FinalClassification: req.FinalClassification,
	}
	sess.Advance(model.SessionStatusCompleted)
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}

	zap.L().Info("ingest: review completed",
		zap.String("session_id", sessionID),
		zap.String("reviewer", req.Reviewer),
		zap.Int("corrections", len(req.Corrections)),
	)
	return sess, nil
}

// Promote creates a durable catalog listing from one extraction
// detail. Succeeds once per detail: a second call fails with
// AlreadyPromotedError, backed by a uniqueness constraint in the
// store so the guard holds across process restarts.
func (p *Pipeline) Promote(ctx context.Context, sessionID string, messageIndex int) (*model.CatalogListing, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusCompleted && sess.Status != model.SessionStatusReviewNeeded {
		return nil, &ReviewStateError{SessionID: sessionID, Status: sess.Status}
	}
	if sess.ExtractionResult == nil {
		return nil, eris.Errorf("ingest: session %s has no extraction results", sessionID)
	}

	detail := sess.ExtractionResult.DetailByIndex(messageIndex)
	if detail == nil {
		return nil, eris.Errorf("ingest: session %s has no detail for message %d", sessionID, messageIndex)
	}
	if detail.PromotedListingID != "" {
		return nil, &AlreadyPromotedError{
			SessionID:    sessionID,
			MessageIndex: messageIndex,
			ListingID:    detail.PromotedListingID,
		}
	}
	if !promotable(detail, sess.Review) {
		return nil, eris.Errorf("ingest: detail %d is %s and not approved for promotion", messageIndex, detail.Status)
	}

	classification := model.ClassificationHousing
	if sess.Review != nil && sess.Review.FinalClassification != "" {
		classification = sess.Review.FinalClassification
	}

	listing := &model.CatalogListing{
		SessionID:            sessionID,
		MessageIndex:         messageIndex,
		Fields:               detail.Fields,
		Classification:       classification,
		ExtractionConfidence: detail.Confidence,
		NeedsReview:          false,
	}
	if err := p.store.CreateListing(ctx, listing); err != nil {
		if errors.Is(err, store.ErrDuplicateListing) {
			return nil, &AlreadyPromotedError{SessionID: sessionID, MessageIndex: messageIndex}
		}
		return nil, err
	}

	detail.PromotedListingID = listing.ID
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}

	zap.L().Info("ingest: detail promoted",
		zap.String("session_id", sessionID),
		zap.Int("message_index", messageIndex),
		zap.String("listing_id", listing.ID),
	)
	return listing, nil
}

// promotable reports whether a detail may become a listing: successful
// extractions always, needs_review ones only after an explicit review.
func promotable(detail *model.ExtractionDetail, review *model.Review) bool {
	switch detail.Status {
	case model.DetailStatusSuccess:
		return true
	case model.DetailStatusNeedsReview:
		return review != nil && review.IsReviewed
	}
	return false
}

// Retry resets an errored or partially failed session back to
// uploaded for reprocessing. A session that completed without errors
// has nothing to retry.
func (p *Pipeline) Retry(ctx context.Context, sessionID string) (*model.IngestionSession, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.RetryProcessing() {
		return nil, ErrRetryNotAllowed
	}
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}

	zap.L().Info("ingest: session reset for retry",
		zap.String("session_id", sessionID),
		zap.Int("retry_count", sess.RetryCount),
	)
	return sess, nil
}

// Sweep deletes terminal sessions older than the retention window.
// Promoted listings are durable and survive the sweep.
func (p *Pipeline) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	n, err := p.store.DeleteTerminalSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("ingest: retention sweep removed sessions",
			zap.Int("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
