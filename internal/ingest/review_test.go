package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roomscout/ingest-cli/internal/model"
	"github.com/roomscout/ingest-cli/internal/store"
)

// runReviewSession drives a two-message transcript where one
// extraction lands below the review threshold.
func runReviewSession(t *testing.T, p *Pipeline, client *mockClient) *model.IngestionSession {
	t.Helper()
	ctx := context.Background()

	client.expectHealthy()
	client.On("Classify", mock.Anything, "sunny room 650 available now").
		Return(classifyResult(true, 0.9), nil)
	client.On("Classify", mock.Anything, "maybe a room somewhere").
		Return(classifyResult(true, 0.7), nil)
	client.On("Extract", mock.Anything, "sunny room 650 available now", false).
		Return(extractResult(0.9, "Lavapies"), nil)
	client.On("Extract", mock.Anything, "maybe a room somewhere", false).
		Return(extractResult(0.3, ""), nil)

	sess, err := p.Start(ctx, "owner-1", model.SourceKindFile, "sunny room 650 available now\nmaybe a room somewhere")
	require.NoError(t, err)
	got, err := p.Run(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusReviewNeeded, got.Status)
	return got
}

func TestCompleteReview_AppliesCorrectionsAndCompletes(t *testing.T) {
	p, client, st := newTestPipeline(t, Config{Concurrency: 1})
	ctx := context.Background()
	sess := runReviewSession(t, p, client)

	reviewed, err := p.CompleteReview(ctx, sess.ID, ReviewRequest{
		Reviewer: "maria",
		Notes:    "fixed the missing location",
		Corrections: []model.Correction{
			{MessageIndex: 1, Field: "location", Value: "Chueca"},
			{MessageIndex: 1, Field: "rent_price", Value: "550eur"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, reviewed.Status)
	require.NotNil(t, reviewed.Review)
	assert.True(t, reviewed.Review.IsReviewed)
	assert.Equal(t, "maria", reviewed.Review.Reviewer)
	require.NotNil(t, reviewed.Review.ReviewedAt)

	detail := reviewed.ExtractionResult.DetailByIndex(1)
	require.NotNil(t, detail)
	assert.Equal(t, "Chueca", detail.Fields.Location)
	assert.Equal(t, "550eur", detail.Fields.RentPrice)

	stored, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, stored.Status)
	assert.Equal(t, "Chueca", stored.ExtractionResult.DetailByIndex(1).Fields.Location)
}

func TestCompleteReview_RejectsWrongState(t *testing.T) {
	p, client, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	client.expectHealthy()
	sess, err := p.Start(ctx, "owner-1", model.SourceKindFile, "")
	require.NoError(t, err)
	_, err = p.Run(ctx, sess.ID)
	require.NoError(t, err)

	_, err = p.CompleteReview(ctx, sess.ID, ReviewRequest{Reviewer: "maria"})
	var stateErr *ReviewStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.SessionStatusCompleted, stateErr.Status)
}

func TestCompleteReview_RejectsUnknownCorrectionTargets(t *testing.T) {
	p, client, _ := newTestPipeline(t, Config{Concurrency: 1})
	ctx := context.Background()
	sess := runReviewSession(t, p, client)

	_, err := p.CompleteReview(ctx, sess.ID, ReviewRequest{
		Reviewer:    "maria",
		Corrections: []model.Correction{{MessageIndex: 99, Field: "location", Value: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message")

	_, err = p.CompleteReview(ctx, sess.ID, ReviewRequest{
		Reviewer:    "maria",
		Corrections: []model.Correction{{MessageIndex: 1, Field: "price_per_moon", Value: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestPromote_CreatesListingOnce(t *testing.T) {
	p, client, st := newTestPipeline(t, Config{Concurrency: 1})
	ctx := context.Background()
	sess := runReviewSession(t, p, client)

	listing, err := p.Promote(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, listing.ID)
	assert.Equal(t, sess.ID, listing.SessionID)
	assert.Equal(t, 0, listing.MessageIndex)
	assert.Equal(t, "Lavapies", listing.Fields.Location)
	assert.Equal(t, model.ClassificationHousing, listing.Classification)
	assert.False(t, listing.NeedsReview)
	assert.InDelta(t, 0.9, listing.ExtractionConfidence, 1e-9)

	stored, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stored.SessionID)

	// Second promotion of the same detail must fail.
	_, err = p.Promote(ctx, sess.ID, 0)
	var promoted *AlreadyPromotedError
	require.ErrorAs(t, err, &promoted)
	assert.Equal(t, listing.ID, promoted.ListingID)
}

func TestPromote_NeedsReviewRequiresCompletedReview(t *testing.T) {
	p, client, _ := newTestPipeline(t, Config{Concurrency: 1})
	ctx := context.Background()
	sess := runReviewSession(t, p, client)

	// Unreviewed needs_review detail is not promotable.
	_, err := p.Promote(ctx, sess.ID, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not approved")

	_, err = p.CompleteReview(ctx, sess.ID, ReviewRequest{
		Reviewer:    "maria",
		Corrections: []model.Correction{{MessageIndex: 1, Field: "location", Value: "Chueca"}},
	})
	require.NoError(t, err)

	listing, err := p.Promote(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Chueca", listing.Fields.Location)
}

func TestPromote_RejectsActiveSession(t *testing.T) {
	p, _, st := newTestPipeline(t, Config{})
	ctx := context.Background()

	sess, err := p.Start(ctx, "owner-1", model.SourceKindFile, "room 500")
	require.NoError(t, err)

	_, err = p.Promote(ctx, sess.ID, 0)
	var stateErr *ReviewStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.SessionStatusUploaded, stateErr.Status)

	_, err = st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
}

func TestPromote_UnknownSessionOrDetail(t *testing.T) {
	p, client, _ := newTestPipeline(t, Config{Concurrency: 1})
	ctx := context.Background()

	_, err := p.Promote(ctx, "no-such-session", 0)
	require.ErrorIs(t, err, store.ErrNotFound)

	sess := runReviewSession(t, p, client)
	_, err = p.Promote(ctx, sess.ID, 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no detail")
}
