package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	path := []SessionStatus{
		SessionStatusUploaded,
		SessionStatusParsing,
		SessionStatusClassifying,
		SessionStatusExtracting,
		SessionStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]),
			"%s -> %s should be legal", path[i], path[i+1])
	}
}

func TestCanTransition_NoBackwardMoves(t *testing.T) {
	assert.False(t, CanTransition(SessionStatusCompleted, SessionStatusUploaded))
	assert.False(t, CanTransition(SessionStatusExtracting, SessionStatusParsing))
	assert.False(t, CanTransition(SessionStatusClassifying, SessionStatusUploaded))
	assert.False(t, CanTransition(SessionStatusError, SessionStatusClassifying))
}

func TestCanTransition_ReviewBranch(t *testing.T) {
	assert.True(t, CanTransition(SessionStatusExtracting, SessionStatusReviewNeeded))
	assert.True(t, CanTransition(SessionStatusReviewNeeded, SessionStatusCompleted))
	assert.False(t, CanTransition(SessionStatusReviewNeeded, SessionStatusExtracting))
}

func TestCanTransition_EmptyTranscriptShortcut(t *testing.T) {
	// A session with zero messages skips straight to completed.
	assert.True(t, CanTransition(SessionStatusParsing, SessionStatusCompleted))
	assert.True(t, CanTransition(SessionStatusUploaded, SessionStatusCompleted))
}

func TestAdvance_RejectsIllegalTransition(t *testing.T) {
	s := &IngestionSession{Status: SessionStatusUploaded}
	assert.False(t, s.Advance(SessionStatusExtracting))
	assert.Equal(t, SessionStatusUploaded, s.Status)

	assert.True(t, s.Advance(SessionStatusParsing))
	assert.Equal(t, SessionStatusParsing, s.Status)
}

func TestRetryProcessing_ResetsSession(t *testing.T) {
	s := &IngestionSession{
		Status:     SessionStatusError,
		Progress:   40,
		RetryCount: 1,
		LastError:  &SessionError{Message: "service unreachable", Timestamp: time.Now()},
	}

	assert.True(t, s.RetryProcessing())
	assert.Equal(t, SessionStatusUploaded, s.Status)
	assert.Equal(t, 0, s.Progress)
	assert.Equal(t, 2, s.RetryCount)
	assert.Nil(t, s.LastError)
}

func TestRetryProcessing_RejectsCleanCompleted(t *testing.T) {
	s := &IngestionSession{Status: SessionStatusCompleted, Progress: 100}

	assert.False(t, s.RetryProcessing())
	assert.Equal(t, SessionStatusCompleted, s.Status)
	assert.Equal(t, 100, s.Progress)
	assert.Equal(t, 0, s.RetryCount)
}

func TestRetryProcessing_AllowsCompletedWithError(t *testing.T) {
	// A completed session that carries a recorded error is retryable.
	s := &IngestionSession{
		Status:    SessionStatusCompleted,
		LastError: &SessionError{Message: "partial failure", Timestamp: time.Now()},
	}
	assert.True(t, s.RetryProcessing())
	assert.Equal(t, SessionStatusUploaded, s.Status)
}

func TestFail_RecordsError(t *testing.T) {
	now := time.Now()
	s := &IngestionSession{Status: SessionStatusParsing}
	s.Fail("segmentation failed", now)

	assert.Equal(t, SessionStatusError, s.Status)
	assert.Equal(t, "segmentation failed", s.LastError.Message)
	assert.Equal(t, now, s.LastError.Timestamp)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusError.IsTerminal())
	assert.False(t, SessionStatusReviewNeeded.IsTerminal())
	assert.False(t, SessionStatusClassifying.IsTerminal())
}

func TestValidSourceKind(t *testing.T) {
	assert.True(t, ValidSourceKind(SourceKindFile))
	assert.True(t, ValidSourceKind(SourceKindChatMessage))
	assert.True(t, ValidSourceKind(SourceKindManual))
	assert.False(t, ValidSourceKind(SourceKind("email")))
}

func TestDetailByIndex(t *testing.T) {
	er := &ExtractionResult{
		Details: []ExtractionDetail{
			{MessageIndex: 4, Status: DetailStatusSuccess},
			{MessageIndex: 1, Status: DetailStatusNeedsReview},
		},
	}

	d := er.DetailByIndex(1)
	assert.NotNil(t, d)
	assert.Equal(t, DetailStatusNeedsReview, d.Status)
	assert.Nil(t, er.DetailByIndex(9))
}
