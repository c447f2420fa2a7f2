package ingest

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/roomscout/ingest-cli/internal/model"
)

// ErrRetryNotAllowed is returned when a retry is requested for a
// session that completed cleanly.
var ErrRetryNotAllowed = eris.New("ingest: session completed without errors, nothing to retry")

// AlreadyPromotedError signals that an extraction detail already has a
// linked catalog listing. Promotion is one-way and idempotent.
type AlreadyPromotedError struct {
	SessionID    string
	MessageIndex int
	ListingID    string
}

func (e *AlreadyPromotedError) Error() string {
	return fmt.Sprintf("ingest: message %d in session %s already promoted to listing %s",
		e.MessageIndex, e.SessionID, e.ListingID)
}

// ReviewStateError signals a review or promotion action against a
// session whose status does not permit it.
type ReviewStateError struct {
	SessionID string
	Status    model.SessionStatus
}

func (e *ReviewStateError) Error() string {
	return fmt.Sprintf("ingest: session %s is %s, action requires a reviewable state",
		e.SessionID, e.Status)
}
