// Package store persists ingestion sessions and promoted catalog
// listings. Two backends are provided: SQLite for single-node deploys
// and Postgres for shared ones.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/roomscout/ingest-cli/internal/model"
)

// ErrNotFound is returned when a session or listing does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned by UpdateSessionCAS when the persisted
// version no longer matches the caller's copy.
var ErrVersionConflict = eris.New("store: session version conflict")

// ErrDuplicateListing is returned when a listing already exists for a
// (session, message index) pair. The promotion guard builds on this.
var ErrDuplicateListing = eris.New("store: listing already exists for message")

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status       model.SessionStatus `json:"status,omitempty"`
	OwnerID      string              `json:"owner_id,omitempty"`
	CreatedAfter time.Time           `json:"created_after,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
	Offset       int                 `json:"offset,omitempty"`
}

// ListingFilter specifies criteria for listing catalog listings.
type ListingFilter struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, ownerID string, kind model.SourceKind, rawContent string) (*model.IngestionSession, error)
	GetSession(ctx context.Context, sessionID string) (*model.IngestionSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.IngestionSession, error)
	// UpdateSessionCAS persists the session only if its stored version
	// matches session.Version, then increments the version (both stored
	// and on the passed session). Returns ErrVersionConflict otherwise.
	UpdateSessionCAS(ctx context.Context, session *model.IngestionSession) error

	// Catalog listings
	CreateListing(ctx context.Context, listing *model.CatalogListing) error
	GetListing(ctx context.Context, listingID string) (*model.CatalogListing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]model.CatalogListing, error)

	// Retention: delete terminal (completed/error) sessions last updated
	// before cutoff. Promoted listings are durable and never swept.
	DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
