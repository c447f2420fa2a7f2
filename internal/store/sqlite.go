package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/roomscout/ingest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	source_kind           TEXT NOT NULL,
	raw_content           TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'uploaded',
	progress              INTEGER NOT NULL DEFAULT 0,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	last_error            TEXT,
	parse_result          TEXT,
	classification_result TEXT,
	extraction_result     TEXT,
	review                TEXT,
	version               INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS listings (
	id                    TEXT PRIMARY KEY,
	session_id            TEXT NOT NULL REFERENCES sessions(id),
	message_index         INTEGER NOT NULL,
	fields                TEXT NOT NULL,
	classification        TEXT NOT NULL,
	extraction_confidence REAL NOT NULL,
	needs_review          INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);
CREATE INDEX IF NOT EXISTS idx_listings_session ON listings(session_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_session_message ON listings(session_id, message_index);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, ownerID string, kind model.SourceKind, rawContent string) (*model.IngestionSession, error) {
	sess := &model.IngestionSession{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		SourceKind: kind,
		RawContent: rawContent,
		Status:     model.SessionStatusUploaded,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, source_kind, raw_content, status, progress, retry_count, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, string(sess.SourceKind), sess.RawContent,
		string(sess.Status), sess.Progress, sess.RetryCount, sess.Version,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert session")
	}
	return sess, nil
}

const sessionColumns = `id, owner_id, source_kind, raw_content, status, progress, retry_count,
	last_error, parse_result, classification_result, extraction_result, review,
	version, created_at, updated_at`

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.IngestionSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.IngestionSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.IngestionSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions rows")
}

func (s *SQLiteStore) UpdateSessionCAS(ctx context.Context, session *model.IngestionSession) error {
	lastError, parseResult, classResult, extractResult, review, err := marshalSessionDocs(session)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, progress = ?, retry_count = ?, last_error = ?,
			parse_result = ?, classification_result = ?, extraction_result = ?, review = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(session.Status), session.Progress, session.RetryCount, lastError,
		parseResult, classResult, extractResult, review,
		time.Now().UTC(), session.ID, session.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", session.ID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		if _, getErr := s.GetSession(ctx, session.ID); getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrVersionConflict, "session %s at version %d", session.ID, session.Version)
	}

	session.Version++
	return nil
}

func (s *SQLiteStore) CreateListing(ctx context.Context, listing *model.CatalogListing) error {
	fieldsJSON, err := json.Marshal(listing.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal listing fields")
	}
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO listings (id, session_id, message_index, fields, classification, extraction_confidence, needs_review, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		listing.ID, listing.SessionID, listing.MessageIndex, string(fieldsJSON),
		string(listing.Classification), listing.ExtractionConfidence,
		boolToInt(listing.NeedsReview), listing.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicateListing, "session %s message %d", listing.SessionID, listing.MessageIndex)
		}
		return eris.Wrap(err, "sqlite: insert listing")
	}
	return nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, listingID string) (*model.CatalogListing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, message_index, fields, classification, extraction_confidence, needs_review, created_at
		 FROM listings WHERE id = ?`, listingID)
	return scanListing(row)
}

func (s *SQLiteStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.CatalogListing, error) {
	query := `SELECT id, session_id, message_index, fields, classification, extraction_confidence, needs_review, created_at
		FROM listings WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list listings")
	}
	defer rows.Close()

	var listings []model.CatalogListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: list listings rows")
}

func (s *SQLiteStore) DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status IN (?, ?) AND updated_at < ?`,
		string(model.SessionStatusCompleted), string(model.SessionStatusError), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete terminal sessions")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(affected), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.IngestionSession, error) {
	var sess model.IngestionSession
	var sourceKind, status string
	var lastError, parseResult, classResult, extractResult, review sql.NullString

	err := row.Scan(
		&sess.ID, &sess.OwnerID, &sourceKind, &sess.RawContent, &status,
		&sess.Progress, &sess.RetryCount,
		&lastError, &parseResult, &classResult, &extractResult, &review,
		&sess.Version, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "store: scan session")
	}

	sess.SourceKind = model.SourceKind(sourceKind)
	sess.Status = model.SessionStatus(status)

	if err := unmarshalInto(lastError, &sess.LastError); err != nil {
		return nil, err
	}
	if err := unmarshalInto(parseResult, &sess.ParseResult); err != nil {
		return nil, err
	}
	if err := unmarshalInto(classResult, &sess.ClassificationResult); err != nil {
		return nil, err
	}
	if err := unmarshalInto(extractResult, &sess.ExtractionResult); err != nil {
		return nil, err
	}
	if err := unmarshalInto(review, &sess.Review); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanListing(row rowScanner) (*model.CatalogListing, error) {
	var l model.CatalogListing
	var fieldsJSON, classification string
	var needsReview int

	err := row.Scan(
		&l.ID, &l.SessionID, &l.MessageIndex, &fieldsJSON, &classification,
		&l.ExtractionConfidence, &needsReview, &l.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "store: scan listing")
	}

	l.Classification = model.Classification(classification)
	l.NeedsReview = needsReview != 0
	if err := json.Unmarshal([]byte(fieldsJSON), &l.Fields); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal listing fields")
	}
	return &l, nil
}

// marshalSessionDocs serializes the session's nested documents to
// nullable JSON strings.
func marshalSessionDocs(sess *model.IngestionSession) (lastError, parseResult, classResult, extractResult, review any, err error) {
	toJSON := func(v any, isNil bool) (any, error) {
		if isNil {
			return nil, nil
		}
		buf, mErr := json.Marshal(v)
		if mErr != nil {
			return nil, eris.Wrap(mErr, "store: marshal session document")
		}
		return string(buf), nil
	}

	if lastError, err = toJSON(sess.LastError, sess.LastError == nil); err != nil {
		return
	}
	if parseResult, err = toJSON(sess.ParseResult, sess.ParseResult == nil); err != nil {
		return
	}
	if classResult, err = toJSON(sess.ClassificationResult, sess.ClassificationResult == nil); err != nil {
		return
	}
	if extractResult, err = toJSON(sess.ExtractionResult, sess.ExtractionResult == nil); err != nil {
		return
	}
	review, err = toJSON(sess.Review, sess.Review == nil)
	return
}

func unmarshalInto[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return eris.Wrap(err, "store: unmarshal session document")
	}
	*dst = &v
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
