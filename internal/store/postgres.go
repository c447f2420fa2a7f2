package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/roomscout/ingest-cli/internal/model"
)

// Pool abstracts the pgx pool operations the store uses, so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection
// for the hottest store operations.
var preparedStatements = map[string]string{
	"insert_session": `INSERT INTO sessions (id, owner_id, source_kind, raw_content, status, progress, retry_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"get_session": `SELECT id, owner_id, source_kind, raw_content, status, progress, retry_count,
		last_error, parse_result, classification_result, extraction_result, review,
		version, created_at, updated_at FROM sessions WHERE id = $1`,
	"update_session_cas": `UPDATE sessions SET status = $1, progress = $2, retry_count = $3, last_error = $4,
		parse_result = $5, classification_result = $6, extraction_result = $7, review = $8,
		version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11`,
	"insert_listing": `INSERT INTO listings (id, session_id, message_index, fields, classification, extraction_confidence, needs_review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id              TEXT NOT NULL,
	source_kind           TEXT NOT NULL,
	raw_content           TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'uploaded',
	progress              INTEGER NOT NULL DEFAULT 0,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	last_error            JSONB,
	parse_result          JSONB,
	classification_result JSONB,
	extraction_result     JSONB,
	review                JSONB,
	version               INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS listings (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id            TEXT NOT NULL REFERENCES sessions(id),
	message_index         INTEGER NOT NULL,
	fields                JSONB NOT NULL,
	classification        TEXT NOT NULL,
	extraction_confidence DOUBLE PRECISION NOT NULL,
	needs_review          BOOLEAN NOT NULL DEFAULT false,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, message_index)
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_listings_session ON listings(session_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, ownerID string, kind model.SourceKind, rawContent string) (*model.IngestionSession, error) {
	sess := &model.IngestionSession{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		SourceKind: kind,
		RawContent: rawContent,
		Status:     model.SessionStatusUploaded,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, owner_id, source_kind, raw_content, status, progress, retry_count, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.OwnerID, string(sess.SourceKind), sess.RawContent,
		string(sess.Status), sess.Progress, sess.RetryCount, sess.Version,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert session")
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.IngestionSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, source_kind, raw_content, status, progress, retry_count,
			last_error, parse_result, classification_result, extraction_result, review,
			version, created_at, updated_at
		 FROM sessions WHERE id = $1`, sessionID)
	sess, err := scanPgSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.IngestionSession, error) {
	query := `SELECT id, owner_id, source_kind, raw_content, status, progress, retry_count,
		last_error, parse_result, classification_result, extraction_result, review,
		version, created_at, updated_at FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += ` AND owner_id = $` + itoa(len(args))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter.UTC())
		query += ` AND created_at > $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.IngestionSession
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions rows")
}

func (s *PostgresStore) UpdateSessionCAS(ctx context.Context, session *model.IngestionSession) error {
	lastError, parseResult, classResult, extractResult, review, err := marshalSessionDocs(session)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, progress = $2, retry_count = $3, last_error = $4,
			parse_result = $5, classification_result = $6, extraction_result = $7, review = $8,
			version = version + 1, updated_at = $9
		 WHERE id = $10 AND version = $11`,
		string(session.Status), session.Progress, session.RetryCount, lastError,
		parseResult, classResult, extractResult, review,
		time.Now().UTC(), session.ID, session.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", session.ID)
	}

	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetSession(ctx, session.ID); getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrVersionConflict, "session %s at version %d", session.ID, session.Version)
	}

	session.Version++
	return nil
}

func (s *PostgresStore) CreateListing(ctx context.Context, listing *model.CatalogListing) error {
	fieldsJSON, err := json.Marshal(listing.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal listing fields")
	}
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO listings (id, session_id, message_index, fields, classification, extraction_confidence, needs_review, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		listing.ID, listing.SessionID, listing.MessageIndex, fieldsJSON,
		string(listing.Classification), listing.ExtractionConfidence,
		listing.NeedsReview, listing.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return eris.Wrapf(ErrDuplicateListing, "session %s message %d", listing.SessionID, listing.MessageIndex)
		}
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicateListing, "session %s message %d", listing.SessionID, listing.MessageIndex)
		}
		return eris.Wrap(err, "postgres: insert listing")
	}
	return nil
}

func (s *PostgresStore) GetListing(ctx context.Context, listingID string) (*model.CatalogListing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_id, message_index, fields, classification, extraction_confidence, needs_review, created_at
		 FROM listings WHERE id = $1`, listingID)

	l, err := scanPgListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get listing %s", listingID)
	}
	return l, nil
}

func (s *PostgresStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.CatalogListing, error) {
	query := `SELECT id, session_id, message_index, fields, classification, extraction_confidence, needs_review, created_at
		FROM listings WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += ` AND session_id = $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list listings")
	}
	defer rows.Close()

	var listings []model.CatalogListing
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: list listings rows")
}

func (s *PostgresStore) DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE status IN ($1, $2) AND updated_at < $3`,
		string(model.SessionStatusCompleted), string(model.SessionStatusError), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete terminal sessions")
	}
	return int(tag.RowsAffected()), nil
}

func scanPgSession(row pgx.Row) (*model.IngestionSession, error) {
	var sess model.IngestionSession
	var sourceKind, status string
	var lastError, parseResult, classResult, extractResult, review []byte

	err := row.Scan(
		&sess.ID, &sess.OwnerID, &sourceKind, &sess.RawContent, &status,
		&sess.Progress, &sess.RetryCount,
		&lastError, &parseResult, &classResult, &extractResult, &review,
		&sess.Version, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.SourceKind = model.SourceKind(sourceKind)
	sess.Status = model.SessionStatus(status)

	if err := unmarshalBytes(lastError, &sess.LastError); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(parseResult, &sess.ParseResult); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(classResult, &sess.ClassificationResult); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(extractResult, &sess.ExtractionResult); err != nil {
		return nil, err
	}
	if err := unmarshalBytes(review, &sess.Review); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanPgListing(row pgx.Row) (*model.CatalogListing, error) {
	var l model.CatalogListing
	var fieldsJSON []byte
	var classification string

	err := row.Scan(
		&l.ID, &l.SessionID, &l.MessageIndex, &fieldsJSON, &classification,
		&l.ExtractionConfidence, &l.NeedsReview, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Classification = model.Classification(classification)
	if err := json.Unmarshal(fieldsJSON, &l.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal listing fields")
	}
	return &l, nil
}

func unmarshalBytes[T any](buf []byte, dst **T) error {
	if len(buf) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(buf, &v); err != nil {
		return eris.Wrap(err, "postgres: unmarshal session document")
	}
	*dst = &v
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
