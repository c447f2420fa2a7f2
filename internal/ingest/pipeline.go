package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roomscout/ingest-cli/internal/model"
	"github.com/roomscout/ingest-cli/internal/segment"
	"github.com/roomscout/ingest-cli/internal/store"
	"github.com/roomscout/ingest-cli/pkg/roomscout"
)

const (
	defaultConcurrency     = 4
	defaultReviewThreshold = 0.6

	// casAttempts bounds reload-and-retry loops on version conflicts.
	casAttempts = 3
)

// Config tunes a Pipeline.
type Config struct {
	// Concurrency bounds in-flight classify/extract calls per session.
	Concurrency int
	// ReviewThreshold is the completeness score below which an
	// extraction is flagged for manual review.
	ReviewThreshold float64
	// UseChainOfThought asks the extraction service for its slower,
	// more thorough extraction path.
	UseChainOfThought bool
}

// Pipeline orchestrates a session's ingestion run: segmentation,
// per-message classification and extraction, and aggregation, with
// results persisted through optimistic session updates.
type Pipeline struct {
	store           store.Store
	client          roomscout.Client
	concurrency     int
	reviewThreshold float64
	useCoT          bool
}

// New creates a Pipeline.
func New(st store.Store, client roomscout.Client, cfg Config) *Pipeline {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	threshold := cfg.ReviewThreshold
	if threshold <= 0 {
		threshold = defaultReviewThreshold
	}
	return &Pipeline{
		store:           st,
		client:          client,
		concurrency:     concurrency,
		reviewThreshold: threshold,
		useCoT:          cfg.UseChainOfThought,
	}
}

// Start validates the inputs and creates a new session in the uploaded
// state. Processing happens in a separate Run call.
func (p *Pipeline) Start(ctx context.Context, ownerID string, kind model.SourceKind, rawContent string) (*model.IngestionSession, error) {
	if ownerID == "" {
		return nil, eris.New("ingest: owner id is required")
	}
	if !model.ValidSourceKind(kind) {
		return nil, eris.Errorf("ingest: unknown source kind %q", kind)
	}
	if len(rawContent) > segment.MaxTranscriptBytes {
		return nil, eris.Errorf("ingest: transcript exceeds %d bytes", segment.MaxTranscriptBytes)
	}
	return p.store.CreateSession(ctx, ownerID, kind, rawContent)
}

// Run processes a session end to end. Per-message failures are
// recorded on that message's detail and never abort the run; only
// segmentation failures and a failed pre-flight health check mark the
// session as errored.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (*model.IngestionSession, error) {
	log := zap.L().With(zap.String("session_id", sessionID))

	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusUploaded {
		return nil, eris.Errorf("ingest: session %s is %s, runs start from uploaded", sessionID, sess.Status)
	}

	sess.Advance(model.SessionStatusParsing)
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}
	log.Info("ingest: run started", zap.String("source_kind", string(sess.SourceKind)))

	msgs, err := segment.Segment(sess.RawContent)
	if err != nil {
		return p.failSession(ctx, sess, "segmentation failed: "+err.Error(), log)
	}

	first, last := segment.DateRange(msgs)
	sess.ParseResult = &model.ParseResult{
		TotalMessages:  len(msgs),
		Participants:   segment.Participants(msgs),
		FirstMessageAt: first,
		LastMessageAt:  last,
	}

	// An empty transcript is a valid session with nothing to process.
	if len(msgs) == 0 {
		sess.Progress = 100
		sess.Advance(model.SessionStatusCompleted)
		if err := p.persist(ctx, sess); err != nil {
			return nil, err
		}
		log.Info("ingest: empty transcript, session completed")
		return sess, nil
	}

	sess.Progress = 5
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}

	// Fail fast on a known-down service instead of burning retries on
	// every message. A fresh cached probe is trusted; only stale or
	// missing health triggers a new one.
	health, cached := p.client.CachedHealth()
	if !cached {
		fresh, healthErr := p.client.HealthCheck(ctx)
		if healthErr != nil {
			return p.failSession(ctx, sess, "extraction service unreachable: "+healthErr.Error(), log)
		}
		health = *fresh
	}
	if !health.Healthy {
		reason := "extraction service unhealthy"
		if health.Status != "" {
			reason = "extraction service unhealthy: " + health.Status
		}
		return p.failSession(ctx, sess, reason, log)
	}

	sess.Advance(model.SessionStatusClassifying)
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}

	agg := NewAggregator(len(msgs))

	// Cancellation stops dispatch only. In-flight calls and their
	// status writes run on a detached context so results are recorded,
	// not lost.
	callCtx := context.WithoutCancel(ctx)

	var stateMu sync.Mutex
	var extractingOnce sync.Once
	markExtracting := func() {
		extractingOnce.Do(func() {
			stateMu.Lock()
			defer stateMu.Unlock()
			if sess.Advance(model.SessionStatusExtracting) {
				if err := p.persist(callCtx, sess); err != nil {
					log.Warn("ingest: failed to persist extracting status", zap.Error(err))
				}
			}
		})
	}
	flushProgress := func() {
		stateMu.Lock()
		defer stateMu.Unlock()
		progress := agg.Progress()
		// Scale worker progress into the 5-95 band; the terminal
		// update owns 100.
		scaled := 5 + progress*90/100
		if scaled <= sess.Progress {
			return
		}
		sess.Progress = scaled
		if err := p.persist(callCtx, sess); err != nil {
			log.Warn("ingest: failed to persist progress", zap.Error(err))
		}
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.processMessage(callCtx, msg, agg, markExtracting, log)
			agg.MarkProcessed()
			flushProgress()
			return nil
		})
	}
	_ = g.Wait()

	stateMu.Lock()
	defer stateMu.Unlock()

	cls, ext := agg.Snapshot()
	sess.ClassificationResult = &cls
	sess.ExtractionResult = &ext
	sess.ParseResult.HousingCount = cls.HousingCount
	sess.ParseResult.SpamCount = cls.SpamCount
	sess.ParseResult.OtherCount = cls.OtherCount

	if ctx.Err() != nil {
		sess.Fail("processing canceled: "+ctx.Err().Error(), time.Now().UTC())
		if err := p.persist(callCtx, sess); err != nil {
			return nil, err
		}
		log.Warn("ingest: run canceled", zap.Int("processed", len(ext.Details)))
		return sess, ctx.Err()
	}

	sess.Progress = 100
	if ext.NeedsReviewCount > 0 {
		sess.Advance(model.SessionStatusReviewNeeded)
	} else {
		sess.Advance(model.SessionStatusCompleted)
	}
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}

	log.Info("ingest: run finished",
		zap.String("status", string(sess.Status)),
		zap.Int("messages", len(msgs)),
		zap.Int("housing", cls.HousingCount),
		zap.Int("extracted", ext.SuccessfulExtractions),
		zap.Int("needs_review", ext.NeedsReviewCount),
		zap.Int("failed", ext.FailedExtractions),
	)
	return sess, nil
}

// processMessage classifies one message and, for housing messages,
// extracts structured fields. Call failures after exhausted retries
// become a failed detail for this message only.
func (p *Pipeline) processMessage(ctx context.Context, msg segment.Message, agg *Aggregator, markExtracting func(), log *zap.Logger) {
	cls, err := p.client.Classify(ctx, msg.RawText)
	if err != nil {
		log.Warn("ingest: classification failed",
			zap.Int("message_index", msg.Index), zap.Error(err))
		agg.AppendDetail(model.ExtractionDetail{
			MessageIndex: msg.Index,
			OriginalText: msg.RawText,
			Status:       model.DetailStatusFailed,
			ErrorMessage: "classify: " + err.Error(),
		})
		return
	}

	class := model.ClassificationOther
	if cls.IsHousing {
		class = model.ClassificationHousing
	}
	agg.RecordClassification(class, cls.Confidence)

	if class != model.ClassificationHousing {
		return
	}

	markExtracting()
	ext, err := p.client.Extract(ctx, msg.RawText, p.useCoT)
	if err != nil {
		log.Warn("ingest: extraction failed",
			zap.Int("message_index", msg.Index), zap.Error(err))
		agg.AppendDetail(model.ExtractionDetail{
			MessageIndex: msg.Index,
			OriginalText: msg.RawText,
			Status:       model.DetailStatusFailed,
			ErrorMessage: "extract: " + err.Error(),
		})
		return
	}

	status := model.DetailStatusSuccess
	if ext.CompletenessScore < p.reviewThreshold {
		status = model.DetailStatusNeedsReview
	}
	agg.AppendDetail(model.ExtractionDetail{
		MessageIndex: msg.Index,
		OriginalText: msg.RawText,
		Fields:       fieldsFromWire(ext.Data),
		Confidence:   ext.CompletenessScore,
		Status:       status,
	})
}

// failSession marks the session errored and persists it. The session
// stays retryable via Retry.
func (p *Pipeline) failSession(ctx context.Context, sess *model.IngestionSession, reason string, log *zap.Logger) (*model.IngestionSession, error) {
	sess.Fail(reason, time.Now().UTC())
	if err := p.persist(ctx, sess); err != nil {
		return nil, err
	}
	log.Error("ingest: session failed", zap.String("reason", reason))
	return sess, nil
}

// persist writes the session with optimistic concurrency. On a version
// conflict it adopts the stored version and retries, so a crash-restart
// writer cannot silently lose this run's aggregates.
func (p *Pipeline) persist(ctx context.Context, sess *model.IngestionSession) error {
	var err error
	for attempt := 0; attempt < casAttempts; attempt++ {
		err = p.store.UpdateSessionCAS(ctx, sess)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		fresh, getErr := p.store.GetSession(ctx, sess.ID)
		if getErr != nil {
			return getErr
		}
		sess.Version = fresh.Version
	}
	return err
}

func fieldsFromWire(d roomscout.ExtractedData) model.ExtractedFields {
	return model.ExtractedFields{
		RentPrice:        d.RentPrice,
		Location:         d.Location,
		RoomType:         d.RoomType,
		AvailabilityDate: d.AvailabilityDate,
		ContactInfo:      d.ContactInfo,
		GenderPreference: d.GenderPreference,
		AdditionalNotes:  d.AdditionalNotes,
	}
}
