package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomscout/ingest-cli/internal/ingest"
	"github.com/roomscout/ingest-cli/internal/model"
	"github.com/roomscout/ingest-cli/internal/monitoring"
	"github.com/roomscout/ingest-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Background health checks and alerting, when a webhook is set.
		if cfg.Monitor.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Client),
				monitoring.NewAlerter(cfg.Monitor),
				cfg.Monitor,
			)
			go checker.Run(ctx)
		}

		api := &apiServer{env: env, runCtx: ctx}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiServer carries the shared state for the HTTP handlers. runCtx is
// the server lifetime context used for async pipeline runs, so an
// in-flight run survives its originating request.
type apiServer struct {
	env    *pipelineEnv
	runCtx context.Context
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/retry", s.handleRetrySession)
		r.Post("/{id}/review", s.handleReviewSession)
		r.Post("/{id}/promote/{index}", s.handlePromote)
	})

	r.Get("/listings", s.handleListListings)

	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	collector := monitoring.NewCollector(s.env.Store, s.env.Client)
	snap, err := collector.Collect(r.Context(), cfg.Monitor.LookbackWindowHours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID    string `json:"owner_id"`
		SourceKind string `json:"source_kind"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceKind == "" {
		req.SourceKind = string(model.SourceKindChatMessage)
	}

	sess, err := s.env.Pipeline.Start(r.Context(), req.OwnerID, model.SourceKind(req.SourceKind), req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Cause(err).Error())
		return
	}

	s.runAsync(sess.ID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sess.ID,
		"status":     string(sess.Status),
	})
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.env.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *apiServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{
		Status:  model.SessionStatus(r.URL.Query().Get("status")),
		OwnerID: r.URL.Query().Get("owner_id"),
		Limit:   50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	sessions, err := s.env.Store.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *apiServer) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.env.Pipeline.Retry(r.Context(), id)
	if err != nil {
		if errors.Is(err, ingest.ErrRetryNotAllowed) {
			writeError(w, http.StatusConflict, eris.Cause(err).Error())
			return
		}
		writeStoreError(w, err)
		return
	}

	s.runAsync(sess.ID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id":  sess.ID,
		"status":      string(sess.Status),
		"retry_count": sess.RetryCount,
	})
}

func (s *apiServer) handleReviewSession(w http.ResponseWriter, r *http.Request) {
	var req ingest.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.env.Pipeline.CompleteReview(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		var stateErr *ingest.ReviewStateError
		switch {
		case errors.As(err, &stateErr):
			writeError(w, http.StatusConflict, stateErr.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			writeError(w, http.StatusBadRequest, eris.Cause(err).Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *apiServer) handlePromote(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message index")
		return
	}

	listing, err := s.env.Pipeline.Promote(r.Context(), chi.URLParam(r, "id"), idx)
	if err != nil {
		var promoted *ingest.AlreadyPromotedError
		var stateErr *ingest.ReviewStateError
		switch {
		case errors.As(err, &promoted):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":      promoted.Error(),
				"listing_id": promoted.ListingID,
			})
		case errors.As(err, &stateErr):
			writeError(w, http.StatusConflict, stateErr.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			writeError(w, http.StatusBadRequest, eris.Cause(err).Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (s *apiServer) handleListListings(w http.ResponseWriter, r *http.Request) {
	filter := store.ListingFilter{
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	listings, err := s.env.Store.ListListings(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list listings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

// runAsync kicks off pipeline processing for a session on the server
// lifetime context and logs the outcome.
func (s *apiServer) runAsync(sessionID string) {
	go func() {
		sess, err := s.env.Pipeline.Run(s.runCtx, sessionID)
		if err != nil {
			zap.L().Error("async processing failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("async processing complete",
			zap.String("session_id", sessionID),
			zap.String("status", string(sess.Status)),
		)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, eris.Cause(err).Error())
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
