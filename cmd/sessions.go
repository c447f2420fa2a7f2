package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomscout/ingest-cli/internal/ingest"
	"github.com/roomscout/ingest-cli/internal/model"
	"github.com/roomscout/ingest-cli/internal/monitoring"
	"github.com/roomscout/ingest-cli/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage ingestion sessions",
	Long:  "Commands for listing, viewing, retrying, reviewing, and promoting ingestion sessions.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		owner, _ := cmd.Flags().GetString("owner")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.SessionFilter{
			Status:  model.SessionStatus(status),
			OwnerID: owner,
			Limit:   limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		sessions, err := st.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions show --

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show full details of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sess, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

// -- sessions retry --

var sessionsRetryCmd = &cobra.Command{
	Use:   "retry <session-id>",
	Short: "Reset a failed or stuck session and reprocess it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Pipeline.Retry(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions retry")
		}

		zap.L().Info("session reset for retry",
			zap.String("session_id", sess.ID),
			zap.Int("retry_count", sess.RetryCount),
		)

		sess, err = env.Pipeline.Run(ctx, sess.ID)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

// -- sessions review --

var sessionsReviewCmd = &cobra.Command{
	Use:   "review <session-id>",
	Short: "Apply a reviewer's corrections and complete a session",
	Long:  "Reads a review request (reviewer, notes, corrections, final classification) as JSON from --from-file or stdin and applies it to a review_needed session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fromFile, _ := cmd.Flags().GetString("from-file")
		req, err := readReviewRequest(fromFile)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Pipeline.CompleteReview(ctx, args[0], req)
		if err != nil {
			return eris.Wrap(err, "sessions review")
		}

		zap.L().Info("review completed",
			zap.String("session_id", sess.ID),
			zap.String("reviewer", req.Reviewer),
			zap.Int("corrections", len(req.Corrections)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

// -- sessions promote --

var sessionsPromoteCmd = &cobra.Command{
	Use:   "promote <session-id> <message-index>",
	Short: "Promote an extracted message to the listing catalog",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Wrapf(err, "invalid message index %q", args[1])
		}

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		listing, err := env.Pipeline.Promote(ctx, args[0], idx)
		if err != nil {
			return eris.Wrap(err, "sessions promote")
		}

		zap.L().Info("listing promoted",
			zap.String("session_id", args[0]),
			zap.Int("message_index", idx),
			zap.String("listing_id", listing.ID),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	},
}

// -- sessions stats --

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate ingestion statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		hours, _ := cmd.Flags().GetInt("hours")

		collector := monitoring.NewCollector(st, nil)
		snap, err := collector.Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "sessions stats")
		}

		formatSessionStats(os.Stdout, snap)
		return nil
	},
}

// readReviewRequest loads a review request from a JSON file, or stdin
// when path is empty.
func readReviewRequest(path string) (ingest.ReviewRequest, error) {
	var req ingest.ReviewRequest

	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return req, eris.Wrap(err, "open review file")
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, eris.Wrap(err, "decode review request")
	}
	return req, nil
}

// formatSessionsList writes a tabular list of sessions to w.
func formatSessionsList(out io.Writer, sessions []model.IngestionSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tPROGRESS\tMESSAGES\tRETRIES\tCREATED")
	for _, s := range sessions {
		msgs := "-"
		if s.ParseResult != nil {
			msgs = strconv.Itoa(s.ParseResult.TotalMessages)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%d\t%s\n",
			s.ID, s.OwnerID, s.Status, s.Progress, msgs, s.RetryCount,
			s.CreatedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

// formatSessionStats writes a metrics snapshot to w.
func formatSessionStats(out io.Writer, snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Sessions:\t%d total, %d completed, %d failed, %d active\n",
		snap.SessionsTotal, snap.SessionsCompleted, snap.SessionsFailed, snap.SessionsActive)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.SessionFailRate*100)
	_, _ = fmt.Fprintf(w, "Messages:\t%d processed, %d housing\n", snap.MessagesProcessed, snap.HousingMessages)
	_, _ = fmt.Fprintf(w, "Avg confidence:\t%.2f\n", snap.AvgConfidence)
	_, _ = fmt.Fprintf(w, "Review backlog:\t%d\n", snap.ReviewBacklog)
	_ = w.Flush()
}

func init() {
	sessionsListCmd.Flags().String("status", "", "filter by session status (uploaded, parsing, classifying, extracting, completed, error, review_needed)")
	sessionsListCmd.Flags().String("owner", "", "filter by owner user ID")
	sessionsListCmd.Flags().Duration("since", 0, "only sessions created within this window (e.g. 24h)")
	sessionsListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionsReviewCmd.Flags().String("from-file", "", "JSON review request file (default: read stdin)")

	sessionsStatsCmd.Flags().Int("hours", 24, "time window in hours for stats")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRetryCmd)
	sessionsCmd.AddCommand(sessionsReviewCmd)
	sessionsCmd.AddCommand(sessionsPromoteCmd)
	sessionsCmd.AddCommand(sessionsStatsCmd)
	rootCmd.AddCommand(sessionsCmd)
}
