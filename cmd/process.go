package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomscout/ingest-cli/internal/model"
)

var (
	processOwner  string
	processFile   string
	processSource string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Ingest a chat transcript and run the extraction pipeline",
	Long:  "Reads a transcript from --file (or stdin), creates an ingestion session, and runs segmentation, classification, and extraction to completion.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, kind, err := readTranscript()
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Pipeline.Start(ctx, processOwner, kind, raw)
		if err != nil {
			return eris.Wrap(err, "start session")
		}

		zap.L().Info("session created",
			zap.String("session_id", sess.ID),
			zap.String("owner_id", sess.OwnerID),
			zap.String("source", string(sess.SourceKind)),
		)

		sess, err = env.Pipeline.Run(ctx, sess.ID)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("processing complete",
			zap.String("session_id", sess.ID),
			zap.String("status", string(sess.Status)),
		)

		// Print result JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

// readTranscript resolves the transcript content and source kind from
// the process flags. With no --file it reads stdin.
func readTranscript() (string, model.SourceKind, error) {
	kind := model.SourceKind(processSource)
	if !model.ValidSourceKind(kind) {
		return "", "", eris.Errorf("unknown source kind: %s", processSource)
	}

	if processFile != "" {
		data, err := os.ReadFile(processFile)
		if err != nil {
			return "", "", eris.Wrap(err, "read transcript file")
		}
		return string(data), kind, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", eris.Wrap(err, "read transcript from stdin")
	}
	return string(data), kind, nil
}

func init() {
	processCmd.Flags().StringVar(&processOwner, "owner", "", "owner user ID (required)")
	processCmd.Flags().StringVar(&processFile, "file", "", "transcript file path (default: read stdin)")
	processCmd.Flags().StringVar(&processSource, "source", string(model.SourceKindFile), "source kind (file, chat_message, manual)")
	_ = processCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(processCmd)
}
