package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/roomscout/ingest-cli/internal/model"
	"github.com/roomscout/ingest-cli/internal/store"
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Inspect promoted catalog listings",
}

var listingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog listings",
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

		session, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		listings, err := st.ListListings(ctx, store.ListingFilter{
			SessionID: session,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "listings list")
		}

		if len(listings) == 0 {
			fmt.Fprintln(os.Stderr, "No listings found.")
			return nil
		}

		formatListingsList(os.Stdout, listings)
		return nil
	},
}

var listingsShowCmd = &cobra.Command{
	Use:   "show <listing-id>",
	Short: "Show full details of a listing",
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

		listing, err := st.GetListing(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "listings show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	},
}

func formatListingsList(out io.Writer, listings []model.CatalogListing) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSESSION\tMSG\tLOCATION\tPRICE\tCONFIDENCE\tCREATED")
	for _, l := range listings {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.2f\t%s\n",
			l.ID, l.SessionID, l.MessageIndex,
			orDash(l.Fields.Location), orDash(l.Fields.RentPrice),
			l.ExtractionConfidence, l.CreatedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	listingsListCmd.Flags().String("session", "", "filter by source session ID")
	listingsListCmd.Flags().Int("limit", 50, "max number of listings to display")

	listingsCmd.AddCommand(listingsListCmd)
	listingsCmd.AddCommand(listingsShowCmd)
	rootCmd.AddCommand(listingsCmd)
}
