package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/vigil/internal/store"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var listRunID string

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List known identities, or the sightings of a watch run",
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if listRunID != "" {
			return runListSightings(cmd.Context(), listRunID)
		}
		return runList(cmd.Context())
	},
}

func init() {
	listCmd.Flags().StringVar(&listRunID, "run", "", "Show the sightings recorded by this watch run instead")
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	identities, err := DB.ListIdentities(ctx)
	if err != nil {
		utils.ShowError("Failed to list identities", err, nil)
		return err
	}
	if len(identities) == 0 {
		fmt.Println("No identities found in database.")
		return nil
	}
	printIdentities(os.Stdout, identities)
	return nil
}

func printIdentities(out io.Writer, identities []store.Identity) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-------")
	for _, id := range identities {
		fmt.Fprintf(w, "%d\t%s\t%s\n", id.ID, id.Label, id.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runListSightings(ctx context.Context, runID string) error {
	sightings, err := DB.Sightings(ctx, runID)
	if err != nil {
		utils.ShowError("Failed to list sightings", err, nil)
		return err
	}
	if len(sightings) == 0 {
		fmt.Printf("No sightings recorded for run %s.\n", runID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tFRAME\tCONFIDENCE\tSEEN")
	fmt.Fprintln(w, "-----\t-----\t----------\t----")
	for _, sg := range sightings {
		fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%s\n", sg.Label, sg.FrameIndex, sg.Confidence*100, sg.SeenAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return nil
}
