package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var identifyOpts Options

var identifyCmd = &cobra.Command{
	Use:         "identify <image_path>",
	Short:       "Look up the closest known face for a photo",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0], identifyOpts)
	},
}

func init() {
	identifyCmd.Flags().Float64VarP(&identifyOpts.MatchThreshold, "match-threshold", "t", matcher.DefaultThreshold, "Maximum embedding distance for a match")
	addWorkerFlags(identifyCmd, &identifyOpts)
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string, opts Options) error {
	if err := validateMatchThreshold(opts.MatchThreshold); err != nil {
		utils.ShowError("Invalid flags", err, nil)
		return err
	}
	face, err := extractLargestFace(ctx, imagePath, opts)
	if err != nil {
		return err
	}

	id, label, dist, err := DB.FindClosestIdentity(ctx, face.Embedding)
	if err != nil {
		utils.ShowError("Database search failed", err, nil)
		return err
	}
	if id == -1 {
		fmt.Println("❌ No known faces in database.")
		return nil
	}

	confidence := matcher.Confidence(dist, opts.MatchThreshold)
	if dist >= opts.MatchThreshold {
		fmt.Printf("❌ No match. Closest is %s (ID: %d) at distance %.3f (%.0f%%)\n", label, id, dist, confidence*100)
		return nil
	}
	fmt.Printf("✅ Found Match: %s (ID: %d) distance %.3f, confidence %.0f%%\n", label, id, dist, confidence*100)
	return nil
}
