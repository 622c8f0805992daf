package cmd

import (
	"fmt"

	"github.com/andresmejia3/vigil/internal/knownfaces"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:         "import <encodings_file>",
	Short:       "Load a known-face JSON file into the database",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		set, err := knownfaces.Load(args[0])
		if err != nil {
			utils.ShowError("Failed to read encodings file", err, nil)
			return err
		}
		if err := DB.ImportKnownFaces(cmd.Context(), set); err != nil {
			utils.ShowError("Failed to import known faces", err, nil)
			return err
		}
		fmt.Printf("✅ Imported %d known faces from %s\n", set.Len(), args[0])
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:         "export <encodings_file>",
	Short:       "Write every known face in the database to a JSON file",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		set, err := DB.KnownFaces(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to read known faces", err, nil)
			return err
		}
		if err := knownfaces.Save(args[0], set); err != nil {
			utils.ShowError("Failed to write encodings file", err, nil)
			return err
		}
		fmt.Printf("✅ Exported %d known faces to %s\n", set.Len(), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
