package cmd

import (
	"fmt"
	"strconv"

	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <identity_id> <label>",
	Short:       "Rename an enrolled identity",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.ShowError("Invalid identity ID", err, nil)
			return err
		}
		if err := DB.RenameIdentity(cmd.Context(), id, args[1]); err != nil {
			utils.ShowError("Failed to label identity", err, nil)
			return err
		}
		fmt.Printf("✅ Identity %d labeled as '%s'\n", id, args[1])
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:         "forget <identity_id>",
	Short:       "Remove an enrolled identity",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{requiresDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.ShowError("Invalid identity ID", err, nil)
			return err
		}
		if err := DB.DeleteIdentity(cmd.Context(), id); err != nil {
			utils.ShowError("Failed to forget identity", err, nil)
			return err
		}
		fmt.Printf("🗑️  Identity %d forgotten\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(forgetCmd)
}
