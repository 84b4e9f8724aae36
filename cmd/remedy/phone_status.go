package main

import (
	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/phonestatus"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/spf13/cobra"
)

var (
	phoneInput  string
	phoneView   string
	phoneOutDir string
)

var phoneStatusCmd = &cobra.Command{
	Use:   "phone-status",
	Short: "Project a phone-status payload into reduced views",
	Long: `Read a persisted phone-status payload and either print one projected
view or write the full projection bundle (all views, trace log, and a
rendered summary) to a directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		if phoneInput == "" {
			failValidation("--input is required")
		}

		var payload report.PhoneStatusPayload
		if err := atomicfile.ReadJSON(phoneInput, &payload); err != nil {
			failValidation("failed to read payload: %v", err)
		}

		if phoneOutDir != "" {
			if err := phonestatus.WriteBundle(phoneOutDir, &payload); err != nil {
				failValidation("failed to write bundle: %v", err)
			}
		}

		projected, err := phonestatus.Project(&payload, phonestatus.View(phoneView))
		if err != nil {
			failValidation("%v", err)
		}
		printJSON(projected)
	},
}

func init() {
	phoneStatusCmd.Flags().StringVar(&phoneInput, "input", "", "Path to the phone-status payload JSON")
	phoneStatusCmd.Flags().StringVar(&phoneView, "view", "compact", "View: compact, trace, actions, full")
	phoneStatusCmd.Flags().StringVar(&phoneOutDir, "out-dir", "", "Also write the full projection bundle here")
	rootCmd.AddCommand(phoneStatusCmd)
}
