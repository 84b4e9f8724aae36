package main

import (
	"context"
	"os"

	"github.com/remedy-run/remedy/pkg/action"
	"github.com/remedy-run/remedy/pkg/phonestatus"
	"github.com/remedy-run/remedy/pkg/workflow"
	"github.com/spf13/cobra"
)

var (
	actionName        string
	actionView        string
	actionRepo        string
	actionWorkflow    string
	actionBranch      string
	actionMaxAttempts int
	actionDryRun      bool
)

var controllerActionCmd = &cobra.Command{
	Use:   "controller-action",
	Short: "Execute one policy-gated controller action",
	Long: `Execute one of the fixed controller actions: refresh-status,
dispatch-report-only, pause-loop, or resume-loop. Each action is
independently policy-gated and produces a single report.`,
	Run: func(cmd *cobra.Command, args []string) {
		switch actionName {
		case action.RefreshStatus, action.DispatchReportOnly, action.PauseLoop, action.ResumeLoop:
		default:
			failValidation("unsupported --action %q", actionName)
		}
		switch phonestatus.View(actionView) {
		case phonestatus.ViewCompact, phonestatus.ViewTrace, phonestatus.ViewActions, phonestatus.ViewFull, "":
		default:
			failValidation("unknown --view %q", actionView)
		}

		pol := loadPolicy()

		// refresh-status is a pure local read; the remote client is only
		// needed for actions that may touch the backend.
		var client workflow.Client
		if actionName != action.RefreshStatus {
			if actionRepo == "" {
				failValidation("--repo is required for action %q", actionName)
			}
			client = newWorkflowClient(actionRepo)
		}

		exec := action.New(pol, runtime, client)
		rpt := exec.Execute(context.Background(), action.Request{
			Action:      actionName,
			View:        phonestatus.View(actionView),
			Workflow:    actionWorkflow,
			Branch:      actionBranch,
			MaxAttempts: actionMaxAttempts,
			DryRun:      actionDryRun,
		})

		printJSON(rpt)
		if !rpt.OK {
			os.Exit(exitUnresolved)
		}
	},
}

func init() {
	controllerActionCmd.Flags().StringVar(&actionName, "action", "", "Action: refresh-status, dispatch-report-only, pause-loop, resume-loop")
	controllerActionCmd.Flags().StringVar(&actionView, "view", "compact", "Status view for refresh-status")
	controllerActionCmd.Flags().StringVar(&actionRepo, "repo", "", "Repository as owner/name")
	controllerActionCmd.Flags().StringVar(&actionWorkflow, "workflow", "", "Workflow file to dispatch")
	controllerActionCmd.Flags().StringVar(&actionBranch, "branch", "", "Branch to dispatch against")
	controllerActionCmd.Flags().IntVar(&actionMaxAttempts, "max-attempts", 3, "Dispatch retry budget")
	controllerActionCmd.Flags().BoolVar(&actionDryRun, "dry-run", false, "Record the mode change locally only")
	rootCmd.AddCommand(controllerActionCmd)
}
