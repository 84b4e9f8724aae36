package main

import (
	"context"
	"os"
	"time"

	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/triage"
	"github.com/spf13/cobra"
)

var (
	triageRepo        string
	triageBranch      string
	triageWorkflow    string
	triageMode        string
	triagePlanID      string
	triageFixCommand  []string
	triageMaxAttempts int
	triageRunLimit    int
	triagePollSecs    int
	triageWaitSecs    int
	triageFixTimeout  int
	triageOut         string
)

var triageLoopCmd = &cobra.Command{
	Use:   "triage-loop",
	Short: "Run the bounded triage loop against a CI workflow",
	Long: `Poll the latest completed run of a CI workflow, read its backlog
artifact, and optionally run an allowlisted fix command between attempts.
The loop terminates when the backlog is empty, when it is blocked, or when
the attempt budget is exhausted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if triageRepo == "" || triageBranch == "" || triageWorkflow == "" {
			failValidation("--repo, --branch, and --workflow are required")
		}

		pol := loadPolicy()
		engine := triage.NewEngine(newWorkflowClient(triageRepo), pol)
		engine.Runner = &triage.ExecRunner{Timeout: time.Duration(triageFixTimeout) * time.Second}

		rpt := engine.Run(context.Background(), triage.Params{
			Repo:         triageRepo,
			Branch:       triageBranch,
			Workflow:     triageWorkflow,
			Mode:         triageMode,
			PlanID:       triagePlanID,
			FixCommand:   triageFixCommand,
			MaxAttempts:  triageMaxAttempts,
			RunListLimit: triageRunLimit,
			PollInterval: time.Duration(triagePollSecs) * time.Second,
			WaitTimeout:  time.Duration(triageWaitSecs) * time.Second,
		})

		if triageOut != "" {
			if err := atomicfile.WriteJSON(triageOut, rpt); err != nil {
				failValidation("failed to write report: %v", err)
			}
		}
		printJSON(rpt)
		if !rpt.OK {
			os.Exit(exitUnresolved)
		}
	},
}

func init() {
	triageLoopCmd.Flags().StringVar(&triageRepo, "repo", "", "Repository as owner/name")
	triageLoopCmd.Flags().StringVar(&triageBranch, "branch", "", "Branch whose CI signal is polled")
	triageLoopCmd.Flags().StringVar(&triageWorkflow, "workflow", "", "Workflow file name, e.g. triage.yml")
	triageLoopCmd.Flags().StringVar(&triageMode, "mode", "report-only", "Loop mode label recorded in the report")
	triageLoopCmd.Flags().StringVar(&triagePlanID, "plan-id", "", "Plan identifier passed to the fix command")
	triageLoopCmd.Flags().StringArrayVar(&triageFixCommand, "fix-command", nil, "Fix command argv element (repeat per argument; no shell)")
	triageLoopCmd.Flags().IntVar(&triageMaxAttempts, "max-attempts", 3, "Attempt budget")
	triageLoopCmd.Flags().IntVar(&triageRunLimit, "run-list-limit", 10, "How many recent runs to inspect per poll")
	triageLoopCmd.Flags().IntVar(&triagePollSecs, "poll-seconds", 15, "Seconds between run list polls")
	triageLoopCmd.Flags().IntVar(&triageWaitSecs, "wait-timeout-seconds", 1200, "Budget for waiting on a completed run")
	triageLoopCmd.Flags().IntVar(&triageFixTimeout, "fix-timeout-seconds", 1800, "Hard timeout for the fix command itself")
	triageLoopCmd.Flags().StringVar(&triageOut, "out", "", "Also write the terminal report to this path")
	rootCmd.AddCommand(triageLoopCmd)
}
