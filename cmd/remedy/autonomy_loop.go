package main

import (
	"context"
	"os"
	"time"

	"github.com/remedy-run/remedy/pkg/controller"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/remedy-run/remedy/pkg/triage"
	"github.com/spf13/cobra"
)

var (
	autoPlanID          string
	autoRepo            string
	autoWorkflow        string
	autoBranchBase      string
	autoMode            string
	autoMaxRounds       int
	autoMaxHours        float64
	autoMaxTasks        int
	autoCheckpointEvery int
	autoBranchPrefix    string
	autoFixCommand      []string
	autoRunLimit        int
	autoPollSecs        int
	autoWaitSecs        int
	autoMaxAgeHours     float64
	autoMaxDraftChars   int
)

var autonomyLoopCmd = &cobra.Command{
	Use:   "autonomy-loop",
	Short: "Run guarded remediation rounds under policy caps",
	Long: `Run up to --max-rounds rounds of triage loop plus packet build,
checkpointing each round into the queue. Budgets are clamped by the policy
hard caps; a violation denies the run before any side effect.`,
	Run: func(cmd *cobra.Command, args []string) {
		if autoPlanID == "" || autoRepo == "" || autoWorkflow == "" || autoBranchBase == "" {
			failValidation("--plan-id, --repo, --workflow, and --branch-base are required")
		}

		pol := loadPolicy()
		engine := triage.NewEngine(newWorkflowClient(autoRepo), pol)
		ctl := controller.New(pol, runtime, engine)

		cr := ctl.Run(context.Background(), controller.Config{
			PlanID:          autoPlanID,
			Repo:            autoRepo,
			Workflow:        autoWorkflow,
			BranchBase:      autoBranchBase,
			Mode:            autoMode,
			MaxRounds:       autoMaxRounds,
			MaxHours:        autoMaxHours,
			MaxTasks:        autoMaxTasks,
			CheckpointEvery: autoCheckpointEvery,
			BranchPrefix:    autoBranchPrefix,
			FixCommand:      autoFixCommand,
			RunListLimit:    autoRunLimit,
			PollInterval:    time.Duration(autoPollSecs) * time.Second,
			WaitTimeout:     time.Duration(autoWaitSecs) * time.Second,
			MaxAgeHours:     autoMaxAgeHours,
			MaxDraftChars:   autoMaxDraftChars,
		})

		printJSON(cr)
		if cr.Reason != report.ReasonResolved {
			os.Exit(exitUnresolved)
		}
	},
}

func init() {
	autonomyLoopCmd.Flags().StringVar(&autoPlanID, "plan-id", "", "Plan identifier for this remediation effort")
	autonomyLoopCmd.Flags().StringVar(&autoRepo, "repo", "", "Repository as owner/name")
	autonomyLoopCmd.Flags().StringVar(&autoWorkflow, "workflow", "", "Workflow file name polled for the backlog signal")
	autonomyLoopCmd.Flags().StringVar(&autoBranchBase, "branch-base", "", "Base branch the loop operates against")
	autonomyLoopCmd.Flags().StringVar(&autoMode, "mode", "report-only", "Requested mode: report-only or fix")
	autonomyLoopCmd.Flags().IntVar(&autoMaxRounds, "max-rounds", 3, "Round budget (clamped by policy)")
	autonomyLoopCmd.Flags().Float64Var(&autoMaxHours, "max-hours", 2, "Wall-clock budget in hours (clamped by policy)")
	autonomyLoopCmd.Flags().IntVar(&autoMaxTasks, "max-tasks", 10, "Task budget (clamped by policy)")
	autonomyLoopCmd.Flags().IntVar(&autoCheckpointEvery, "checkpoint-every", 1, "Copy every Nth checkpoint into the inbox queue")
	autonomyLoopCmd.Flags().StringVar(&autoBranchPrefix, "branch-prefix", controller.DefaultBranchPrefix, "Working branch prefix")
	autonomyLoopCmd.Flags().StringArrayVar(&autoFixCommand, "fix-command", nil, "Fix command argv element (repeat per argument; no shell)")
	autonomyLoopCmd.Flags().IntVar(&autoRunLimit, "run-list-limit", 10, "How many recent runs to inspect per poll")
	autonomyLoopCmd.Flags().IntVar(&autoPollSecs, "poll-seconds", 15, "Seconds between run list polls")
	autonomyLoopCmd.Flags().IntVar(&autoWaitSecs, "wait-timeout-seconds", 1200, "Budget for waiting on a completed run")
	autonomyLoopCmd.Flags().Float64Var(&autoMaxAgeHours, "max-age-hours", 24, "Maximum source report age for packet building")
	autonomyLoopCmd.Flags().IntVar(&autoMaxDraftChars, "max-draft-chars", 4000, "Draft text budget")
	rootCmd.AddCommand(autonomyLoopCmd)
}
