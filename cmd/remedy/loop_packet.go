package main

import (
	"errors"
	"os"
	"time"

	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/packet"
	"github.com/remedy-run/remedy/pkg/probe"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/spf13/cobra"
)

var (
	packetSources       []string
	packetPrefer        string
	packetMaxAgeHours   float64
	packetMaxDraftChars int
	packetAllowAutoSend bool
	packetOut           string
	packetRepo          string
	packetWorkflow      string
	packetBranch        string
	packetProbeDir      string
	packetMutationJSON  string
	packetDevLogDir     string
)

var loopPacketCmd = &cobra.Command{
	Use:   "loop-packet",
	Short: "Build a risk-classified handoff packet from a report artifact",
	Long: `Scan candidate report artifacts, select the most preferred recent valid
one, classify its risk, and emit a size-bounded packet. A source older than
--max-age-hours is rejected: packets must describe an actionable state.
When no candidate parses, the packet is synthesized from live status probes
instead, with a warning.`,
	Run: func(cmd *cobra.Command, args []string) {
		prefer := report.SourceKind(packetPrefer)
		switch prefer {
		case report.SourceTriageLoop, report.SourceMutationLoop, report.SourceTriage, "":
		default:
			failValidation("unknown --prefer-source %q", packetPrefer)
		}

		pkt, err := packet.Build(packet.Options{
			Sources:       packetSources,
			PreferSource:  prefer,
			MaxAgeHours:   packetMaxAgeHours,
			MaxDraftChars: packetMaxDraftChars,
			AllowAutoSend: packetAllowAutoSend,
			Snapshot:      liveSnapshot(cmd),
		})
		if err != nil {
			var builderErr *packet.Error
			if errors.As(err, &builderErr) {
				printJSON(map[string]interface{}{
					"ok":     false,
					"reason": builderErr.Reason,
					"error":  builderErr.Message,
				})
				os.Exit(exitUnresolved)
			}
			failValidation("packet build failed: %v", err)
		}

		if packetOut != "" {
			if err := atomicfile.WriteJSON(packetOut, pkt); err != nil {
				failValidation("failed to write packet: %v", err)
			}
		}
		printJSON(pkt)
	},
}

// liveSnapshot assembles the probe collector behind the builder's fallback
// path. Probes are read-only; a probe that cannot observe its signal
// surfaces as a finding in the synthesized snapshot, never as a build
// failure.
func liveSnapshot(cmd *cobra.Command) func() *report.TriageSnapshot {
	return func() *report.TriageSnapshot {
		probes := []probe.Probe{probe.GitStatus(packetProbeDir)}
		if packetRepo != "" && packetWorkflow != "" {
			probes = append(probes, probe.RunList(newWorkflowClient(packetRepo), packetWorkflow, packetBranch, 10))
		}
		if packetMutationJSON != "" {
			probes = append(probes, probe.MutationSummary(packetMutationJSON))
		}
		if packetDevLogDir != "" {
			probes = append(probes, probe.DevLogScan(packetDevLogDir, 5))
		}

		collector := &probe.Collector{Probes: probes}
		return probe.Snapshot(collector.Collect(cmd.Context(), true), time.Now())
	}
}

func init() {
	loopPacketCmd.Flags().StringArrayVar(&packetSources, "source-json", nil, "Candidate source artifact path (repeatable)")
	loopPacketCmd.Flags().StringVar(&packetPrefer, "prefer-source", "triage-loop", "Preferred source kind: triage-loop, mutation-loop, triage")
	loopPacketCmd.Flags().Float64Var(&packetMaxAgeHours, "max-age-hours", 24, "Maximum source age")
	loopPacketCmd.Flags().IntVar(&packetMaxDraftChars, "max-draft-chars", 4000, "Draft text budget")
	loopPacketCmd.Flags().BoolVar(&packetAllowAutoSend, "allow-auto-send", false, "Permit auto-send evaluation")
	loopPacketCmd.Flags().StringVar(&packetOut, "out", "", "Also write the packet to this path")
	loopPacketCmd.Flags().StringVar(&packetRepo, "repo", "", "Repository as owner/name, enables the CI runs probe")
	loopPacketCmd.Flags().StringVar(&packetWorkflow, "workflow", "", "Workflow file name for the CI runs probe")
	loopPacketCmd.Flags().StringVar(&packetBranch, "branch", "", "Branch for the CI runs probe")
	loopPacketCmd.Flags().StringVar(&packetProbeDir, "probe-dir", ".", "Working tree inspected by the git probe")
	loopPacketCmd.Flags().StringVar(&packetMutationJSON, "mutation-json", "", "Mutation report consulted by the live snapshot")
	loopPacketCmd.Flags().StringVar(&packetDevLogDir, "dev-log-dir", "", "Development log directory scanned by the live snapshot")
	rootCmd.AddCommand(loopPacketCmd)
}
