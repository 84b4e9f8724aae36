package main

import (
	"fmt"
	"os"

	"github.com/remedy-run/remedy/pkg/log"
	"github.com/remedy-run/remedy/pkg/runtimecfg"
	"github.com/spf13/cobra"
)

// Exit codes shared by every subcommand.
const (
	exitOK         = 0 // success / resolved
	exitUnresolved = 1 // ran, but terminal state is unresolved or failed
	exitValidation = 2 // input or environment validation error
)

var (
	logLevel   string
	logFormat  string
	policyPath string

	// runtime is constructed once at process entry; no component reads
	// the environment after this.
	runtime runtimecfg.RuntimeConfig
)

var rootCmd = &cobra.Command{
	Use:   "remedy",
	Short: "Bounded autonomous remediation control plane",
	Long: `remedy supervises a remote CI backlog signal, drives a small number of
guarded remediation rounds, and hands decisions off through size-bounded,
replay-protected packets.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		runtime = runtimecfg.FromEnv()
		return log.Init(log.Config{Level: log.Level(logLevel), Format: logFormat})
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console or json")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", ".remedy/policy.yaml", "Path to the policy document")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitValidation)
	}
}
