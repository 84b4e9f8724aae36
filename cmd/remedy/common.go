package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/remedy-run/remedy/pkg/policy"
	"github.com/remedy-run/remedy/pkg/workflow"
)

// printJSON writes v as indented JSON to stdout. Terminal reports always
// go to stdout; logs go to stderr.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
	}
}

// failValidation prints a validation error and exits with code 2. Nothing
// has had side effects at this point.
func failValidation(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(exitValidation)
}

// loadPolicy reads the policy document from --policy, falling back to the
// built-in defaults when the flag was left at its default and no file
// exists there.
func loadPolicy() *policy.Policy {
	pol, err := policy.Load(policyPath)
	if err == nil {
		return pol
	}
	if os.IsNotExist(unwrapPathError(err)) && policyPath == ".remedy/policy.yaml" {
		return policy.Default()
	}
	failValidation("failed to load policy: %v", err)
	return nil
}

func unwrapPathError(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

// splitRepo parses an "owner/name" repository reference.
func splitRepo(repo string) (string, string) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		failValidation("invalid repository %q, expected owner/name", repo)
	}
	return parts[0], parts[1]
}

// newWorkflowClient builds the GitHub-backed workflow client for repo.
func newWorkflowClient(repo string) workflow.Client {
	owner, name := splitRepo(repo)
	client, err := workflow.NewGitHubClient(owner, name, runtime.GitHubToken)
	if err != nil {
		failValidation("failed to create workflow client: %v", err)
	}
	return client
}
