// Package workflow wraps the remote CI system behind a small typed client:
// run listing, artifact download, workflow dispatch, and a mutable
// repository variable used to mirror the autonomy mode. Connectivity,
// not-found, and malformed-response failures are distinguishable error
// kinds so callers can decide what is retryable.
package workflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Run statuses and conclusions surfaced by the backend.
const (
	StatusCompleted = "completed"

	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
)

// RunInfo is the reduced view of one CI workflow run.
type RunInfo struct {
	ID         int64     `json:"id"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	HeadSHA    string    `json:"head_sha"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Completed reports whether the run has reached a terminal state.
func (r *RunInfo) Completed() bool {
	return r.Status == StatusCompleted
}

// Client is the abstract workflow backend consumed by the triage loop
// engine and the controller action executor.
type Client interface {
	// ListRuns returns up to limit runs for the workflow file on the
	// branch, most recent first.
	ListRuns(ctx context.Context, workflow, branch string, limit int) ([]RunInfo, error)

	// DownloadArtifacts downloads and extracts every artifact of the run
	// into destDir, one subdirectory per artifact name.
	DownloadArtifacts(ctx context.Context, runID int64, destDir string) error

	// Dispatch triggers a workflow_dispatch event for the workflow file
	// on ref.
	Dispatch(ctx context.Context, workflow, ref string, inputs map[string]interface{}) error

	// SetVariable updates (or creates) a mutable repository variable.
	SetVariable(ctx context.Context, name, value string) error
}

// GitHubClient implements Client against the GitHub Actions API.
type GitHubClient struct {
	owner      string
	repo       string
	token      string
	baseURL    string
	gh         *github.Client
	httpClient *http.Client

	// rawClient performs artifact archive fetches with a manually set
	// token header, so the credential never rides along to pre-signed
	// redirect hosts.
	rawClient *http.Client
}

// Option configures a GitHubClient.
type Option func(*GitHubClient)

// WithBaseURL points the client at a different API endpoint (testing,
// GitHub Enterprise).
func WithBaseURL(baseURL string) Option {
	return func(c *GitHubClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *GitHubClient) {
		c.httpClient = hc
	}
}

// NewGitHubClient creates a workflow client for owner/repo authenticated
// with token.
func NewGitHubClient(owner, repo, token string, opts ...Option) (*GitHubClient, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}

	c := &GitHubClient{
		owner:   owner,
		repo:    repo,
		token:   token,
		baseURL: "https://api.github.com",
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		hc := &http.Client{Timeout: 30 * time.Second}
		if token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			hc = oauth2.NewClient(context.Background(), ts)
			hc.Timeout = 30 * time.Second
		}
		c.httpClient = hc
	}
	c.rawClient = &http.Client{Timeout: 60 * time.Second}

	gh := github.NewClient(c.httpClient)
	if c.baseURL != "https://api.github.com" {
		base, err := url.Parse(strings.TrimSuffix(c.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("failed to parse API base URL: %w", err)
		}
		gh.BaseURL = base
	}
	c.gh = gh

	return c, nil
}

// ListRuns returns up to limit runs for the workflow file on branch,
// most recent first.
func (c *GitHubClient) ListRuns(ctx context.Context, workflow, branch string, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	opts := &github.ListWorkflowRunsOptions{
		Branch:      branch,
		ListOptions: github.ListOptions{PerPage: limit},
	}

	runs, _, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.owner, c.repo, workflow, opts)
	if err != nil {
		return nil, classify("list workflow runs", err)
	}
	if runs == nil {
		return nil, &MalformedError{What: "workflow run list", Err: fmt.Errorf("empty response")}
	}

	infos := make([]RunInfo, 0, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		if run == nil {
			continue
		}
		infos = append(infos, RunInfo{
			ID:         run.GetID(),
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
			HeadSHA:    run.GetHeadSHA(),
			URL:        run.GetHTMLURL(),
			CreatedAt:  run.GetCreatedAt().Time,
		})
		if len(infos) >= limit {
			break
		}
	}
	return infos, nil
}

// Dispatch triggers a workflow_dispatch event for the workflow file on ref.
func (c *GitHubClient) Dispatch(ctx context.Context, workflow, ref string, inputs map[string]interface{}) error {
	event := github.CreateWorkflowDispatchEventRequest{
		Ref:    ref,
		Inputs: inputs,
	}
	_, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.owner, c.repo, workflow, event)
	return classify("dispatch workflow", err)
}

// SetVariable updates the repository variable, creating it when the update
// reports not-found.
func (c *GitHubClient) SetVariable(ctx context.Context, name, value string) error {
	variable := &github.ActionsVariable{Name: name, Value: value}

	_, err := c.gh.Actions.UpdateRepoVariable(ctx, c.owner, c.repo, variable)
	err = classify("update repository variable", err)
	if err == nil {
		return nil
	}
	if !IsNotFoundError(err) {
		return err
	}

	_, err = c.gh.Actions.CreateRepoVariable(ctx, c.owner, c.repo, variable)
	return classify("create repository variable", err)
}
