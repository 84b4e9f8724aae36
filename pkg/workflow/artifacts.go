package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v68/github"
)

// maxArtifactBytes bounds a single artifact archive. Backlog artifacts are
// small; anything larger is a sign the wrong artifact is being consumed.
const maxArtifactBytes = 64 << 20

// DownloadArtifacts downloads every artifact attached to the run and
// extracts each one into destDir/<artifact-name>/.
func (c *GitHubClient) DownloadArtifacts(ctx context.Context, runID int64, destDir string) error {
	opts := &github.ListOptions{PerPage: 100}

	list, _, err := c.gh.Actions.ListWorkflowRunArtifacts(ctx, c.owner, c.repo, runID, opts)
	if err != nil {
		return classify("list run artifacts", err)
	}
	if list == nil {
		return &MalformedError{What: "artifact list", Err: fmt.Errorf("empty response")}
	}

	for _, artifact := range list.Artifacts {
		if artifact == nil || artifact.GetExpired() {
			continue
		}
		data, err := c.downloadArtifactArchive(ctx, artifact.GetID())
		if err != nil {
			return fmt.Errorf("failed to download artifact %q: %w", artifact.GetName(), err)
		}
		target := filepath.Join(destDir, artifact.GetName())
		if err := extractZip(data, target); err != nil {
			return fmt.Errorf("failed to extract artifact %q: %w", artifact.GetName(), err)
		}
	}
	return nil
}

// downloadArtifactArchive fetches one artifact's ZIP archive. The archive
// endpoint answers with a redirect to a pre-signed URL; the Authorization
// header must not follow the redirect to avoid leaking the token to
// third-party hosts.
func (c *GitHubClient) downloadArtifactArchive(ctx context.Context, artifactID int64) ([]byte, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/actions/artifacts/%d/zip",
		strings.TrimSuffix(c.baseURL, "/"), c.owner, c.repo, artifactID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	// Disable automatic redirect following: the pre-signed URL must be
	// fetched without the Authorization header.
	noRedirect := *c.rawClient
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: "download artifact archive", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return readArchiveBody(resp.Body)

	case http.StatusFound, http.StatusTemporaryRedirect:
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, &MalformedError{What: "artifact redirect", Err: fmt.Errorf("status %d without Location header", resp.StatusCode)}
		}
		redirectReq, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create redirect request: %w", err)
		}
		redirectResp, err := c.rawClient.Do(redirectReq)
		if err != nil {
			return nil, &ConnectivityError{Op: "download artifact from redirect", Err: err}
		}
		defer redirectResp.Body.Close()
		if redirectResp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: redirectResp.StatusCode, Message: "artifact download failed"}
		}
		return readArchiveBody(redirectResp.Body)

	case http.StatusNotFound:
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "artifact not found"}

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
}

func readArchiveBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxArtifactBytes+1))
	if err != nil {
		return nil, &ConnectivityError{Op: "read artifact archive", Err: err}
	}
	if len(data) > maxArtifactBytes {
		return nil, &MalformedError{What: "artifact archive", Err: fmt.Errorf("exceeds %d bytes", maxArtifactBytes)}
	}
	return data, nil
}

// extractZip unpacks a ZIP archive into destDir, rejecting entries that
// would escape it.
func extractZip(data []byte, destDir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &MalformedError{What: "artifact archive", Err: err}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	for _, file := range reader.File {
		cleaned := filepath.Clean(file.Name)
		if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
			return &MalformedError{What: "artifact archive", Err: fmt.Errorf("entry %q escapes destination", file.Name)}
		}
		target := filepath.Join(destDir, cleaned)

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
		}

		rc, err := file.Open()
		if err != nil {
			return &MalformedError{What: "artifact archive entry " + file.Name, Err: err}
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArtifactBytes))
		rc.Close()
		if err != nil {
			return &MalformedError{What: "artifact archive entry " + file.Name, Err: err}
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
	}
	return nil
}
