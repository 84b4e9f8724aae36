package workflow

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned when a completed run did not appear inside
// the wait budget.
var ErrWaitTimeout = errors.New("timed out waiting for completed run")

// WaitForCompletedRun polls until the latest run for (workflow, branch)
// reaches a completed status or the timeout elapses. Only the newest run
// satisfies the wait: an older completed run in the listing describes a
// state the in-flight run is about to supersede, so returning it would
// hand the caller a stale backlog. Connectivity errors during polling are
// retried within the poll budget; any other error kind aborts immediately.
func WaitForCompletedRun(ctx context.Context, c Client, workflow, branch string, limit int, poll, timeout time.Duration) (*RunInfo, error) {
	return waitForRun(ctx, c, workflow, branch, limit, poll, timeout, func(runs []RunInfo) *RunInfo {
		if len(runs) > 0 && runs[0].Completed() {
			return &runs[0]
		}
		return nil
	})
}

// WaitForNewCompletedRun polls until a completed run with a head commit
// different from prevSHA appears. Used after a fix command pushes a commit
// to wait for the CI signal about the new state.
func WaitForNewCompletedRun(ctx context.Context, c Client, workflow, branch, prevSHA string, limit int, poll, timeout time.Duration) (*RunInfo, error) {
	return waitForRun(ctx, c, workflow, branch, limit, poll, timeout, func(runs []RunInfo) *RunInfo {
		for i := range runs {
			if runs[i].Completed() && runs[i].HeadSHA != prevSHA {
				return &runs[i]
			}
		}
		return nil
	})
}

func waitForRun(ctx context.Context, c Client, workflow, branch string, limit int, poll, timeout time.Duration, pick func([]RunInfo) *RunInfo) (*RunInfo, error) {
	if poll <= 0 {
		poll = 15 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		runs, err := c.ListRuns(ctx, workflow, branch, limit)
		switch {
		case err == nil:
			if picked := pick(runs); picked != nil {
				run := *picked
				return &run, nil
			}
		case IsConnectivityError(err):
			// Transient; keep polling until the budget runs out.
		default:
			return nil, err
		}

		if time.Now().Add(poll).After(deadline) {
			return nil, ErrWaitTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}
