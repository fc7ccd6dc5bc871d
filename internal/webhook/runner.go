package webhook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/coderisk/internal/review/pipeline"
)

// Runner checks a PR's head ref out into a per-job work tree, computes the
// base...head diff, runs the Pipeline Driver, and posts the final report to
// the PR as a single issue comment. It does not call BuildReviewComments and
// posts no line-level review comments. Grounded on
// original_source/github_pat/review_runner.py's run_review_for_pr and
// internal/git/diff.go's os/exec convention for shelling out to git.
type Runner struct {
	driver   *pipeline.Driver
	gh       *github.Client
	workRoot string
	log      *logrus.Entry
}

// NewRunner builds a Runner rooted at workRoot (a scratch directory for
// per-job checkouts).
func NewRunner(driver *pipeline.Driver, gh *github.Client, workRoot string) *Runner {
	return &Runner{driver: driver, gh: gh, workRoot: workRoot, log: logrus.WithField("component", "runner")}
}

// Run implements JobRunner for Server.
func (r *Runner) Run(ctx context.Context, job Job) error {
	owner, repo, err := splitRepoFullName(job.RepoFullName)
	if err != nil {
		return err
	}

	pr, _, err := r.gh.PullRequests.Get(ctx, owner, repo, job.PRNumber)
	if err != nil {
		return fmt.Errorf("webhook: fetch PR: %w", err)
	}

	workDir := filepath.Join(r.workRoot, job.ID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("webhook: create work dir: %w", err)
	}

	cloneURL := pr.GetBase().GetRepo().GetCloneURL()
	if err := r.checkout(ctx, workDir, cloneURL, pr.GetBase().GetRef(), pr.GetHead().GetRef()); err != nil {
		return err
	}

	diffText, err := r.diff(ctx, workDir, "origin/"+pr.GetBase().GetRef(), "origin/"+pr.GetHead().GetRef())
	if err != nil {
		return err
	}
	if strings.TrimSpace(diffText) == "" {
		return nil
	}

	read := func(path string) (string, error) {
		b, err := os.ReadFile(filepath.Join(workDir, path))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	state := r.driver.Run(ctx, diffText, nil, read)

	if _, _, err := r.gh.Issues.CreateComment(ctx, owner, repo, job.PRNumber, &github.IssueComment{
		Body: github.String(state.FinalReport),
	}); err != nil {
		r.log.WithError(err).Warn("posting summary comment failed")
	}

	return nil
}

func (r *Runner) checkout(ctx context.Context, workDir, cloneURL, baseRef, headRef string) error {
	if _, err := os.Stat(filepath.Join(workDir, ".git")); err != nil {
		if err := runGit(ctx, workDir, "", "clone", "--quiet", cloneURL, "."); err != nil {
			return err
		}
	}
	if err := runGit(ctx, workDir, "", "fetch", "--quiet", "origin", baseRef, headRef); err != nil {
		return err
	}
	return runGit(ctx, workDir, "", "checkout", "--quiet", "origin/"+headRef)
}

func (r *Runner) diff(ctx context.Context, workDir, baseRef, headRef string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", baseRef+"..."+headRef)
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("webhook: git diff failed: %w", err)
	}
	return string(out), nil
}

func runGit(ctx context.Context, dir, _ string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("webhook: git %s failed: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

func splitRepoFullName(full string) (owner, repo string, err error) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("webhook: invalid repo_full_name %q", full)
	}
	return parts[0], parts[1], nil
}
