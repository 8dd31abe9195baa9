package git

import (
	"context"
	"fmt"
	"strings"
)

// CheckRefFormat validates a branch name the way git itself would, via
// `git check-ref-format --branch <name>`. This runs even when no Repository
// is open yet (branch names are validated before a worktree/repo exists on
// disk in some callers), so it shells out directly rather than through a
// bound Repository.
func CheckRefFormat(ctx context.Context, branch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if _, err := runGitCLIWithContext(ctx, "", []string{"check-ref-format", "--branch", branch}); err != nil {
		return fmt.Errorf("invalid branch name %q: %w", branch, err)
	}
	return nil
}

// BranchExists reports whether a local branch with the given name exists.
// Uses `git show-ref --verify --quiet refs/heads/<branch>`, whose exit code
// alone distinguishes "exists" from "does not exist" (both are not errors
// from the caller's point of view).
func (r *Repository) BranchExists(branch string) (bool, error) {
	if err := ValidateBranchName(branch); err != nil {
		return false, err
	}
	_, err := r.runGitCommand("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	// show-ref exits non-zero both on "ref not found" and on other failures;
	// since --quiet suppresses stderr output describing which, treat any
	// failure here as "does not exist" rather than propagating a spurious
	// error for the overwhelmingly common case.
	return false, nil
}

// CreateBranchBare creates a new local branch pointing at baseRef without
// checking it out. Executes: git branch <branch> <baseRef>
func (r *Repository) CreateBranchBare(branch, baseRef string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if err := ValidateCommitish(baseRef); err != nil {
		return err
	}
	if _, err := r.runGitCommand("branch", branch, baseRef); err != nil {
		return fmt.Errorf("failed to create branch %q: %w", branch, err)
	}
	return nil
}

// CheckoutBranch switches to an existing local branch.
// Executes: git checkout <branch>
func (r *Repository) CheckoutBranch(branch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if _, err := r.runGitCommand("checkout", branch); err != nil {
		return fmt.Errorf("failed to checkout branch %q: %w", branch, err)
	}
	return nil
}

// CheckoutNewBranchFrom creates branch at baseRef and switches to it.
// Executes: git checkout -b <branch> <baseRef>
func (r *Repository) CheckoutNewBranchFrom(branch, baseRef string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if err := ValidateCommitish(baseRef); err != nil {
		return err
	}
	if _, err := r.runGitCommand("checkout", "-b", branch, baseRef); err != nil {
		return fmt.Errorf("failed to checkout new branch %q from %q: %w", branch, baseRef, err)
	}
	return nil
}

// HasUncommittedChangesAt reports whether the worktree rooted at dir has
// uncommitted changes, without requiring a Repository bound to that path.
// On any failure (e.g. the worktree was removed out-of-band), it reports
// clean rather than propagating the error, matching the enumeration's
// policy of treating a stat/status failure as "not dirty" rather than
// aborting the whole listing.
func HasUncommittedChangesAt(dir string) bool {
	output, err := runGitCLI(dir, []string{"status", "--porcelain"})
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) != ""
}
