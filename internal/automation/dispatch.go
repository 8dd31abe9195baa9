package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"supervibing/internal/apperr"
	"supervibing/internal/git"
	"supervibing/internal/panes"
	"supervibing/internal/workspace"
)

// handlerFunc executes one ExternalCommandRequest variant and returns the
// job's result payload. ws is the workspace snapshot the Worker resolved for
// the job when it dequeued it, so handlers never need to re-resolve it.
type handlerFunc func(ctx context.Context, d *Dispatcher, jobID string, req Request, ws workspace.Snapshot) (json.RawMessage, error)

// dispatchTable is the exhaustive map[Action]handlerFunc dispatch table:
// adding a new action means adding it here, to the Action const block in
// request.go, and to validateRequest in validate.go, all three in lockstep.
var dispatchTable = map[Action]handlerFunc{
	ActionCreatePanes:    handleCreatePanes,
	ActionCreateWorktree: handleCreateWorktree,
	ActionCreateBranch:   handleCreateBranch,
	ActionRunCommand:     handleRunCommand,
}

// Dispatcher holds every collaborator a dispatch handler might need: the
// pane runtime (for RunCommand), and the Frontend Dispatcher (for the two
// variants that must round-trip through the UI).
type Dispatcher struct {
	Panes    *panes.Registry
	Frontend *FrontendDispatcher
}

// Dispatch looks up and executes the handler for req.Action. The caller
// (Worker) has already validated req against the workspace registry.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string, req Request, ws workspace.Snapshot) (json.RawMessage, error) {
	handler, ok := dispatchTable[req.Action]
	if !ok {
		return nil, apperr.New(apperr.KindSystem, fmt.Sprintf("no handler registered for action %q", req.Action))
	}
	return handler(ctx, d, jobID, req, ws)
}

// createPanesPayload is what CreatePanes forwards to the UI over the
// Frontend Dispatcher.
type createPanesPayload struct {
	JobID       string `json:"jobId"`
	WorkspaceID string `json:"workspaceId"`
	PaneCount   int    `json:"paneCount"`
}

func handleCreatePanes(ctx context.Context, d *Dispatcher, jobID string, req Request, ws workspace.Snapshot) (json.RawMessage, error) {
	return d.Frontend.Dispatch(ctx, "create_panes", jobID, createPanesPayload{
		JobID:       jobID,
		WorkspaceID: ws.ID,
		PaneCount:   req.PaneCount,
	})
}

type importWorktreePayload struct {
	JobID       string           `json:"jobId"`
	WorkspaceID string           `json:"workspaceId"`
	Worktree    git.WorktreeInfo `json:"worktree"`
}

func handleCreateWorktree(ctx context.Context, d *Dispatcher, jobID string, req Request, ws workspace.Snapshot) (json.RawMessage, error) {
	if err := git.CheckRefFormat(ctx, req.Branch); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid branch name", err)
	}

	repo, err := git.Open(ws.RepoRoot)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGit, "open repository", err)
	}

	worktreesDir := filepath.Join(ws.RepoRoot, ".worktrees")
	candidateName := git.SanitizeWorktreeDirName(req.Branch)
	basePath := filepath.Join(worktreesDir, candidateName)
	targetPath := git.FindAvailableWorktreePath(basePath)

	switch req.Mode {
	case ModeExistingBranch:
		if err := repo.CreateWorktreeFromBranch(targetPath, req.Branch); err != nil {
			return nil, apperr.Wrap(apperr.KindGit, "git worktree add", err)
		}
	default: // ModeNewBranch and unset both create a new branch
		if err := repo.CreateWorktree(targetPath, req.Branch, req.BaseRefOrHEAD()); err != nil {
			return nil, apperr.Wrap(apperr.KindGit, "git worktree add", err)
		}
	}

	worktrees, err := repo.ListWorktreesWithInfo()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGit, "enumerate worktrees after create", err)
	}
	targetAbs, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSystem, "resolve created worktree path", err)
	}
	var created *git.WorktreeInfo
	for i := range worktrees {
		entryAbs, err := filepath.Abs(worktrees[i].Path)
		if err != nil {
			continue
		}
		if filepath.Clean(entryAbs) == filepath.Clean(targetAbs) {
			created = &worktrees[i]
			break
		}
	}
	if created == nil {
		return nil, apperr.New(apperr.KindGit, "created worktree not found in enumeration")
	}

	if req.OpenAfterCreateOrDefault() {
		if _, err := d.Frontend.Dispatch(ctx, "import_worktree", jobID, importWorktreePayload{
			JobID:       jobID,
			WorkspaceID: ws.ID,
			Worktree:    *created,
		}); err != nil {
			return nil, err
		}
	}

	return json.Marshal(created)
}

type createBranchResult struct {
	Branch      string `json:"branch"`
	Created     bool   `json:"created"`
	CheckedOut  bool   `json:"checkedOut"`
	Message     string `json:"message,omitempty"`
}

func handleCreateBranch(ctx context.Context, d *Dispatcher, jobID string, req Request, ws workspace.Snapshot) (json.RawMessage, error) {
	if err := git.CheckRefFormat(ctx, req.Branch); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid branch name", err)
	}

	repo, err := git.Open(ws.RepoRoot)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGit, "open repository", err)
	}

	exists, err := repo.BranchExists(req.Branch)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGit, "check branch existence", err)
	}

	var result createBranchResult
	switch {
	case req.CheckoutOrDefault() && exists:
		if err := repo.CheckoutBranch(req.Branch); err != nil {
			return nil, apperr.Wrap(apperr.KindGit, "checkout branch", err)
		}
		result = createBranchResult{Branch: req.Branch, Created: false, CheckedOut: true}
	case req.CheckoutOrDefault() && !exists:
		if err := repo.CheckoutNewBranchFrom(req.Branch, req.BaseRefOrHEAD()); err != nil {
			return nil, apperr.Wrap(apperr.KindGit, "checkout new branch", err)
		}
		result = createBranchResult{Branch: req.Branch, Created: true, CheckedOut: true}
	case !req.CheckoutOrDefault() && exists:
		result = createBranchResult{Branch: req.Branch, Created: false, CheckedOut: false, Message: "branch already exists"}
	default: // !checkout && !exists
		if err := repo.CreateBranchBare(req.Branch, req.BaseRefOrHEAD()); err != nil {
			return nil, apperr.Wrap(apperr.KindGit, "create branch", err)
		}
		result = createBranchResult{Branch: req.Branch, Created: true, CheckedOut: false}
	}

	return json.Marshal(result)
}

func handleRunCommand(ctx context.Context, d *Dispatcher, jobID string, req Request, ws workspace.Snapshot) (json.RawMessage, error) {
	outcomes := d.Panes.RunCommandOnPanes(ws.PaneIDs, req.Command, req.ExecuteOrDefault())
	return json.Marshal(outcomes)
}
