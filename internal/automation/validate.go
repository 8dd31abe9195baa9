package automation

import (
	"fmt"
	"strings"

	"supervibing/internal/apperr"
	"supervibing/internal/workspace"
)

// validateRequest applies validation in order: body shape (already enforced
// by DecodeRequest before this is called), workspace existence,
// variant-specific rules, then queue capacity. It returns the resolved
// workspace snapshot so callers don't have to look it up twice.
func validateRequest(req Request, workspaces *workspace.Registry, queue *Queue) (workspace.Snapshot, error) {
	ws, ok := workspaces.Get(req.WorkspaceID)
	if !ok {
		return workspace.Snapshot{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("workspace %q not found", req.WorkspaceID))
	}

	switch req.Action {
	case ActionCreatePanes:
		if req.PaneCount < 1 || req.PaneCount > 16 {
			return workspace.Snapshot{}, newValidationErr("paneCount must be between 1 and 16")
		}
	case ActionCreateWorktree, ActionCreateBranch:
		if strings.TrimSpace(req.Branch) == "" {
			return workspace.Snapshot{}, newValidationErr("branch must not be empty")
		}
	case ActionRunCommand:
		if !ws.HasPanes() {
			return workspace.Snapshot{}, apperr.New(apperr.KindConflict, fmt.Sprintf("workspace %q has no runtime panes", req.WorkspaceID))
		}
		if strings.TrimSpace(req.Command) == "" {
			return workspace.Snapshot{}, newValidationErr("command must not be empty")
		}
		if len(req.Command) > maxRunCommandBytes {
			return workspace.Snapshot{}, newValidationErr("command exceeds maximum length of 16KiB")
		}
	}

	if !queue.HasCapacity() {
		return workspace.Snapshot{}, errQueueFull
	}
	return ws, nil
}
