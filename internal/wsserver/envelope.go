// Package wsserver provides a WebSocket server for streaming terminal output
// to the frontend and ferrying the automation bridge's frontend round-trip,
// over a single JSON text-frame protocol.
package wsserver

import "encoding/json"

// Message type discriminators for the JSON text-frame protocol used by the
// PTY event stream and the Frontend Dispatcher round-trip.
const (
	TypePaneEvent         = "pane-event"
	TypeAutomationRequest = "automation-request"
	TypeAutomationReport  = "automation-report"
	TypeSubscribe         = "subscribe"
	TypeUnsubscribe       = "unsubscribe"
	TypeSyncWorkspaces    = "sync-workspaces"
	TypeLogEvent          = "log-event"
)

// envelopeType is decoded first to discriminate an incoming text frame before
// unmarshaling it into a more specific struct.
type envelopeType struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// PaneEvent is the JSON frame shape for streaming pty output/exit/error
// events to the UI, one per reader-thread event (see internal/panes).
type PaneEvent struct {
	Type    string `json:"type"`
	PaneID  string `json:"paneId"`
	Kind    string `json:"kind"` // "output" | "exit" | "error"
	Payload string `json:"payload"`
}

// AutomationRequest is the JSON frame shape for a backend -> UI round-trip
// request, the outbound half of the Frontend Dispatcher protocol.
type AutomationRequest struct {
	Type    string          `json:"type"`
	Action  string          `json:"action"` // "create_panes" | "import_worktree"
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AutomationReport is the JSON frame shape for the UI -> backend
// acknowledgement closing out a Frontend Dispatcher round-trip.
type AutomationReport struct {
	Type   string          `json:"type"`
	JobID  string          `json:"jobId"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SyncWorkspacesMsg is the JSON frame shape for sync_automation_workspaces:
// the UI replaces the entire workspace registry contents in one call.
// Workspaces is left as a raw payload so this transport-level package does
// not need to import the workspace domain package; callers (see main.go)
// unmarshal it into []workspace.Snapshot themselves.
type SyncWorkspacesMsg struct {
	Type       string          `json:"type"`
	Workspaces json.RawMessage `json:"workspaces"`
}

// LogEvent is the JSON frame shape for a backend operational log record
// tee'd to the UI, one per record at or above the configured capture level.
type LogEvent struct {
	Type      string `json:"type"`
	TimeMs    int64  `json:"timeMs"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
}
