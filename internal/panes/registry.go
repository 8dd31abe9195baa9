// Package panes implements the pane runtime: a registry of live pseudo-terminal
// sessions (spawn/write/resize/suspend/resume/close), each backed by
// internal/terminal and streamed to an output sink by a dedicated reader
// goroutine. Panes are addressed by a flat id, independent of any
// workspace or session grouping above this package.
package panes

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"supervibing/internal/apperr"
	"supervibing/internal/shell"
	"supervibing/internal/terminal"
)

const (
	defaultRows       = 40
	defaultCols       = 120
	readerChunkBytes  = 4 * 1024
	readerStackBytes  = 256 * 1024 // documents the intended reader-thread stack headroom; Go goroutine stacks grow dynamically from 8 KiB, so this is not a literal allocation.
	paneIDPrefix      = "pane-"
	forceTermFallback = "xterm-256color"
)

// OutputEvent is one reader-thread notification: streamed pty output, or the
// terminal "exit"/"error" event that ends a pane's reader.
type OutputEvent struct {
	PaneID  string
	Kind    string // "output" | "exit" | "error"
	Payload string
}

// OutputSink receives OutputEvents. It returns false when the event could not
// be delivered (e.g. the UI is gone), which tells the reader loop to stop.
type OutputSink func(OutputEvent) bool

// SpawnOptions configures spawn_pane. Zero values take the documented defaults.
type SpawnOptions struct {
	PaneID      string
	Cwd         string
	Shell       string
	Rows        int
	Cols        int
	InitCommand string
	ExecuteInit bool
}

// SpawnResult is returned by spawn_pane.
type SpawnResult struct {
	PaneID string
	Cwd    string
	Shell  string
}

// RuntimeStats is the get_runtime_stats() result.
type RuntimeStats struct {
	ActivePanes    int
	SuspendedPanes int
}

// CommandOutcome is one entry of run_command_on_panes' per-pane result list.
type CommandOutcome struct {
	PaneID string `json:"paneId"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// record is one entry of the registry. writeMu serializes
// write+optional-newline+flush sequences on this pane, mirroring
// terminal.Terminal's own internal mutex discipline one level up.
type record struct {
	id        string
	term      *terminal.Terminal
	writeMu   sync.Mutex
	suspended atomic.Bool
	cwd       string
	shell     string
}

// Registry owns every live PaneRecord. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	panes map[string]*record
	sink  OutputSink
}

// New creates an empty Registry. sink receives every reader-thread event; a
// nil sink is replaced with a no-op that always reports delivery success.
func New(sink OutputSink) *Registry {
	if sink == nil {
		sink = func(OutputEvent) bool { return true }
	}
	return &Registry{
		panes: make(map[string]*record),
		sink:  sink,
	}
}

// defaultShellFor resolves the shell executable per the documented platform
// defaults: $SHELL on non-Windows (falling back to /bin/bash), cmd.exe on
// Windows.
func defaultShellFor() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// sanitizeTerm forces a safe TERM value when the inherited one is empty,
// whitespace, or "dumb" (case-insensitive); otherwise it is preserved verbatim.
func sanitizeTerm(inherited string) string {
	trimmed := strings.TrimSpace(inherited)
	if trimmed == "" || strings.EqualFold(trimmed, "dumb") {
		return forceTermFallback
	}
	return inherited
}

func buildPaneEnv(term string) []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	replaced := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			out = append(out, "TERM="+term)
			replaced = true
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, "TERM="+term)
	}
	return out
}

// Spawn implements spawn_pane.
func (r *Registry) Spawn(opts SpawnOptions) (SpawnResult, error) {
	id := strings.TrimSpace(opts.PaneID)
	if id == "" {
		id = paneIDPrefix + uuid.NewString()
	}

	cwd := opts.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return SpawnResult{}, apperr.Wrap(apperr.KindSystem, "resolve default cwd", err)
		}
		cwd = wd
	}
	info, err := os.Stat(cwd)
	if err != nil || !info.IsDir() {
		return SpawnResult{}, apperr.New(apperr.KindValidation, fmt.Sprintf("cwd does not exist or is not a directory: %q", cwd))
	}

	shell := strings.TrimSpace(opts.Shell)
	if shell == "" {
		shell = defaultShellFor()
	}
	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = defaultRows
	}
	if cols <= 0 {
		cols = defaultCols
	}

	term := sanitizeTerm(os.Getenv("TERM"))
	cfg := terminal.Config{
		Shell:   shell,
		Dir:     cwd,
		Env:     buildPaneEnv(term),
		Rows:    rows,
		Columns: cols,
	}
	t, err := terminal.Start(cfg)
	if err != nil {
		return SpawnResult{}, apperr.Wrap(apperr.KindPty, "spawn pane", err)
	}

	init := strings.TrimSpace(opts.InitCommand)
	if init != "" {
		payload := init
		if opts.ExecuteInit {
			payload += "\n"
		}
		if _, werr := t.Write([]byte(payload)); werr != nil {
			_ = t.Close()
			return SpawnResult{}, apperr.Wrap(apperr.KindPty, "write init command", werr)
		}
	}

	rec := &record{id: id, term: t, cwd: cwd, shell: shell}

	r.mu.Lock()
	if _, exists := r.panes[id]; exists {
		r.mu.Unlock()
		_ = t.Close()
		return SpawnResult{}, apperr.New(apperr.KindConflict, fmt.Sprintf("pane %q already exists", id))
	}
	r.panes[id] = rec
	r.mu.Unlock()

	go r.runReader(rec)

	return SpawnResult{PaneID: id, Cwd: cwd, Shell: shell}, nil
}

// runReader is the per-pane reader thread: it reads readerChunkBytes at a
// time, emits an "output" event per non-empty chunk, and an "exit"/"error"
// event when the underlying read ends. Removal from the registry is always
// scheduled via a separate goroutine (evict), never performed inline here,
// so the reader thread never needs a lock on the registry it is about to
// remove itself from.
func (r *Registry) runReader(rec *record) {
	onData := func(chunk []byte) {
		if len(chunk) == 0 {
			return
		}
		if !r.sink(OutputEvent{PaneID: rec.id, Kind: "output", Payload: string(chunk)}) {
			_ = rec.term.Close()
		}
	}

	err := rec.term.ReadLoop(readerChunkBytes, onData)

	if err == nil || err == io.EOF {
		r.sink(OutputEvent{PaneID: rec.id, Kind: "exit", Payload: "eof"})
	} else {
		r.sink(OutputEvent{PaneID: rec.id, Kind: "error", Payload: err.Error()})
	}

	go r.evict(rec)
}

// evict removes a pane id from the registry if its record is still the one
// that scheduled the eviction (a close_pane racing the reader's own exit
// must not remove a different pane that reused the same id: close_pane
// followed by a spawn_pane reusing the id can install a new record for id
// before this goroutine runs).
func (r *Registry) evict(rec *record) {
	r.mu.Lock()
	if r.panes[rec.id] == rec {
		delete(r.panes, rec.id)
	}
	r.mu.Unlock()
}

func (r *Registry) lookup(id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.panes[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("pane %q not found", id))
	}
	return rec, nil
}

// isPowerShell reports whether shell names the PowerShell family, the only
// pane shell whose command syntax needs translating before it is written.
func isPowerShell(shell string) bool {
	base := strings.ToLower(strings.TrimSpace(shell))
	return strings.Contains(base, "powershell") || strings.Contains(base, "pwsh")
}

// writeToPane performs the write+optional-newline+flush sequence under the
// pane's writer lock, shared by WriteInput and RunCommandOnPanes. On Windows,
// when the pane's shell is PowerShell, a command line being executed is
// translated from bash-style ("cd 'x' && KEY=V cmd") to PowerShell-style
// ("cd 'x'; $env:KEY='V'; cmd") first, since callers author commands in the
// Unix convention regardless of the pane's underlying shell.
func writeToPane(rec *record, data []byte, execute bool) error {
	payload := data
	if execute {
		if runtime.GOOS == "windows" && isPowerShell(rec.shell) {
			translated := shell.TranslateSendKeysArgs([]string{string(data)})
			payload = []byte(translated[0])
		}
		payload = append(append([]byte(nil), payload...), '\n')
	}
	rec.writeMu.Lock()
	defer rec.writeMu.Unlock()
	_, err := rec.term.Write(payload)
	return err
}

// WriteInput implements write_pane_input. Suspension does not block
// individual writes; only broadcast (RunCommandOnPanes) honors it.
func (r *Registry) WriteInput(id string, data []byte, execute bool) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	if werr := writeToPane(rec, data, execute); werr != nil {
		return apperr.Wrap(apperr.KindPty, "write pane input", werr)
	}
	return nil
}

// Resize implements resize_pane.
func (r *Registry) Resize(id string, rows, cols int) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	if rows <= 0 || cols <= 0 {
		return apperr.New(apperr.KindValidation, "rows and cols must be positive")
	}
	rec.writeMu.Lock()
	defer rec.writeMu.Unlock()
	if rerr := rec.term.Resize(cols, rows); rerr != nil {
		return apperr.Wrap(apperr.KindPty, "resize pane", rerr)
	}
	return nil
}

// Close implements close_pane: removes the record and kills the child. The
// reader thread's own exit event may race this; both orderings are fine
// since evict is idempotent.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	rec, ok := r.panes[id]
	if ok {
		delete(r.panes, id)
	}
	r.mu.Unlock()
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("pane %q not found", id))
	}
	if err := rec.term.Close(); err != nil {
		return apperr.Wrap(apperr.KindPty, "close pane", err)
	}
	return nil
}

// GetRuntimeStats implements get_runtime_stats.
func (r *Registry) GetRuntimeStats() RuntimeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := RuntimeStats{ActivePanes: len(r.panes)}
	for _, rec := range r.panes {
		if rec.suspended.Load() {
			stats.SuspendedPanes++
		}
	}
	return stats
}

// RunCommandOnPanes implements run_command_on_panes: iterates pane ids in
// order, writing command (+ optional newline) to each non-suspended pane,
// and returns the per-pane outcomes in the same order.
func (r *Registry) RunCommandOnPanes(ids []string, command string, execute bool) []CommandOutcome {
	outcomes := make([]CommandOutcome, 0, len(ids))
	data := []byte(command)
	for _, id := range ids {
		rec, err := r.lookup(id)
		if err != nil {
			outcomes = append(outcomes, CommandOutcome{PaneID: id, OK: false, Error: "pane not found"})
			continue
		}
		if rec.suspended.Load() {
			outcomes = append(outcomes, CommandOutcome{PaneID: id, OK: false, Error: "pane is suspended"})
			continue
		}
		if err := writeToPane(rec, data, execute); err != nil {
			outcomes = append(outcomes, CommandOutcome{PaneID: id, OK: false, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, CommandOutcome{PaneID: id, OK: true})
	}
	return outcomes
}
