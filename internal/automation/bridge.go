package automation

import (
	"context"
	"log/slog"
	"sync"

	"supervibing/internal/panes"
	"supervibing/internal/workerutil"
	"supervibing/internal/workspace"
	"supervibing/internal/wsserver"
)

// Bridge wires the HTTP listener, queue, job store, frontend dispatcher, and
// worker into one unit with a single Start/Stop lifecycle.
type Bridge struct {
	server     *Server
	queue      *Queue
	store      *Store
	dispatcher *Dispatcher
	worker     *Worker
	hub        *wsserver.Hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config collects the environment-driven settings that shape a Bridge.
type Config struct {
	Bind            string
	Token           string
	QueueDepthCap   int
	JobRetentionCap int
}

// NewBridge constructs every Automation Bridge collaborator and binds the
// HTTP listener. It does not start serving; call Start for that. hub is the
// existing WebSocket Hub (the Frontend Dispatcher's Transport); panesReg and
// workspaces are the process-wide pane runtime and workspace registry the
// dispatch handlers act on.
func NewBridge(cfg Config, hub *wsserver.Hub, panesReg *panes.Registry, workspaces *workspace.Registry) (*Bridge, error) {
	queue := NewQueue(cfg.QueueDepthCap)
	store := NewStore(cfg.JobRetentionCap)
	frontend := NewFrontendDispatcher(hub)
	dispatcher := &Dispatcher{Panes: panesReg, Frontend: frontend}
	worker := NewWorker(queue, store, workspaces, dispatcher)

	server, err := NewServer(cfg.Bind, cfg.Token, store, queue, workspaces)
	if err != nil {
		return nil, err
	}

	hub.SetAckHandler(ackHandlerFuncFor(frontend, func(jobID string) {
		slog.Debug("[automation] automation-report for unknown or expired job", "jobId", jobID)
	}))

	return &Bridge{
		server:     server,
		queue:      queue,
		store:      store,
		dispatcher: dispatcher,
		worker:     worker,
		hub:        hub,
	}, nil
}

// Bind returns the address the bridge's HTTP listener bound to.
func (b *Bridge) Bind() string { return b.server.Bind() }

// Start launches the worker and HTTP accept loop, each supervised by
// workerutil.RunWithPanicRecovery so a panic in either restarts it rather
// than taking the process down. Start returns immediately; Stop (or parent
// ctx cancellation) tears both down.
func (b *Bridge) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	workerutil.RunWithPanicRecovery(runCtx, "automation-worker", &b.wg, b.worker.Run, workerutil.RecoveryOptions{})
	workerutil.RunWithPanicRecovery(runCtx, "automation-http-listener", &b.wg, func(c context.Context) {
		b.server.Serve(c)
	}, workerutil.RecoveryOptions{})

	slog.Info("[automation] bridge started", "bind", b.server.Bind())
}

// Stop cancels the bridge's context, closes the HTTP listener, and waits for
// both supervised goroutines to exit.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.server.Close()
	b.wg.Wait()
	slog.Info("[automation] bridge stopped")
}

// QueueDepth exposes the current queue depth, used by /v1/health and tests.
func (b *Bridge) QueueDepth() int64 { return b.queue.Depth() }

// JobCount exposes the current total job count, used by tests.
func (b *Bridge) JobCount() int { return b.store.Count() }
