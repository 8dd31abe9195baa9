// Package automation implements the automation bridge: a localhost-only
// HTTP listener, a bounded job queue, a single-consumer worker, and a
// frontend round-trip dispatcher, giving external clients a programmable
// surface over the pane runtime and git layer.
package automation

import (
	"context"
	"log/slog"

	"supervibing/internal/workspace"
)

// Worker is the single long-lived consumer of Queue. It processes jobs
// strictly in arrival order and never runs two jobs concurrently.
type Worker struct {
	queue      *Queue
	store      *Store
	workspaces *workspace.Registry
	dispatcher *Dispatcher
}

// NewWorker wires a Worker onto its collaborators.
func NewWorker(queue *Queue, store *Store, workspaces *workspace.Registry, dispatcher *Dispatcher) *Worker {
	return &Worker{queue: queue, store: store, workspaces: workspaces, dispatcher: dispatcher}
}

// Run drains the queue until ctx is done. Intended to be supervised by
// workerutil.RunWithPanicRecovery so a panic during one job's dispatch logs,
// restarts the worker, and does not take the process down; the in-flight
// job is simply lost, which is acceptable since jobs are non-durable.
func (w *Worker) Run(ctx context.Context) {
	done := ctx.Done()
	for {
		id, ok := w.queue.Dequeue(done)
		if !ok {
			return
		}
		w.runOne(ctx, id)
	}
}

func (w *Worker) runOne(ctx context.Context, jobID string) {
	job, ok := w.store.Get(jobID)
	if !ok {
		slog.Warn("[automation] worker dequeued unknown job id, dropping", "jobId", jobID)
		return
	}

	w.store.MarkRunning(jobID)

	ws, found := w.workspaces.Get(job.Request.WorkspaceID)
	if !found {
		w.store.MarkFailed(jobID, "workspace no longer registered")
		w.store.Prune()
		return
	}

	result, err := w.dispatcher.Dispatch(ctx, jobID, job.Request, ws)
	if err != nil {
		slog.Warn("[automation] job failed", "jobId", jobID, "action", job.Request.Action, "error", err)
		w.store.MarkFailed(jobID, err.Error())
	} else {
		w.store.MarkSucceeded(jobID, result)
	}
	w.store.Prune()
}
