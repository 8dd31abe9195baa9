package automation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"supervibing/internal/apperr"
	"supervibing/internal/wsserver"
)

// frontendTimeout is the Frontend Dispatcher's round-trip timeout.
const frontendTimeout = 20 * time.Second

// Transport is the subset of wsserver.Hub the Frontend Dispatcher needs: a
// way to emit an outbound automation-request frame. A real Hub satisfies
// this; tests substitute a fake.
type Transport interface {
	SendAutomationRequest(wsserver.AutomationRequest) error
}

// FrontendDispatcher handles request variants whose implementation lives in
// the UI: it emits an outbound automation-request frame, registers a
// single-shot awaiter keyed by job id, and blocks the calling worker
// goroutine until an automation-report frame arrives on the same job id or
// the 20s timeout elapses.
type FrontendDispatcher struct {
	transport Transport

	mu      sync.Mutex
	pending map[string]chan wsserver.AutomationReport
}

// NewFrontendDispatcher wires a dispatcher onto transport (normally a
// *wsserver.Hub).
func NewFrontendDispatcher(transport Transport) *FrontendDispatcher {
	return &FrontendDispatcher{
		transport: transport,
		pending:   make(map[string]chan wsserver.AutomationReport),
	}
}

// Dispatch emits an action request for jobID carrying payload, and awaits
// the UI's acknowledgement. It returns the ack's result payload verbatim on
// success, or a System error on timeout, transport failure, or an ack
// reporting ok=false.
func (f *FrontendDispatcher) Dispatch(ctx context.Context, action string, jobID string, payload any) (json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSystem, "marshal frontend automation request payload", err)
	}

	ch := make(chan wsserver.AutomationReport, 1)
	f.mu.Lock()
	f.pending[jobID] = ch
	f.mu.Unlock()

	removePending := func() {
		f.mu.Lock()
		delete(f.pending, jobID)
		f.mu.Unlock()
	}

	if err := f.transport.SendAutomationRequest(wsserver.AutomationRequest{
		Action:  action,
		JobID:   jobID,
		Payload: encoded,
	}); err != nil {
		removePending()
		return nil, apperr.Wrap(apperr.KindSystem, "emit frontend automation request", err)
	}

	timer := time.NewTimer(frontendTimeout)
	defer timer.Stop()

	select {
	case report := <-ch:
		removePending()
		if !report.OK {
			return nil, apperr.New(apperr.KindSystem, report.Error)
		}
		return report.Result, nil
	case <-timer.C:
		removePending()
		return nil, apperr.New(apperr.KindSystem, "frontend automation request timed out")
	case <-ctx.Done():
		removePending()
		return nil, apperr.Wrap(apperr.KindSystem, "frontend automation request canceled", ctx.Err())
	}
}

// HandleReport delivers an inbound automation-report frame to its pending
// awaiter, removing the awaiter in the same step so at most one delivery
// ever reaches Dispatch's select. Returns false if no awaiter was registered
// for report.JobID (a stale or duplicate ack, or one that arrived after the
// round-trip already timed out) -- callers surface this to the UI as
// NotFound.
func (f *FrontendDispatcher) HandleReport(report wsserver.AutomationReport) bool {
	f.mu.Lock()
	ch, ok := f.pending[report.JobID]
	if ok {
		delete(f.pending, report.JobID)
	}
	f.mu.Unlock()
	if !ok {
		return false
	}
	ch <- report
	return true
}

// PendingCount reports how many round-trips are currently outstanding;
// exposed for diagnostics and tests.
func (f *FrontendDispatcher) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// ackHandlerFuncFor adapts a FrontendDispatcher into the func(AutomationReport)
// shape wsserver.Hub.SetAckHandler expects, logging (via the returned
// closure's caller) when HandleReport reports a missing awaiter.
func ackHandlerFuncFor(f *FrontendDispatcher, onMissing func(jobID string)) func(wsserver.AutomationReport) {
	return func(report wsserver.AutomationReport) {
		if !f.HandleReport(report) && onMissing != nil {
			onMissing(report.JobID)
		}
	}
}
