package automation

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Status is an AutomationJob's lifecycle state. Transitions only ever move
// forward along Queued -> Running -> {Succeeded, Failed}; a job in a
// terminal state never changes status again.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// defaultRetentionCap is the default value of Store's retention cap: at
// most this many terminal-state jobs are kept before the oldest are pruned.
const defaultRetentionCap = 500

// Job is one AutomationJob record.
type Job struct {
	ID           string          `json:"id"`
	Status       Status          `json:"status"`
	Request      Request         `json:"request"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAtMs  int64           `json:"createdAtMs"`
	StartedAtMs  int64           `json:"startedAtMs,omitempty"`
	FinishedAtMs int64           `json:"finishedAtMs,omitempty"`
}

// clone returns a value copy safe to hand to a caller outside the store's lock.
func (j *Job) clone() Job {
	return *j
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Store is a map from job id to Job, guarded by a plain sync.RWMutex since
// it is never held across a blocking operation.
type Store struct {
	mu            sync.RWMutex
	jobs          map[string]*Job
	retentionCap  int
}

// NewStore creates an empty Store. A retentionCap <= 0 uses the documented
// default of 500.
func NewStore(retentionCap int) *Store {
	if retentionCap <= 0 {
		retentionCap = defaultRetentionCap
	}
	return &Store{jobs: make(map[string]*Job), retentionCap: retentionCap}
}

// Insert creates a new Queued job record. Returns false if id already exists
// (callers are expected to generate fresh UUIDs, so this should not happen
// in practice, but the store never silently clobbers an existing record).
func (s *Store) Insert(id string, req Request) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return Job{}, false
	}
	job := &Job{ID: id, Status: StatusQueued, Request: req, CreatedAtMs: nowMs()}
	s.jobs[id] = job
	return job.clone(), true
}

// Remove deletes a job record outright, used to roll back a failed enqueue.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// Get returns a copy of the job record for id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// MarkRunning transitions a job from Queued to Running and stamps
// startedAtMs. No-op (but non-fatal) if the job is missing: jobs are
// non-durable, so a restart between enqueue and dequeue is tolerated.
func (s *Store) MarkRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Status = StatusRunning
	job.StartedAtMs = nowMs()
}

// MarkSucceeded transitions a job to Succeeded, attaching result and
// stamping finishedAtMs.
func (s *Store) MarkSucceeded(id string, result json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Status = StatusSucceeded
	job.Result = result
	job.FinishedAtMs = nowMs()
}

// MarkFailed transitions a job to Failed, attaching the error string and
// stamping finishedAtMs.
func (s *Store) MarkFailed(id string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Status = StatusFailed
	job.Error = errMsg
	job.FinishedAtMs = nowMs()
}

// Prune enforces the retention cap: once the number of terminal-state jobs
// exceeds the cap, the oldest-finished are removed (falling back to
// createdAtMs when finishedAtMs ties or is unset) until at most cap remain.
// Queued and Running jobs are never pruned.
func (s *Store) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Status.terminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) <= s.retentionCap {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		ri, rj := terminalRank(terminal[i]), terminalRank(terminal[j])
		if ri != rj {
			return ri < rj
		}
		return terminal[i].CreatedAtMs < terminal[j].CreatedAtMs
	})

	excess := len(terminal) - s.retentionCap
	for i := 0; i < excess; i++ {
		delete(s.jobs, terminal[i].ID)
	}
}

func terminalRank(j *Job) int64 {
	if j.FinishedAtMs != 0 {
		return j.FinishedAtMs
	}
	return j.CreatedAtMs
}

// Count returns the total number of jobs currently held (all statuses).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
