package pipes

import (
	"time"
)

// JobStatus is the observable state of one pipe job.
//
// Running, Completed and HasError follow the lifecycle
// running -> completed (hasError accumulated) and never move backward:
// once Completed is set, later transitions are ignored.
type JobStatus struct {
	JobID     string `json:"job_id"`
	Running   bool   `json:"running"`
	Completed bool   `json:"completed"`
	HasError  bool   `json:"has_error"`

	IteratorID string `json:"iterator_id,omitempty"`
	FetcherID  string `json:"fetcher_id,omitempty"`
	EmitterID  string `json:"emitter_id,omitempty"`

	// Progress accounting
	Processed int64  `json:"processed"`
	Emitted   int64  `json:"emitted"`
	Failed    int64  `json:"failed"`
	Error     string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJobStatus creates the submitted state of a job.
func NewJobStatus(jobID, iteratorID, fetcherID, emitterID string) *JobStatus {
	now := time.Now().UTC()
	return &JobStatus{
		JobID:      jobID,
		Running:    true,
		IteratorID: iteratorID,
		FetcherID:  fetcherID,
		EmitterID:  emitterID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// UpdateProgress records counters of a running job.
func (s *JobStatus) UpdateProgress(processed, emitted, failed int64) {
	if s.Completed {
		return
	}
	s.Processed, s.Emitted, s.Failed = processed, emitted, failed
	if failed > 0 {
		s.HasError = true
	}
	s.UpdatedAt = time.Now().UTC()
}

// Finish moves the job to its terminal state. hasError is OR-ed with any
// error already recorded. Returns false if the job was already terminal.
func (s *JobStatus) Finish(hasError bool) bool {
	if s.Completed {
		return false
	}
	now := time.Now().UTC()
	s.Running = false
	s.Completed = true
	s.HasError = s.HasError || hasError
	s.CompletedAt = &now
	s.UpdatedAt = now
	return true
}

// Fail finishes the job with a fatal error.
func (s *JobStatus) Fail(err error) bool {
	if s.Completed {
		return false
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s.Finish(true)
}

// State summarizes the lifecycle flags as one word.
func (s *JobStatus) State() string {
	switch {
	case !s.Completed:
		return "running"
	case s.HasError:
		return "failed"
	default:
		return "completed"
	}
}

// Duration is the wall time from submission to completion (or now).
func (s *JobStatus) Duration() time.Duration {
	end := time.Now().UTC()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(s.CreatedAt)
}
