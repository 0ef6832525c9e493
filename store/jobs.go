package store

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

const jobsBucket = "jobs"

// JobStore persists the latest status of each pipe job. No history is kept.
type JobStore struct {
	backend Backend
}

// NewJobStore creates a job status store on top of backend
func NewJobStore(backend Backend) *JobStore {
	return &JobStore{backend: backend}
}

// Save overwrites the status stored for status.JobID
func (s *JobStore) Save(ctx context.Context, status *pipes.JobStatus) error {
	if status == nil || status.JobID == "" {
		return errors.NewInvalidRequestError("job status requires a job id")
	}
	value, err := json.Marshal(status)
	if err != nil {
		return errors.Wrapf(err, "encode job %s", status.JobID)
	}
	return s.backend.Put(ctx, jobsBucket, status.JobID, value)
}

// Get returns the status of jobID, or an ErrJobNotFound error
func (s *JobStore) Get(ctx context.Context, jobID string) (*pipes.JobStatus, error) {
	value, err := s.backend.Get(ctx, jobsBucket, jobID)
	if errors.IsNotFoundError(err) {
		return nil, errors.NewJobNotFoundError(jobID)
	}
	if err != nil {
		return nil, err
	}
	var status pipes.JobStatus
	if err := json.Unmarshal(value, &status); err != nil {
		return nil, errors.Wrapf(err, "corrupt job record %s", jobID)
	}
	return &status, nil
}

// List returns every job, newest first
func (s *JobStore) List(ctx context.Context) ([]*pipes.JobStatus, error) {
	entries, err := s.backend.List(ctx, jobsBucket)
	if err != nil {
		return nil, err
	}
	out := make([]*pipes.JobStatus, 0, len(entries))
	for _, e := range entries {
		var status pipes.JobStatus
		if err := json.Unmarshal(e.Value, &status); err != nil {
			return nil, errors.Wrapf(err, "corrupt job record %s", e.Key)
		}
		out = append(out, &status)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
