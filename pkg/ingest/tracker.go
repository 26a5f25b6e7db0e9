package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/model"
)

// validTransitions is the forward-only job lifecycle. Terminal states
// have no successors.
var validTransitions = map[model.JobState][]model.JobState{
	model.JobStateQueued:        {model.JobStateExtracting, model.JobStateFailed},
	model.JobStateExtracting:    {model.JobStateGraphBuilding, model.JobStateFailed},
	model.JobStateGraphBuilding: {model.JobStatePersisting, model.JobStateFailed},
	model.JobStatePersisting:    {model.JobStateDone, model.JobStateFailed},
}

// Tracker manages job lifecycle over an injected JobStore. State writes
// come from the single goroutine driving the job; reads may come from
// anywhere.
type Tracker struct {
	jobs JobStore
}

func NewTracker(jobs JobStore) *Tracker {
	return &Tracker{jobs: jobs}
}

// Create registers a fresh job in Queued for the document. Re-ingestion
// always gets a new job id.
func (t *Tracker) Create(ctx context.Context, documentID string) (*model.IngestJob, error) {
	job := model.IngestJob{
		ID:         util.NewID(),
		DocumentID: documentID,
		State:      model.JobStateQueued,
		StartedAt:  time.Now().UTC(),
	}
	if err := t.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("register job: %w", err)
	}
	return &job, nil
}

// GetStatus returns the job's current state. Read-only and non-blocking
// with respect to the running pipeline.
func (t *Tracker) GetStatus(ctx context.Context, jobID string) (*model.IngestJob, error) {
	return t.jobs.GetJob(ctx, jobID)
}

// Advance moves the job to the next state, rejecting skips and any
// transition out of a terminal state.
func (t *Tracker) Advance(ctx context.Context, job *model.IngestJob, next model.JobState) error {
	if !transitionAllowed(job.State, next) {
		return fmt.Errorf("invalid job transition %s -> %s", job.State, next)
	}
	job.State = next
	if next.Terminal() {
		job.FinishedAt = time.Now().UTC()
	}
	return t.jobs.SaveJob(ctx, *job)
}

// Fail moves the job to Failed with the causing error recorded.
func (t *Tracker) Fail(ctx context.Context, job *model.IngestJob, cause error) error {
	if job.State.Terminal() {
		return fmt.Errorf("job %s already terminal (%s)", job.ID, job.State)
	}
	job.Error = cause.Error()
	return t.Advance(ctx, job, model.JobStateFailed)
}

// AddWarning records a non-fatal condition on the job.
func (t *Tracker) AddWarning(ctx context.Context, job *model.IngestJob, warning string) error {
	job.Warnings = append(job.Warnings, warning)
	return t.jobs.SaveJob(ctx, *job)
}

func transitionAllowed(from, to model.JobState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
