package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/cortexbrain/cortex/pkg/model"
)

func TestTracker_Advance(t *testing.T) {
	tests := []struct {
		name    string
		from    model.JobState
		to      model.JobState
		wantErr bool
	}{
		{"queued to extracting", model.JobStateQueued, model.JobStateExtracting, false},
		{"extracting to graph building", model.JobStateExtracting, model.JobStateGraphBuilding, false},
		{"graph building to persisting", model.JobStateGraphBuilding, model.JobStatePersisting, false},
		{"persisting to done", model.JobStatePersisting, model.JobStateDone, false},
		{"any state to failed", model.JobStateExtracting, model.JobStateFailed, false},
		{"skipping a state", model.JobStateQueued, model.JobStateGraphBuilding, true},
		{"backwards", model.JobStatePersisting, model.JobStateExtracting, true},
		{"out of done", model.JobStateDone, model.JobStateExtracting, true},
		{"out of failed", model.JobStateFailed, model.JobStateQueued, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tracker := NewTracker(NewMemoryJobStore())
			job, err := tracker.Create(ctx, "doc1")
			if err != nil {
				t.Fatal(err)
			}
			job.State = tt.from

			err = tracker.Advance(ctx, job, tt.to)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected %s -> %s to be rejected", tt.from, tt.to)
				}
				return
			}
			if err != nil {
				t.Fatalf("advance: %v", err)
			}
			if job.State != tt.to {
				t.Errorf("expected state %s, got %s", tt.to, job.State)
			}
			if tt.to.Terminal() && job.FinishedAt.IsZero() {
				t.Error("expected finished timestamp on terminal state")
			}
			if !tt.to.Terminal() && !job.FinishedAt.IsZero() {
				t.Error("unexpected finished timestamp on non-terminal state")
			}
		})
	}
}

func TestTracker_CreateStartsQueued(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryJobStore())

	job, err := tracker.Create(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if job.State != model.JobStateQueued {
		t.Errorf("expected Queued, got %s", job.State)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected start timestamp")
	}

	// Re-ingestion gets a distinct job.
	second, err := tracker.Create(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == job.ID {
		t.Error("expected a fresh job id per ingestion")
	}
}

func TestTracker_FailRecordsError(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryJobStore())
	job, err := tracker.Create(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}

	if err := tracker.Fail(ctx, job, errors.New("gateway unreachable")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	stored, err := tracker.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != model.JobStateFailed {
		t.Errorf("expected Failed, got %s", stored.State)
	}
	if stored.Error != "gateway unreachable" {
		t.Errorf("expected recorded error, got %q", stored.Error)
	}

	// Failing a terminal job is rejected.
	if err := tracker.Fail(ctx, job, errors.New("again")); err == nil {
		t.Error("expected error failing a terminal job")
	}
}

func TestTracker_AddWarning(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryJobStore())
	job, err := tracker.Create(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}

	if err := tracker.AddWarning(ctx, job, "chunk 3 skipped"); err != nil {
		t.Fatal(err)
	}
	stored, _ := tracker.GetStatus(ctx, job.ID)
	if len(stored.Warnings) != 1 || stored.Warnings[0] != "chunk 3 skipped" {
		t.Errorf("unexpected warnings: %v", stored.Warnings)
	}
	if stored.State != model.JobStateQueued {
		t.Errorf("warning must not change state, got %s", stored.State)
	}
}
