package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

func TestMemoryJobStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	job := model.IngestJob{
		ID:         "j1",
		DocumentID: "doc1",
		State:      model.JobStateExtracting,
		Warnings:   []string{"first"},
		StartedAt:  time.Now().UTC(),
	}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.JobStateExtracting || got.DocumentID != "doc1" {
		t.Errorf("unexpected job: %+v", got)
	}

	// The stored copy must not alias the caller's slice.
	got.Warnings = append(got.Warnings, "mutated")
	again, _ := s.GetJob(ctx, "j1")
	if len(again.Warnings) != 1 {
		t.Errorf("store leaked warning slice: %v", again.Warnings)
	}
}

func TestMemoryJobStore_NotFound(t *testing.T) {
	s := NewMemoryJobStore()
	if _, err := s.GetJob(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisJobStore_Roundtrip(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisJobStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	ctx := context.Background()

	job := model.IngestJob{
		ID:         "j1",
		DocumentID: "doc1",
		State:      model.JobStateDone,
		Warnings:   []string{"backup write failed, retrying in background: timeout"},
		StartedAt:  time.Now().UTC().Truncate(time.Second),
		FinishedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.JobStateDone {
		t.Errorf("expected Done, got %s", got.State)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("expected warnings to survive, got %v", got.Warnings)
	}
	if !got.FinishedAt.Equal(job.FinishedAt) {
		t.Errorf("expected finished %v, got %v", job.FinishedAt, got.FinishedAt)
	}
}

func TestRedisJobStore_NotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisJobStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	if _, err := s.GetJob(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisJobStore_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisJobStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()

	if err := s.SaveJob(ctx, model.IngestJob{ID: "j1", State: model.JobStateQueued}); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := s.GetJob(ctx, "j1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected job to expire, got %v", err)
	}
}
