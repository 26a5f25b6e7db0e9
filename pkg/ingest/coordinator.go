// Package ingest drives the document ingestion pipeline: chunk
// persistence, per-chunk extraction, graph merge and persistence, plus
// the job lifecycle around it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/graph"
	"github.com/cortexbrain/cortex/pkg/inference"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

const (
	defaultMaxConcurrentDocuments = 2
	defaultChunkParallelism       = 4
	defaultMaxRetries             = 3
	defaultRetryBaseDelay         = time.Second
	defaultBackupRetries          = 5
)

// Coordinator runs ingestion jobs. Ingest returns immediately; one
// goroutine per job drives the pipeline, with document-level admission
// bounded by a weighted semaphore.
type Coordinator struct {
	gateway   inference.Client
	documents store.DocumentStore
	chunks    store.ChunkStore
	graphs    store.GraphStore
	backup    store.BackupStore
	tracker   *Tracker

	admission        *semaphore.Weighted
	chunkParallelism int
	maxRetries       int
	retryBaseDelay   time.Duration
	backupRetries    int
	embed            bool

	wg sync.WaitGroup
}

// CoordinatorParams wires a Coordinator. Backup and Documents are
// optional; Gateway, Chunks, Graphs and Tracker are required.
type CoordinatorParams struct {
	Gateway   inference.Client
	Documents store.DocumentStore
	Chunks    store.ChunkStore
	Graphs    store.GraphStore
	Backup    store.BackupStore
	Tracker   *Tracker

	// MaxConcurrentDocuments bounds simultaneously processing documents.
	MaxConcurrentDocuments int64
	// ChunkParallelism caps concurrent extraction calls per document.
	ChunkParallelism int
	// MaxRetries bounds attempts per chunk for transient gateway errors.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	// GenerateEmbeddings embeds chunks at persist time when true.
	GenerateEmbeddings bool
}

func NewCoordinator(params CoordinatorParams) *Coordinator {
	if params.MaxConcurrentDocuments <= 0 {
		params.MaxConcurrentDocuments = defaultMaxConcurrentDocuments
	}
	if params.ChunkParallelism <= 0 {
		params.ChunkParallelism = defaultChunkParallelism
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = defaultMaxRetries
	}
	if params.RetryBaseDelay <= 0 {
		params.RetryBaseDelay = defaultRetryBaseDelay
	}
	return &Coordinator{
		gateway:   params.Gateway,
		documents: params.Documents,
		chunks:    params.Chunks,
		graphs:    params.Graphs,
		backup:    params.Backup,
		tracker:   params.Tracker,

		admission:        semaphore.NewWeighted(params.MaxConcurrentDocuments),
		chunkParallelism: params.ChunkParallelism,
		maxRetries:       params.MaxRetries,
		retryBaseDelay:   params.RetryBaseDelay,
		backupRetries:    defaultBackupRetries,
		embed:            params.GenerateEmbeddings,
	}
}

// ErrJobNotRunnable reports a job that already left Queued, typically
// a redelivered message for a job that ran before.
var ErrJobNotRunnable = errors.New("ingest: job not runnable")

// Ingest registers a job for the document's chunks and returns its id
// without blocking on the pipeline. The job runs on a context detached
// from the caller's cancellation but keeps its values.
func (c *Coordinator) Ingest(ctx context.Context, documentID string, chunks []model.Chunk) (string, error) {
	if documentID == "" {
		return "", fmt.Errorf("ingest: empty document id")
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("ingest: document %s has no chunks", documentID)
	}

	job, err := c.tracker.Create(ctx, documentID)
	if err != nil {
		return "", err
	}
	c.start(ctx, job, chunks)
	return job.ID, nil
}

// Run drives the pipeline for a Queued job another process registered,
// e.g. the API registering before publishing to the worker.
func (c *Coordinator) Run(ctx context.Context, jobID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("ingest: job %s has no chunks", jobID)
	}
	job, err := c.tracker.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != model.JobStateQueued {
		return fmt.Errorf("job %s in state %s: %w", jobID, job.State, ErrJobNotRunnable)
	}
	c.start(ctx, job, chunks)
	return nil
}

func (c *Coordinator) start(ctx context.Context, job *model.IngestJob, chunks []model.Chunk) {
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = util.NewID()
		}
		chunks[i].DocumentID = job.DocumentID
	}

	runCtx := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx, job, chunks)
	}()
}

// Wait blocks until all in-flight jobs and backup retries finish. Used
// on shutdown and by tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, job *model.IngestJob, chunks []model.Chunk) {
	if err := c.admission.Acquire(ctx, 1); err != nil {
		c.fail(ctx, job, fmt.Errorf("admission: %w", err))
		return
	}
	defer c.admission.Release(1)

	documentID := job.DocumentID
	logger.Info("[Ingest] Job started", "job_id", job.ID, "document_id", documentID, "chunks", len(chunks))

	c.setDocumentStatus(ctx, documentID, model.DocumentStatusProcessing, -1)

	if err := c.tracker.Advance(ctx, job, model.JobStateExtracting); err != nil {
		logger.Error("[Ingest] Failed to advance job", "job_id", job.ID, "err", err)
		return
	}

	if c.embed {
		c.embedChunks(ctx, job, chunks)
	}

	if err := c.chunks.SaveChunks(ctx, chunks); err != nil {
		c.fail(ctx, job, fmt.Errorf("persist chunks: %w", err))
		return
	}

	extractions := c.extractChunks(ctx, job, chunks)

	if err := c.tracker.Advance(ctx, job, model.JobStateGraphBuilding); err != nil {
		logger.Error("[Ingest] Failed to advance job", "job_id", job.ID, "err", err)
		return
	}

	g, warnings := graph.Merge(documentID, extractions, nil)
	for _, w := range warnings {
		if err := c.tracker.AddWarning(ctx, job, w); err != nil {
			logger.Error("[Ingest] Failed to record warning", "job_id", job.ID, "err", err)
		}
	}

	if err := c.tracker.Advance(ctx, job, model.JobStatePersisting); err != nil {
		logger.Error("[Ingest] Failed to advance job", "job_id", job.ID, "err", err)
		return
	}

	if err := c.graphs.UpsertGraph(ctx, g); err != nil {
		c.fail(ctx, job, fmt.Errorf("persist graph: %w", err))
		return
	}

	c.writeBackup(ctx, job, g)

	c.setDocumentStatus(ctx, documentID, model.DocumentStatusReady, len(chunks))

	if err := c.tracker.Advance(ctx, job, model.JobStateDone); err != nil {
		logger.Error("[Ingest] Failed to finish job", "job_id", job.ID, "err", err)
		return
	}
	logger.Info("[Ingest] Job done", "job_id", job.ID, "document_id", documentID,
		"entities", len(g.Entities), "relationships", len(g.Relationships), "warnings", len(job.Warnings))
}

// extractChunks fans extraction out over the document's chunks.
// Transient gateway failures are retried with backoff; a chunk whose
// extraction fails permanently (or exhausts retries) is skipped with a
// warning so the rest of the document still yields a graph.
func (c *Coordinator) extractChunks(ctx context.Context, job *model.IngestJob, chunks []model.Chunk) []graph.ChunkExtraction {
	extractions := make([]graph.ChunkExtraction, 0, len(chunks))
	var mu sync.Mutex

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.chunkParallelism)
	for _, ch := range chunks {
		eg.Go(func() error {
			result, err := util.RetryWithBackoff(gCtx, c.maxRetries, c.retryBaseDelay, inference.IsTransient,
				func(ctx context.Context) (*inference.Extraction, error) {
					return c.gateway.ExtractGraph(ctx, ch.Text)
				})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warning := fmt.Sprintf("chunk %d: extraction failed: %v", ch.SequenceIndex, err)
				if werr := c.tracker.AddWarning(gCtx, job, warning); werr != nil {
					logger.Error("[Ingest] Failed to record warning", "job_id", job.ID, "err", werr)
				}
				logger.Warn("[Ingest] Skipping chunk after extraction failure",
					"job_id", job.ID, "chunk", ch.SequenceIndex, "err", err)
				return nil
			}
			extractions = append(extractions, graph.ChunkExtraction{Chunk: ch, Result: result})
			return nil
		})
	}
	// Goroutines never return errors; Wait only syncs.
	_ = eg.Wait()

	sort.Slice(extractions, func(i, j int) bool {
		return extractions[i].Chunk.SequenceIndex < extractions[j].Chunk.SequenceIndex
	})
	return extractions
}

// embedChunks fills chunk embeddings best-effort before persistence.
func (c *Coordinator) embedChunks(ctx context.Context, job *model.IngestJob, chunks []model.Chunk) {
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.chunkParallelism)
	var mu sync.Mutex
	for i := range chunks {
		eg.Go(func() error {
			vec, err := util.RetryWithBackoff(gCtx, c.maxRetries, c.retryBaseDelay, inference.IsTransient,
				func(ctx context.Context) ([]float32, error) {
					return c.gateway.GenerateEmbedding(ctx, []byte(chunks[i].Text))
				})
			if err != nil {
				mu.Lock()
				defer mu.Unlock()
				warning := fmt.Sprintf("chunk %d: embedding failed: %v", chunks[i].SequenceIndex, err)
				if werr := c.tracker.AddWarning(gCtx, job, warning); werr != nil {
					logger.Error("[Ingest] Failed to record warning", "job_id", job.ID, "err", werr)
				}
				return nil
			}
			chunks[i].Embedding = vec
			return nil
		})
	}
	_ = eg.Wait()
}

// writeBackup writes the secondary copy after the primary commit. A
// failure is a warning, never a job failure; remaining attempts happen
// asynchronously with backoff.
func (c *Coordinator) writeBackup(ctx context.Context, job *model.IngestJob, g *model.Graph) {
	if c.backup == nil {
		return
	}
	err := c.backup.SaveGraph(ctx, g)
	if err == nil {
		return
	}
	warning := fmt.Sprintf("backup write failed, retrying in background: %v", err)
	if werr := c.tracker.AddWarning(ctx, job, warning); werr != nil {
		logger.Error("[Ingest] Failed to record warning", "job_id", job.ID, "err", werr)
	}
	logger.Warn("[Ingest] Backup write failed", "job_id", job.ID, "document_id", g.DocumentID, "err", err)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := util.RetryErrWithContext(ctx, c.backupRetries, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryBaseDelay):
			}
			return c.backup.SaveGraph(ctx, g)
		})
		if err != nil {
			logger.Error("[Ingest] Backup retries exhausted; primary and backup diverge",
				"job_id", job.ID, "document_id", g.DocumentID, "err", err)
			return
		}
		logger.Info("[Ingest] Backup reconciled", "job_id", job.ID, "document_id", g.DocumentID)
	}()
}

func (c *Coordinator) fail(ctx context.Context, job *model.IngestJob, cause error) {
	logger.Error("[Ingest] Job failed", "job_id", job.ID, "document_id", job.DocumentID, "err", cause)
	c.setDocumentStatus(ctx, job.DocumentID, model.DocumentStatusFailed, -1)
	if err := c.tracker.Fail(ctx, job, cause); err != nil {
		logger.Error("[Ingest] Failed to mark job failed", "job_id", job.ID, "err", err)
	}
}

func (c *Coordinator) setDocumentStatus(ctx context.Context, documentID string, status model.DocumentStatus, chunkCount int) {
	if c.documents == nil {
		return
	}
	if err := c.documents.UpdateDocumentStatus(ctx, documentID, status, chunkCount); err != nil {
		logger.Error("[Ingest] Failed to update document status",
			"document_id", documentID, "status", status, "err", err)
	}
}
