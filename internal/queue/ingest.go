package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cortexbrain/cortex/internal/storage"
	"github.com/cortexbrain/cortex/pkg/chunker"
	"github.com/cortexbrain/cortex/pkg/ingest"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

// IngestMessage asks the worker to ingest one document. Either Text is
// inlined or S3Key points at the raw text in the object store. JobID is
// set when the API pre-registered the job in a shared job store.
type IngestMessage struct {
	DocumentID string `json:"document_id"`
	JobID      string `json:"job_id,omitempty"`
	S3Key      string `json:"s3_key,omitempty"`
	Text       string `json:"text,omitempty"`
}

// ProcessIngestMessage resolves the document's text, chunks it and
// drives the coordinator to completion. A Failed job is returned as an
// error so the message goes through the retry/DLQ path.
func ProcessIngestMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	coord *ingest.Coordinator,
	tracker *ingest.Tracker,
	splitter *chunker.Chunker,
	body []byte,
) error {
	data := new(IngestMessage)
	if err := json.Unmarshal(body, data); err != nil {
		return fmt.Errorf("unmarshal ingest message: %w", err)
	}
	if data.DocumentID == "" {
		return fmt.Errorf("ingest message without document id")
	}

	text := data.Text
	if text == "" && data.S3Key != "" {
		raw, err := storage.GetFile(ctx, s3Client, data.S3Key)
		if err != nil {
			return fmt.Errorf("fetch document %s: %w", data.DocumentID, err)
		}
		text = string(raw)
	}
	if text == "" {
		return fmt.Errorf("document %s: no text and no s3 key", data.DocumentID)
	}

	chunks := splitter.Split(data.DocumentID, text)
	if len(chunks) == 0 {
		return fmt.Errorf("document %s: text yields no chunks", data.DocumentID)
	}

	jobID := data.JobID
	if jobID != "" {
		err := coord.Run(ctx, jobID, chunks)
		if errors.Is(err, ingest.ErrJobNotRunnable) || errors.Is(err, store.ErrNotFound) {
			// Redelivery or an expired job record: re-ingest under a fresh job.
			jobID = ""
		} else if err != nil {
			return fmt.Errorf("resume job %s: %w", jobID, err)
		}
	}
	if jobID == "" {
		var err error
		jobID, err = coord.Ingest(ctx, data.DocumentID, chunks)
		if err != nil {
			return fmt.Errorf("start ingestion for %s: %w", data.DocumentID, err)
		}
	}
	coord.Wait()

	job, err := tracker.GetStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read job %s: %w", jobID, err)
	}
	if job.State == model.JobStateFailed {
		return fmt.Errorf("job %s failed: %s", jobID, job.Error)
	}

	logger.Info("[Queue] Document ingested",
		"document_id", data.DocumentID, "job_id", jobID, "chunks", len(chunks), "warnings", len(job.Warnings))
	return nil
}
