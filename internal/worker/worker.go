// Package worker copies closed segments to S3 before local retention evicts them.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camvault/recorder/internal/models"
	"github.com/camvault/recorder/pkg/queue"
	"github.com/camvault/recorder/pkg/storage"
)

// Uploader is the object store the archive is written to.
type Uploader interface {
	UploadFile(ctx context.Context, key, localPath string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// JobQueue supplies archive jobs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (dead bool, err error)
}

// Catalog tracks archive state. Optional.
type Catalog interface {
	GetByName(ctx context.Context, channel int, name string) (*models.Segment, error)
	MarkArchived(ctx context.Context, id uuid.UUID, s3Key string) error
	MarkArchiveFailed(ctx context.Context, id uuid.UUID) error
}

// Metrics counts archive outcomes. Optional.
type Metrics interface {
	ArchiveResult(result string)
}

// ArchiveProcessor processes segment archive jobs: upload the local file, update the catalog.
type ArchiveProcessor struct {
	store   Uploader
	queue   JobQueue
	catalog Catalog
	metrics Metrics
	logger  *zap.Logger
	backoff time.Duration
}

// NewArchiveProcessor creates a segment archive processor. catalog and metrics may be nil.
func NewArchiveProcessor(store Uploader, q JobQueue, catalog Catalog, metrics Metrics, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{store: store, queue: q, catalog: catalog, metrics: metrics, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one archive job. A segment that retention already removed is
// reported and skipped, not retried.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSegmentArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SegmentArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	key := storage.SegmentKey(payload.Channel, payload.Day, payload.Name)

	if _, err := os.Stat(payload.Path); errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("segment evicted before archive", zap.String("path", payload.Path))
		p.markFailed(ctx, payload)
		p.count("missing")
		return nil
	}

	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		p.logger.Info("segment already archived", zap.String("s3_key", key))
	} else {
		n, err := p.store.UploadFile(ctx, key, payload.Path)
		if err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
		p.logger.Info("segment archived", zap.String("segment", payload.Name), zap.String("s3_key", key), zap.Int64("bytes", n))
	}

	if p.catalog != nil {
		seg, err := p.catalog.GetByName(ctx, payload.Channel, payload.Name)
		if err != nil {
			p.logger.Warn("catalog lookup failed", zap.String("segment", payload.Name), zap.Error(err))
		} else if err := p.catalog.MarkArchived(ctx, seg.ID, key); err != nil {
			return fmt.Errorf("update catalog: %w", err)
		}
	}
	p.count("uploaded")
	return nil
}

func (p *ArchiveProcessor) markFailed(ctx context.Context, payload queue.SegmentArchivePayload) {
	if p.catalog == nil {
		return
	}
	seg, err := p.catalog.GetByName(ctx, payload.Channel, payload.Name)
	if err != nil {
		return
	}
	if err := p.catalog.MarkArchiveFailed(ctx, seg.ID); err != nil {
		p.logger.Warn("mark archive failed", zap.String("segment", payload.Name), zap.Error(err))
	}
}

func (p *ArchiveProcessor) count(result string) {
	if p.metrics != nil {
		p.metrics.ArchiveResult(result)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("archive worker stopping")
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
				p.sleep(ctx)
			}
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			dead, reErr := p.queue.Retry(ctx, job)
			if reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			if dead {
				p.count("dead")
				var payload queue.SegmentArchivePayload
				if json.Unmarshal(job.Payload, &payload) == nil {
					p.markFailed(ctx, payload)
				}
			} else {
				p.count("retried")
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
