package river

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/doujins-org/compkit/tasks"
)

// TaskSource is the slice of tasks.Repo the worker needs.
type TaskSource interface {
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]tasks.Task, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, backoff time.Duration) error
}

// Indexer embeds and stores one item; implemented by runtime.Runtime.
type Indexer interface {
	IndexItem(ctx context.Context, itemID string) error
}

type WorkerConfig struct {
	Tasks   TaskSource
	Indexer Indexer

	// Defaults.
	DefaultLimit int           // default 50, when the job args carry none
	Lease        time.Duration // default 5m
	FailBackoff  time.Duration // default 1m
	Logger       *slog.Logger
}

// CatalogIndexWorker drains a bounded batch of index tasks per job run. A
// task that fails is rescheduled with backoff; the job itself only fails when
// the batch cannot be claimed at all.
type CatalogIndexWorker struct {
	river.WorkerDefaults[CatalogIndexBatchArgs]

	tasks        TaskSource
	indexer      Indexer
	defaultLimit int
	lease        time.Duration
	failBackoff  time.Duration
	logger       *slog.Logger
}

func NewCatalogIndexWorker(cfg WorkerConfig) (*CatalogIndexWorker, error) {
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("Tasks is required")
	}
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("Indexer is required")
	}
	w := &CatalogIndexWorker{
		tasks:        cfg.Tasks,
		indexer:      cfg.Indexer,
		defaultLimit: cfg.DefaultLimit,
		lease:        cfg.Lease,
		failBackoff:  cfg.FailBackoff,
		logger:       cfg.Logger,
	}
	if w.defaultLimit <= 0 {
		w.defaultLimit = 50
	}
	if w.lease <= 0 {
		w.lease = 5 * time.Minute
	}
	if w.failBackoff <= 0 {
		w.failBackoff = time.Minute
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	return w, nil
}

func (w *CatalogIndexWorker) Work(ctx context.Context, job *river.Job[CatalogIndexBatchArgs]) error {
	limit := job.Args.Limit
	if limit <= 0 {
		limit = w.defaultLimit
	}

	batch, err := w.tasks.ClaimBatch(ctx, limit, w.lease)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}

	for _, t := range batch {
		if err := w.indexer.IndexItem(ctx, t.ItemID); err != nil {
			w.logger.Warn("index task failed", "item", t.ItemID, "attempts", t.Attempts, "err", err)
			if ferr := w.tasks.Fail(ctx, t.ID, w.failBackoff); ferr != nil {
				return fmt.Errorf("reschedule task %d: %w", t.ID, ferr)
			}
			continue
		}
		if cerr := w.tasks.Complete(ctx, t.ID); cerr != nil {
			return fmt.Errorf("complete task %d: %w", t.ID, cerr)
		}
	}
	return nil
}
