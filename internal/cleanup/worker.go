// Package cleanup retries blob deletions that could not complete inline.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/starford/blobnotes/internal/models"
	"github.com/starford/blobnotes/internal/storage"
)

// Queue is the persistent task list the worker drains.
type Queue interface {
	PendingBlobCleanups(ctx context.Context, maxAttempts, limit int) ([]models.CleanupTask, error)
	CompleteBlobCleanup(ctx context.Context, id int64) error
	FailBlobCleanup(ctx context.Context, id int64, msg string) error
	CountFileRefs(ctx context.Context, key string) (int, error)
}

// Options configures a Worker.
type Options struct {
	Interval      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Worker periodically deletes queued blobs. A task whose key is referenced
// by a note again is dropped without touching the blob. Tasks that fail
// MaxAttempts times stay in the queue for inspection and are not retried.
type Worker struct {
	queue  Queue
	blobs  storage.Provider
	opts   Options
	logger *slog.Logger
}

// NewWorker creates a cleanup worker.
func NewWorker(queue Queue, blobs storage.Provider, opts Options, logger *slog.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: queue, blobs: blobs, opts: opts, logger: logger}
}

// Run drains the queue every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("cleanup: started", slog.Duration("interval", w.opts.Interval))

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("cleanup: pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes one batch and returns how many tasks were resolved.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.queue.PendingBlobCleanups(ctx, w.opts.MaxAttempts, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		if w.process(ctx, t) {
			resolved++
		}
	}
	return resolved, nil
}

func (w *Worker) process(ctx context.Context, t models.CleanupTask) bool {
	attrs := []any{
		slog.Int64("task_id", t.ID),
		slog.String("blob_key", t.BlobKey),
		slog.String("reason", t.Reason),
		slog.String("op_id", t.OpID),
	}

	refs, err := w.queue.CountFileRefs(ctx, t.BlobKey)
	if err != nil {
		w.fail(ctx, t, err, attrs)
		return false
	}
	if refs > 0 {
		w.logger.Info("cleanup: blob referenced again, dropping task", attrs...)
		return w.complete(ctx, t, attrs)
	}

	err = retry.Do(
		func() error { return w.blobs.Delete(ctx, t.BlobKey) },
		retry.Context(ctx),
		retry.Attempts(w.opts.RetryAttempts),
		retry.Delay(w.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, storage.ErrNotFound) }),
		retry.OnRetry(func(attempt uint, err error) {
			w.logger.Debug("cleanup: retrying delete",
				append(attrs, slog.Uint64("attempt", uint64(attempt)), slog.String("error", err.Error()))...)
		}),
	)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.fail(ctx, t, err, attrs)
		return false
	}

	w.logger.Info("cleanup: blob deleted", attrs...)
	return w.complete(ctx, t, attrs)
}

func (w *Worker) complete(ctx context.Context, t models.CleanupTask, attrs []any) bool {
	if err := w.queue.CompleteBlobCleanup(ctx, t.ID); err != nil {
		w.logger.Warn("cleanup: complete failed", append(attrs, slog.String("error", err.Error()))...)
		return false
	}
	return true
}

func (w *Worker) fail(ctx context.Context, t models.CleanupTask, cause error, attrs []any) {
	attrs = append(attrs, slog.Int("attempts", t.Attempts+1), slog.String("error", cause.Error()))
	if t.Attempts+1 >= w.opts.MaxAttempts {
		w.logger.Error("cleanup: giving up on blob", attrs...)
	} else {
		w.logger.Warn("cleanup: delete failed", attrs...)
	}
	if err := w.queue.FailBlobCleanup(ctx, t.ID, cause.Error()); err != nil {
		w.logger.Warn("cleanup: record failure failed", slog.Int64("task_id", t.ID), slog.String("error", err.Error()))
	}
}
