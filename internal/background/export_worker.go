package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ExportSource yields queued export request ids
type ExportSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
}

// ExportProcessor builds one export
type ExportProcessor interface {
	Process(ctx context.Context, id string) error
}

// ExportWorker drains the export queue with a fixed number of goroutines
type ExportWorker struct {
	source      ExportSource
	processor   ExportProcessor
	concurrency int
	pollTimeout time.Duration
	jobTimeout  time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewExportWorker creates a worker. Concurrency below one is raised to one.
func NewExportWorker(source ExportSource, processor ExportProcessor, concurrency int, logger *slog.Logger) *ExportWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ExportWorker{
		source:      source,
		processor:   processor,
		concurrency: concurrency,
		pollTimeout: 5 * time.Second,
		jobTimeout:  5 * time.Minute,
		logger:      logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled; use Wait to
// block until in-flight exports finish.
func (w *ExportWorker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(n int) {
			defer w.wg.Done()
			w.loop(ctx, n)
		}(i)
	}
}

// Wait blocks until every worker goroutine has returned
func (w *ExportWorker) Wait() {
	w.wg.Wait()
}

func (w *ExportWorker) loop(ctx context.Context, n int) {
	logger := w.logger.With(slog.Int("worker", n))
	for {
		if ctx.Err() != nil {
			return
		}

		id, err := w.source.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.Error("failed to read export queue", slog.Any("error", err))
			// back off so a dead queue does not spin
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if id == "" {
			continue
		}

		w.handle(ctx, logger, id)
	}
}

func (w *ExportWorker) handle(ctx context.Context, logger *slog.Logger, id string) {
	// an export in progress is allowed to finish after shutdown begins
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	start := time.Now()
	if err := w.processor.Process(jobCtx, id); err != nil {
		logger.Error("data export failed", slog.String("export_id", id), slog.Any("error", err))
		return
	}
	logger.Debug("data export processed", slog.String("export_id", id), slog.Duration("took", time.Since(start)))
}
