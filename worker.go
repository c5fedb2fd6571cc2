package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gofalre.io/store/models"
)

type EventProcessor interface {
	ProcessEvent(ctx context.Context, cartEvent *models.CartEvent) error
}

type WorkerPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	logger    *zap.Logger
	processor EventProcessor
}

func NewWorkerPool(size int, processor EventProcessor, logger *zap.Logger) *WorkerPool {
	wp := &WorkerPool{
		tasks:     make(chan func(), 1000),
		logger:    logger,
		processor: processor,
	}

	wp.wg.Add(size)
	for i := 0; i < size; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

func (wp *WorkerPool) Submit(ctx context.Context, cartEvent *models.CartEvent) {
	wp.tasks <- func() {
		if err := wp.processor.ProcessEvent(ctx, cartEvent); err != nil {
			wp.logger.Error("Failed to process event",
				zap.Error(err),
				zap.String("event_type", string(cartEvent.Type)),
				zap.String("event_id", cartEvent.ID))
		}
	}
}

// Shutdown stops accepting work and waits for in-flight tasks to drain.
func (wp *WorkerPool) Shutdown() {
	close(wp.tasks)
	wp.wg.Wait()
}
