package jobs

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/JustinTDCT/DoubanLink/internal/models"
)

// Enqueuer is the part of Queue the dispatcher needs.
type Enqueuer interface {
	Enqueue(taskType string, payload any, opts ...asynq.Option) (string, error)
	EnqueueUnique(taskType string, payload any, uniqueID string, opts ...asynq.Option) (string, error)
}

// PersistDispatcher hands persistence work to the durable queue when one is
// configured and to the in-process runner otherwise. The caller never waits
// for the write.
type PersistDispatcher struct {
	queue     Enqueuer
	runner    *Runner
	persister Persister
	logger    *log.Logger
}

// NewPersistDispatcher builds a dispatcher. queue may be nil.
func NewPersistDispatcher(queue Enqueuer, runner *Runner, persister Persister, logger *log.Logger) *PersistDispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &PersistDispatcher{queue: queue, runner: runner, persister: persister, logger: logger}
}

// SchedulePersist queues one background write of results.
func (d *PersistDispatcher) SchedulePersist(results []models.Resolution, skipEmpty bool) {
	if len(results) == 0 {
		return
	}
	if d.queue != nil {
		_, err := d.queue.Enqueue(TaskPersistMappings, PersistPayload{Results: results, SkipEmpty: skipEmpty},
			asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
		if err == nil {
			return
		}
		d.logger.Printf("[jobs] enqueue persist failed, running in-process: %v", err)
	}

	batch := make([]*models.Resolution, len(results))
	for i := range results {
		r := results[i]
		batch[i] = &r
	}
	d.runner.Go("persist mappings", func(ctx context.Context) error {
		return d.persister.Persist(ctx, batch, skipEmpty)
	})
}

// ScheduleSweep asks for a sweep. With a queue the task ID is fixed so
// concurrent instances run it once.
func (d *PersistDispatcher) ScheduleSweep(sweeper Sweeper, limit int) {
	if d.queue != nil {
		_, err := d.queue.EnqueueUnique(TaskSweepUnresolved, SweepPayload{Limit: limit}, "sweep-unresolved", asynq.MaxRetry(0))
		if err == nil {
			return
		}
		d.logger.Printf("[jobs] enqueue sweep failed, running in-process: %v", err)
	}
	d.runner.Go("sweep unresolved", func(ctx context.Context) error {
		return sweeper.Sweep(ctx, limit)
	})
}
