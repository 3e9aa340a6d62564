package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

const (
	TaskPersistMappings = "mapping:persist"
	TaskSweepUnresolved = "sweep:unresolved"
)

// Persist writes are latency sensitive; sweeps can wait behind them.
const (
	QueueMappings = "mappings"
	QueueSweep    = "sweep"
)

var taskQueues = map[string]string{
	TaskPersistMappings: QueueMappings,
	TaskSweepUnresolved: QueueSweep,
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// Queue is the Redis backed task queue shared by every instance.
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
}

func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	opt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueMappings: 3,
			QueueSweep:    1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			log.Printf("[jobs] ❌ %s failed: %v", task.Type(), err)
		}),
	})
	return &Queue{
		client:    asynq.NewClient(opt),
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(opt),
	}
}

func queueFor(taskType string) string {
	if q, ok := taskQueues[taskType]; ok {
		return q
	}
	return QueueMappings
}

func (q *Queue) newTask(taskType string, payload any, opts []asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	opts = append([]asynq.Option{asynq.Queue(queueFor(taskType))}, opts...)
	return asynq.NewTask(taskType, data, opts...), nil
}

func (q *Queue) Enqueue(taskType string, payload any, opts ...asynq.Option) (string, error) {
	task, err := q.newTask(taskType, payload, opts)
	if err != nil {
		return "", err
	}
	info, err := q.client.Enqueue(task)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}

// EnqueueUnique enqueues under a fixed task ID. While a task with that ID is
// pending, scheduled or running the call is a no-op; a finished or archived
// one is removed so the new task can take the ID.
func (q *Queue) EnqueueUnique(taskType string, payload any, uniqueID string, opts ...asynq.Option) (string, error) {
	task, err := q.newTask(taskType, payload, append(opts, asynq.TaskID(uniqueID)))
	if err != nil {
		return "", err
	}
	info, err := q.client.Enqueue(task)
	if err == nil {
		return info.ID, nil
	}
	if !errors.Is(err, asynq.ErrTaskIDConflict) && !errors.Is(err, asynq.ErrDuplicateTask) {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	queueName := queueFor(taskType)
	existing, ierr := q.inspector.GetTaskInfo(queueName, uniqueID)
	if ierr != nil {
		return "", fmt.Errorf("inspect %s: %w", uniqueID, ierr)
	}
	switch existing.State {
	case asynq.TaskStateCompleted, asynq.TaskStateArchived:
		if err := q.inspector.DeleteTask(queueName, uniqueID); err != nil {
			return "", fmt.Errorf("clear %s: %w", uniqueID, err)
		}
		info, err = q.client.Enqueue(task)
		if err != nil {
			return "", fmt.Errorf("enqueue %s: %w", taskType, err)
		}
		return info.ID, nil
	default:
		log.Printf("[jobs] %s (%s) already %s, skipping", taskType, uniqueID, existing.State)
		return uniqueID, nil
	}
}

func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

// Start runs the worker pool in the background. It returns once the
// server is accepting tasks.
func (q *Queue) Start(_ context.Context) error {
	log.Println("[jobs] queue worker starting")
	return q.server.Start(q.mux)
}

func (q *Queue) Stop() {
	q.server.Shutdown()
	if err := q.client.Close(); err != nil {
		log.Printf("[jobs] close client: %v", err)
	}
	if err := q.inspector.Close(); err != nil {
		log.Printf("[jobs] close inspector: %v", err)
	}
}
