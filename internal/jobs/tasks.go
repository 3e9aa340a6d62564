package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/JustinTDCT/DoubanLink/internal/models"
)

// ──────── Payloads ────────

type PersistPayload struct {
	Results   []models.Resolution `json:"results"`
	SkipEmpty bool                `json:"skip_empty"`
}

type SweepPayload struct {
	Limit int `json:"limit"`
}

// Persister writes resolution results. repository.MappingRepository
// satisfies it.
type Persister interface {
	Persist(ctx context.Context, results []*models.Resolution, skipEmpty bool) error
}

// Sweeper re-resolves stored rows that are still missing IDs.
type Sweeper interface {
	Sweep(ctx context.Context, limit int) error
}

// ──────── Register all handlers ────────

func RegisterHandlers(q *Queue, persister Persister, sweeper Sweeper) {
	q.RegisterHandler(TaskPersistMappings, NewPersistHandler(persister))
	if sweeper != nil {
		q.RegisterHandler(TaskSweepUnresolved, NewSweepHandler(sweeper))
	}
}

// ──────── Persist Handler ────────

type PersistHandler struct {
	persister Persister
}

func NewPersistHandler(p Persister) *PersistHandler {
	return &PersistHandler{persister: p}
}

func (h *PersistHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload PersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// a malformed payload will never succeed
		return fmt.Errorf("decode persist payload: %v: %w", err, asynq.SkipRetry)
	}
	results := make([]*models.Resolution, len(payload.Results))
	for i := range payload.Results {
		results[i] = &payload.Results[i]
	}
	log.Printf("[jobs] persisting %d mappings", len(results))
	return h.persister.Persist(ctx, results, payload.SkipEmpty)
}

// ──────── Sweep Handler ────────

type SweepHandler struct {
	sweeper Sweeper
}

func NewSweepHandler(s Sweeper) *SweepHandler {
	return &SweepHandler{sweeper: s}
}

func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	return h.sweeper.Sweep(ctx, payload.Limit)
}
