package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/JustinTDCT/DoubanLink/internal/metadata"
	"github.com/JustinTDCT/DoubanLink/internal/models"
)

// sweepGroupSize bounds how many subjects are resolved at once.
const sweepGroupSize = 10

type UnresolvedStore interface {
	ListUnresolved(ctx context.Context, limit int) ([]models.IDMapping, error)
	Persist(ctx context.Context, results []*models.Resolution, skipEmpty bool) error
}

type DetailSource interface {
	SubjectDetail(ctx context.Context, subjectID int64) (*metadata.SubjectDetail, error)
}

type ItemResolver interface {
	Resolve(ctx context.Context, item models.SourceItem) models.Resolution
}

// Sweep re-resolves stored rows that are still missing a TMDB ID. Every
// visited row is written back, even without new IDs, so its updated_at
// moves it to the back of the next sweep.
type Sweep struct {
	store        UnresolvedStore
	source       DetailSource
	resolver     ItemResolver
	defaultLimit int
	logger       *log.Logger
}

func NewSweep(store UnresolvedStore, source DetailSource, resolver ItemResolver, defaultLimit int, logger *log.Logger) *Sweep {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweep{store: store, source: source, resolver: resolver, defaultLimit: defaultLimit, logger: logger}
}

// Sweep processes up to limit rows (the configured default when limit <= 0).
func (s *Sweep) Sweep(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	rows, err := s.store.ListUnresolved(ctx, limit)
	if err != nil {
		return fmt.Errorf("list unresolved: %w", err)
	}
	s.logger.Printf("[sweep] 🔍 found %d items to process", len(rows))

	improved := 0
	for start := 0; start < len(rows); start += sweepGroupSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+sweepGroupSize, len(rows))
		group := rows[start:end]

		results := make([]*models.Resolution, len(group))
		var wg sync.WaitGroup
		for i, row := range group {
			wg.Add(1)
			go func(i int, row models.IDMapping) {
				defer wg.Done()
				results[i] = s.resolveRow(ctx, row)
			}(i, row)
		}
		wg.Wait()

		for i, res := range results {
			if res.TMDBID != nil && group[i].TMDBID == nil {
				improved++
			}
		}
		if err := s.store.Persist(ctx, results, false); err != nil {
			return fmt.Errorf("persist sweep results: %w", err)
		}
	}
	s.logger.Printf("[sweep] 🎉 processed %d items, %d gained a TMDB ID", len(rows), improved)
	return nil
}

func (s *Sweep) resolveRow(ctx context.Context, row models.IDMapping) *models.Resolution {
	out := row.Resolution()
	detail, err := s.source.SubjectDetail(ctx, row.SourceID)
	if err != nil {
		s.logger.Printf("[sweep] douban:%d detail: %v", row.SourceID, err)
		return &out
	}
	item := detail.SourceItem()
	item.SourceID = row.SourceID
	found := s.resolver.Resolve(ctx, item)
	// fresh results win, stored fields fill the gaps
	found.Fill(out)
	return &found
}
