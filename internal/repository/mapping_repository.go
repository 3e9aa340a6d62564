package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JustinTDCT/DoubanLink/internal/models"
)

var validate = validator.New()

// ErrInvalidMapping marks a manual edit that fails validation.
var ErrInvalidMapping = errors.New("invalid mapping")

type MappingRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewMappingRepository(db *sql.DB, logger *log.Logger) *MappingRepository {
	if logger == nil {
		logger = log.Default()
	}
	return &MappingRepository{db: db, logger: logger}
}

// MappingLookup splits a bulk read into rows that carry at least one
// external ID and IDs that still need resolving.
type MappingLookup struct {
	Found   map[int64]models.Resolution
	Missing []int64
}

const mappingColumns = `source_id, imdb_id, tmdb_id, trakt_id, calibrated, created_at, updated_at`

func scanMapping(row interface{ Scan(...any) error }) (*models.IDMapping, error) {
	var (
		m     models.IDMapping
		imdb  sql.NullString
		tmdb  sql.NullInt64
		trakt sql.NullInt64
	)
	if err := row.Scan(&m.SourceID, &imdb, &tmdb, &trakt, &m.Calibrated, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if imdb.Valid {
		m.IMDbID = &imdb.String
	}
	if tmdb.Valid {
		m.TMDBID = &tmdb.Int64
	}
	if trakt.Valid {
		m.TraktID = &trakt.Int64
	}
	return &m, nil
}

func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

// FetchMappings reads every requested row in one query. Missing keeps the
// order of ids and has no duplicates.
func (r *MappingRepository) FetchMappings(ctx context.Context, ids []int64) (*MappingLookup, error) {
	out := &MappingLookup{Found: make(map[int64]models.Resolution)}
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + mappingColumns + ` FROM id_mappings WHERE source_id IN (` + placeholders(1, len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		res := m.Resolution()
		if res.Resolved() {
			out.Found[m.SourceID] = res
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := out.Found[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		out.Missing = append(out.Missing, id)
	}
	if len(out.Found) > 0 {
		r.logger.Printf("[mappings] found %d of %d ids in database", len(out.Found), len(ids))
	}
	return out, nil
}

// Persist upserts automated resolution results in a single statement.
// Known fields are never replaced by NULL and calibrated rows are left
// untouched. Nil entries are ignored, entries that fail validation are
// dropped with a warning, and with skipEmpty results without any ID are
// not written at all.
func (r *MappingRepository) Persist(ctx context.Context, results []*models.Resolution, skipEmpty bool) error {
	batch := make([]models.Resolution, 0, len(results))
	index := make(map[int64]int, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		clean := normalizeResolution(*res)
		if skipEmpty && !clean.Resolved() {
			continue
		}
		if err := validate.Struct(clean); err != nil {
			r.logger.Printf("[mappings] ⚠️ dropping invalid mapping for %d: %v", clean.SourceID, err)
			continue
		}
		// a statement may not touch the same row twice
		if i, ok := index[clean.SourceID]; ok {
			clean.Fill(batch[i])
			batch[i] = clean
			continue
		}
		index[clean.SourceID] = len(batch)
		batch = append(batch, clean)
	}
	if len(batch) == 0 {
		return nil
	}

	values := make([]string, len(batch))
	args := make([]any, 0, len(batch)*4)
	for i, res := range batch {
		values[i] = "(" + placeholders(i*4+1, 4) + ")"
		args = append(args, res.SourceID, res.IMDbID, res.TMDBID, res.TraktID)
	}
	query := `INSERT INTO id_mappings (source_id, imdb_id, tmdb_id, trakt_id)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (source_id) DO UPDATE SET
			imdb_id = COALESCE(excluded.imdb_id, id_mappings.imdb_id),
			tmdb_id = COALESCE(excluded.tmdb_id, id_mappings.tmdb_id),
			trakt_id = COALESCE(excluded.trakt_id, id_mappings.trakt_id),
			updated_at = CURRENT_TIMESTAMP
		WHERE id_mappings.calibrated = FALSE`

	r.logger.Printf("[mappings] 🗄️ upserting %d mappings", len(batch))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("persist mappings: %w", err)
	}
	return nil
}

// normalizeResolution turns blank IMDb IDs and zero TMDB or Trakt IDs into
// nil, so they are stored as NULL.
func normalizeResolution(res models.Resolution) models.Resolution {
	if res.IMDbID != nil {
		if id := strings.TrimSpace(*res.IMDbID); id != "" {
			res.IMDbID = &id
		} else {
			res.IMDbID = nil
		}
	}
	if res.TMDBID != nil && *res.TMDBID == 0 {
		res.TMDBID = nil
	}
	if res.TraktID != nil && *res.TraktID == 0 {
		res.TraktID = nil
	}
	return res
}

// ManualEdit writes all three IDs verbatim, NULLs included, and locks the
// row against automated writes.
func (r *MappingRepository) ManualEdit(ctx context.Context, m models.IDMapping) (*models.IDMapping, error) {
	res := normalizeResolution(m.Resolution())
	if err := validate.Struct(res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	query := `INSERT INTO id_mappings (source_id, imdb_id, tmdb_id, trakt_id, calibrated)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (source_id) DO UPDATE SET
			imdb_id = excluded.imdb_id,
			tmdb_id = excluded.tmdb_id,
			trakt_id = excluded.trakt_id,
			calibrated = TRUE,
			updated_at = CURRENT_TIMESTAMP`
	if _, err := r.db.ExecContext(ctx, query, res.SourceID, res.IMDbID, res.TMDBID, res.TraktID); err != nil {
		return nil, fmt.Errorf("manual edit %d: %w", res.SourceID, err)
	}
	r.logger.Printf("[mappings] ✏️ calibrated %d", res.SourceID)
	return r.Get(ctx, res.SourceID)
}

// Get returns the stored row, or nil when there is none.
func (r *MappingRepository) Get(ctx context.Context, sourceID int64) (*models.IDMapping, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM id_mappings WHERE source_id = $1`, sourceID)
	m, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping %d: %w", sourceID, err)
	}
	return m, nil
}

// FindSourceIDs is the reverse lookup: the Douban IDs mapped to a TMDB or
// IMDb ID. Either argument may be empty.
func (r *MappingRepository) FindSourceIDs(ctx context.Context, tmdbID *int64, imdbID string) ([]int64, error) {
	var (
		conds []string
		args  []any
	)
	if tmdbID != nil {
		args = append(args, *tmdbID)
		conds = append(conds, fmt.Sprintf("tmdb_id = $%d", len(args)))
	}
	if imdbID != "" {
		args = append(args, imdbID)
		conds = append(conds, fmt.Sprintf("imdb_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT source_id FROM id_mappings WHERE `+strings.Join(conds, " OR ")+` ORDER BY source_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("find source ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUnresolved returns uncalibrated rows without a TMDB ID, least
// recently touched first.
func (r *MappingRepository) ListUnresolved(ctx context.Context, limit int) ([]models.IDMapping, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+mappingColumns+` FROM id_mappings
		WHERE tmdb_id IS NULL AND calibrated = FALSE
		ORDER BY updated_at ASC, source_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved: %w", err)
	}
	defer rows.Close()

	var out []models.IDMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
