package repository

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/DoubanLink/internal/db"
	"github.com/JustinTDCT/DoubanLink/internal/models"
)

func setupTestDB(t *testing.T) *MappingRepository {
	t.Helper()
	d, err := db.Connect(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, db.Migrate(d))
	return NewMappingRepository(d.DB, log.New(io.Discard, "", 0))
}

func res(id int64, imdb string, tmdb, trakt int64) *models.Resolution {
	return &models.Resolution{
		SourceID: id,
		IMDbID:   models.StringPtr(imdb),
		TMDBID:   models.Int64Ptr(tmdb),
		TraktID:  models.Int64Ptr(trakt),
	}
}

func TestPersist_CoalesceNeverErasesKnownFields(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Persist(ctx, []*models.Resolution{res(1, "tt1", 0, 0)}, true))
	require.NoError(t, repo.Persist(ctx, []*models.Resolution{res(1, "", 42, 0)}, true))
	require.NoError(t, repo.Persist(ctx, []*models.Resolution{res(1, "", 0, 0)}, false))

	m, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "tt1", *m.IMDbID)
	assert.Equal(t, int64(42), *m.TMDBID)
	assert.Nil(t, m.TraktID)

	// a new non-null value wins
	require.NoError(t, repo.Persist(ctx, []*models.Resolution{res(1, "tt9", 0, 7)}, true))
	m, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "tt9", *m.IMDbID)
	assert.Equal(t, int64(42), *m.TMDBID)
	assert.Equal(t, int64(7), *m.TraktID)
}

func TestPersist_CalibratedRowIsLocked(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	before, err := repo.ManualEdit(ctx, models.IDMapping{SourceID: 2, IMDbID: models.StringPtr("tt2")})
	require.NoError(t, err)
	require.True(t, before.Calibrated)

	require.NoError(t, repo.Persist(ctx, []*models.Resolution{res(2, "tt999", 5, 6)}, true))
	require.NoError(t, repo.Persist(ctx, []*models.Resolution{res(2, "", 0, 0)}, false))

	after, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestManualEdit_WritesVerbatim(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Persist(ctx, []*models.Resolution{res(3, "tt3", 30, 300)}, true))

	m, err := repo.ManualEdit(ctx, models.IDMapping{SourceID: 3, TMDBID: models.Int64Ptr(31)})
	require.NoError(t, err)
	assert.Nil(t, m.IMDbID)
	assert.Equal(t, int64(31), *m.TMDBID)
	assert.Nil(t, m.TraktID)
	assert.True(t, m.Calibrated)

	// editing again is allowed even though the row is calibrated
	m, err = repo.ManualEdit(ctx, models.IDMapping{SourceID: 3, IMDbID: models.StringPtr("tt3")})
	require.NoError(t, err)
	assert.Equal(t, "tt3", *m.IMDbID)
	assert.Nil(t, m.TMDBID)
}

func TestManualEdit_RejectsInvalid(t *testing.T) {
	repo := setupTestDB(t)
	_, err := repo.ManualEdit(context.Background(), models.IDMapping{SourceID: 0})
	assert.ErrorIs(t, err, ErrInvalidMapping)
}

func TestFetchMappings_EmptyRowIsMissing(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Persist(ctx, []*models.Resolution{
		res(4, "tt4", 0, 0),
		res(5, "", 0, 0),
	}, false))

	lookup, err := repo.FetchMappings(ctx, []int64{6, 5, 4, 6})
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5}, lookup.Missing)
	require.Contains(t, lookup.Found, int64(4))
	assert.Equal(t, "tt4", *lookup.Found[4].IMDbID)
	assert.NotContains(t, lookup.Found, int64(5))
}

func TestFetchMappings_NoIDs(t *testing.T) {
	repo := setupTestDB(t)
	lookup, err := repo.FetchMappings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, lookup.Found)
	assert.Empty(t, lookup.Missing)
}

func TestPersist_FiltersNilEmptyAndInvalid(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	long := "tt" + string(make([]byte, 64))
	err := repo.Persist(ctx, []*models.Resolution{
		nil,
		res(7, "", 0, 0),
		{SourceID: 8, IMDbID: &long},
		{SourceID: -1, TMDBID: models.Int64Ptr(1)},
		res(9, "tt9", 0, 0),
	}, true)
	require.NoError(t, err)

	for _, id := range []int64{7, 8, -1} {
		m, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, m, "row %d should not exist", id)
	}
	m, err := repo.Get(ctx, 9)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestPersist_DuplicatesInOneBatchAreMerged(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Persist(ctx, []*models.Resolution{
		res(10, "tt10", 0, 0),
		res(10, "", 100, 0),
	}, true))

	m, err := repo.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "tt10", *m.IMDbID)
	assert.Equal(t, int64(100), *m.TMDBID)
}

func TestPersist_NothingToWrite(t *testing.T) {
	repo := setupTestDB(t)
	assert.NoError(t, repo.Persist(context.Background(), []*models.Resolution{nil, res(1, "", 0, 0)}, true))
}

func TestFindSourceIDs(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repo.Persist(ctx, []*models.Resolution{
		res(11, "tt11", 278, 0),
		res(12, "tt12", 0, 0),
		res(13, "", 278, 0),
	}, true))

	tmdb := int64(278)
	ids, err := repo.FindSourceIDs(ctx, &tmdb, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 13}, ids)

	ids, err = repo.FindSourceIDs(ctx, nil, "tt12")
	require.NoError(t, err)
	assert.Equal(t, []int64{12}, ids)

	ids, err = repo.FindSourceIDs(ctx, nil, "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListUnresolved(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repo.Persist(ctx, []*models.Resolution{
		res(20, "tt20", 0, 0),
		res(21, "", 0, 0),
		res(22, "tt22", 222, 0),
	}, false))
	_, err := repo.ManualEdit(ctx, models.IDMapping{SourceID: 23})
	require.NoError(t, err)

	rows, err := repo.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.SourceID)
	}
	assert.Equal(t, []int64{20, 21}, ids)
}

func TestNormalizeResolution_BlankAndZeroBecomeNil(t *testing.T) {
	blank, zero := "  ", int64(0)
	trimmed, tmdb := " tt1 ", int64(5)

	got := normalizeResolution(models.Resolution{SourceID: 1, IMDbID: &blank, TMDBID: &zero, TraktID: &zero})
	assert.Nil(t, got.IMDbID)
	assert.Nil(t, got.TMDBID)
	assert.Nil(t, got.TraktID)

	got = normalizeResolution(models.Resolution{SourceID: 1, IMDbID: &trimmed, TMDBID: &tmdb})
	require.NotNil(t, got.IMDbID)
	assert.Equal(t, "tt1", *got.IMDbID)
	assert.Equal(t, int64(5), *got.TMDBID)
}
