package metadata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/DoubanLink/internal/models"
)

type fakeSource struct {
	desc    map[int64]map[string]string
	descErr error
	details map[int64]*SubjectDetail
}

func (f *fakeSource) DetailDescription(_ context.Context, id int64) (map[string]string, error) {
	if f.descErr != nil {
		return nil, f.descErr
	}
	return f.desc[id], nil
}

func (f *fakeSource) SubjectDetail(_ context.Context, id int64) (*SubjectDetail, error) {
	d, ok := f.details[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

type fakeTrakt struct {
	mu         sync.Mutex
	byIMDb     map[string][]TraktResult
	byTitle    map[string][]TraktResult
	titleErr   error
	imdbCalls  []string
	titleCalls []string
}

func (f *fakeTrakt) SearchByIMDb(_ context.Context, id string) ([]TraktResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imdbCalls = append(f.imdbCalls, id)
	return f.byIMDb[id], nil
}

func (f *fakeTrakt) Search(_ context.Context, kind TraktKind, q string) ([]TraktResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titleCalls = append(f.titleCalls, string(kind)+":"+q)
	if f.titleErr != nil {
		return nil, f.titleErr
	}
	return f.byTitle[q], nil
}

type fakeIMDb map[string]string

func (f fakeIMDb) SeriesID(_ context.Context, id string) (string, error) { return f[id], nil }

type fakeTMDB struct {
	results  map[string][]TMDBSearchResult
	external map[int64]*ExternalIDs
	queries  []string
}

func (f *fakeTMDB) Search(_ context.Context, _ models.MediaType, q, _, lang string) ([]TMDBSearchResult, error) {
	f.queries = append(f.queries, lang+":"+q)
	return f.results[q], nil
}

func (f *fakeTMDB) ExternalIDs(_ context.Context, _ models.MediaType, id int64) (*ExternalIDs, error) {
	if e, ok := f.external[id]; ok {
		return e, nil
	}
	return nil, errors.New("no external ids")
}

func movie(title, original string, year int, imdb string, tmdb, trakt int64) TraktResult {
	y := year
	return TraktResult{Type: TraktMovie, Movie: &TraktMedia{
		Title: title, OriginalTitle: original, Year: &y,
		IDs: TraktIDs{IMDb: &imdb, TMDB: &tmdb, Trakt: &trakt},
	}}
}

func show(title string, imdb string, tmdb, trakt int64) TraktResult {
	return TraktResult{Type: TraktShow, Show: &TraktMedia{
		Title: title,
		IDs:   TraktIDs{IMDb: &imdb, TMDB: &tmdb, Trakt: &trakt},
	}}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestResolve_DetailPageShortCircuits(t *testing.T) {
	source := &fakeSource{desc: map[int64]map[string]string{
		1292052: {"IMDb": "tt0111161", "片长": "142分钟"},
	}}
	trakt := &fakeTrakt{byIMDb: map[string][]TraktResult{
		"tt0111161": {movie("The Shawshank Redemption", "", 1994, "tt0111161", 278, 1)},
	}}
	tmdb := &fakeTMDB{}
	r := NewResolver(ResolverDeps{Source: source, Trakt: trakt, TMDB: tmdb}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 1292052, MediaType: models.MediaTypeMovie, Title: "肖申克的救赎",
	})

	require.NotNil(t, got.IMDbID)
	require.NotNil(t, got.TMDBID)
	require.NotNil(t, got.TraktID)
	assert.Equal(t, "tt0111161", *got.IMDbID)
	assert.Equal(t, int64(278), *got.TMDBID)
	assert.Equal(t, int64(1), *got.TraktID)
	assert.Empty(t, trakt.titleCalls)
	assert.Empty(t, tmdb.queries)
}

func TestResolve_AmbiguousTitleSearchYieldsNothing(t *testing.T) {
	trakt := &fakeTrakt{byTitle: map[string][]TraktResult{
		"深夜食堂": {
			movie("Midnight Diner", "Shinya Shokudo", 2015, "tt1", 10, 100),
			movie("Midnight Diner 2", "Zoku Shinya Shokudo", 2016, "tt2", 20, 200),
		},
	}}
	var buf bytes.Buffer
	r := NewResolver(ResolverDeps{
		Source: &fakeSource{},
		Trakt:  trakt,
		TMDB:   &fakeTMDB{},
	}, log.New(&buf, "", 0))

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 3, MediaType: models.MediaTypeMovie, Title: "深夜食堂",
	})

	assert.False(t, got.Resolved())
	assert.Equal(t, int64(3), got.SourceID)
	out := buf.String()
	assert.Contains(t, out, "ambiguous")
	assert.Contains(t, out, "Midnight Diner (2015)")
	assert.Contains(t, out, "Midnight Diner 2 (2016)")
}

func TestResolve_TitleSearchNarrowsByNormalizedTitle(t *testing.T) {
	trakt := &fakeTrakt{byTitle: map[string][]TraktResult{
		"深夜食堂 第二季": {
			show("深夜食堂", "tt5", 50, 500),
			show("Another Diner", "tt6", 60, 600),
		},
	}}
	r := NewResolver(ResolverDeps{Source: &fakeSource{}, Trakt: trakt}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 4, MediaType: models.MediaTypeSeries, Title: "深夜食堂 第二季",
	})

	require.NotNil(t, got.TMDBID)
	assert.Equal(t, int64(50), *got.TMDBID)
	assert.Equal(t, []string{"show:深夜食堂 第二季"}, trakt.titleCalls)
}

func TestResolve_TitleSearchYearTieBreak(t *testing.T) {
	trakt := &fakeTrakt{byTitle: map[string][]TraktResult{
		"Dune": {
			movie("Dune", "", 1984, "tt0087182", 841, 7),
			movie("Dune", "", 2021, "tt1160419", 438631, 8),
		},
	}}
	r := NewResolver(ResolverDeps{Source: &fakeSource{}, Trakt: trakt}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 5, MediaType: models.MediaTypeMovie, Title: "沙丘", OriginalTitle: "Dune", Year: "2021",
	})

	require.NotNil(t, got.TMDBID)
	assert.Equal(t, int64(438631), *got.TMDBID)
}

func TestResolve_SeasonIMDbCorrectedToSeries(t *testing.T) {
	source := &fakeSource{desc: map[int64]map[string]string{7: {"IMDb": "tt9000001"}}}
	trakt := &fakeTrakt{byIMDb: map[string][]TraktResult{
		"tt9000000": {show("Midnight Diner", "tt9000000", 61303, 64842)},
	}}
	r := NewResolver(ResolverDeps{
		Source: source,
		Trakt:  trakt,
		IMDb:   fakeIMDb{"tt9000001": "tt9000000"},
	}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 7, MediaType: models.MediaTypeSeries, Title: "深夜食堂 第二季",
	})

	require.NotNil(t, got.IMDbID)
	assert.Equal(t, "tt9000000", *got.IMDbID)
	assert.Equal(t, int64(61303), *got.TMDBID)
	assert.Equal(t, []string{"tt9000001", "tt9000000"}, trakt.imdbCalls)
	assert.Empty(t, trakt.titleCalls)
}

func TestResolve_SeriesCorrectionOnlyOnZeroHits(t *testing.T) {
	source := &fakeSource{desc: map[int64]map[string]string{9: {"IMDb": "tt100"}}}
	trakt := &fakeTrakt{byIMDb: map[string][]TraktResult{
		"tt100": {
			show("Midnight Diner", "tt100", 1, 11),
			show("Midnight Diner: Tokyo Stories", "tt101", 2, 22),
		},
		"tt999": {show("Midnight Diner", "tt999", 61303, 64842)},
	}}
	r := NewResolver(ResolverDeps{
		Source: source,
		Trakt:  trakt,
		IMDb:   fakeIMDb{"tt100": "tt999"},
	}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 9, MediaType: models.MediaTypeSeries, Title: "深夜食堂",
	})

	require.NotNil(t, got.IMDbID)
	assert.Equal(t, "tt100", *got.IMDbID)
	assert.Nil(t, got.TMDBID)
	assert.Nil(t, got.TraktID)
	assert.Equal(t, []string{"tt100"}, trakt.imdbCalls)
}

func TestResolve_ScrapedIMDbKeptWhenTraktHasNothing(t *testing.T) {
	source := &fakeSource{desc: map[int64]map[string]string{8: {"IMDb": "tt123"}}}
	tmdb := &fakeTMDB{results: map[string][]TMDBSearchResult{"霸王别姬": {{ID: 10997}}}}
	r := NewResolver(ResolverDeps{Source: source, Trakt: &fakeTrakt{}, TMDB: tmdb}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 8, MediaType: models.MediaTypeMovie, Title: "霸王别姬",
	})

	assert.Equal(t, "tt123", *got.IMDbID)
	assert.Equal(t, int64(10997), *got.TMDBID)
	assert.Nil(t, got.TraktID)
}

func TestResolve_TMDBFallbackBackfillsIMDb(t *testing.T) {
	imdb := "tt0101889"
	tmdb := &fakeTMDB{
		results: map[string][]TMDBSearchResult{
			"深夜食堂": {{ID: 42}, {ID: 43}},
		},
		external: map[int64]*ExternalIDs{42: {ID: 42, IMDbID: &imdb}},
	}
	trakt := &fakeTrakt{titleErr: errors.New("trakt down")}
	r := NewResolver(ResolverDeps{Source: &fakeSource{}, Trakt: trakt, TMDB: tmdb}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{
		SourceID: 9, MediaType: models.MediaTypeSeries, Title: "深夜食堂 第三季",
	})

	require.NotNil(t, got.TMDBID)
	assert.Equal(t, int64(42), *got.TMDBID)
	assert.Equal(t, "tt0101889", *got.IMDbID)
	assert.Equal(t, []string{"en-US:深夜食堂 第三季", "en-US:深夜食堂"}, tmdb.queries)
}

func TestResolve_EverythingFailing(t *testing.T) {
	r := NewResolver(ResolverDeps{
		Source: &fakeSource{descErr: errors.New("douban down")},
		Trakt:  &fakeTrakt{titleErr: errors.New("trakt down")},
		TMDB:   &fakeTMDB{},
	}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{SourceID: 10, Title: "x"})
	assert.Equal(t, models.Resolution{SourceID: 10}, got)
}

func TestResolve_LiveDetailLookupWhenTitleMissing(t *testing.T) {
	source := &fakeSource{details: map[int64]*SubjectDetail{
		11: {ID: 11, Type: "movie", Title: "活着", OriginalTitle: "活着"},
	}}
	trakt := &fakeTrakt{byTitle: map[string][]TraktResult{
		"活着": {movie("To Live", "活着", 1994, "tt0110081", 31439, 3)},
	}}
	r := NewResolver(ResolverDeps{Source: source, Trakt: trakt}, quietLogger())

	got := r.Resolve(context.Background(), models.SourceItem{SourceID: 11, MediaType: models.MediaTypeMovie})

	require.NotNil(t, got.TraktID)
	assert.Equal(t, int64(3), *got.TraktID)
}

func TestTraktResult_Media(t *testing.T) {
	m := &TraktMedia{Title: "m"}
	s := &TraktMedia{Title: "s"}
	assert.Equal(t, m, TraktResult{Type: TraktMovie, Movie: m, Show: s}.Media())
	assert.Equal(t, s, TraktResult{Type: TraktShow, Movie: m, Show: s}.Media())
	assert.Equal(t, s, TraktResult{Type: TraktEpisode, Show: s}.Media())
	assert.Nil(t, TraktResult{Type: "person"}.Media())
}
