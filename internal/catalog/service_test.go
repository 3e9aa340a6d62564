package catalog

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/DoubanLink/internal/httpclient"
	"github.com/JustinTDCT/DoubanLink/internal/metadata"
	"github.com/JustinTDCT/DoubanLink/internal/models"
	"github.com/JustinTDCT/DoubanLink/internal/repository"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type fakeSource struct {
	pages      map[string]*metadata.Collection
	categories map[string]*metadata.CollectionCategory
	detail     *metadata.SubjectDetail
	err        error
	requested  []string
}

func (f *fakeSource) CollectionItems(_ context.Context, id string, skip int) (*metadata.Collection, error) {
	f.requested = append(f.requested, id)
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.pages[id]; ok {
		return p, nil
	}
	return &metadata.Collection{}, nil
}

func (f *fakeSource) CollectionCategory(_ context.Context, id string) (*metadata.CollectionCategory, error) {
	return f.categories[id], nil
}

func (f *fakeSource) SubjectDetail(_ context.Context, id int64) (*metadata.SubjectDetail, error) {
	if f.detail == nil {
		return nil, &httpclient.UpstreamError{StatusCode: 404}
	}
	return f.detail, nil
}

type fakeMappings struct {
	stored map[int64]models.Resolution
	asked  []int64
}

func (f *fakeMappings) FetchMappings(_ context.Context, ids []int64) (*repository.MappingLookup, error) {
	f.asked = ids
	out := &repository.MappingLookup{Found: map[int64]models.Resolution{}}
	for _, id := range ids {
		if r, ok := f.stored[id]; ok {
			out.Found[id] = r
		} else {
			out.Missing = append(out.Missing, id)
		}
	}
	return out, nil
}

type fakeResolver struct {
	mu      sync.Mutex
	results map[int64]models.Resolution
	calls   []int64
}

func (f *fakeResolver) Resolve(_ context.Context, item models.SourceItem) models.Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, item.SourceID)
	if r, ok := f.results[item.SourceID]; ok {
		return r
	}
	return models.Resolution{SourceID: item.SourceID}
}

type recordingPersist struct {
	calls [][]models.Resolution
	skips []bool
}

func (r *recordingPersist) SchedulePersist(results []models.Resolution, skipEmpty bool) {
	r.calls = append(r.calls, results)
	r.skips = append(r.skips, skipEmpty)
}

type fakeImages struct{ asked []string }

func (f *fakeImages) SubjectImages(_ context.Context, _ models.MediaType, id string) *metadata.Images {
	f.asked = append(f.asked, id)
	return &metadata.Images{Poster: "https://fanart/poster.jpg", Background: "https://fanart/bg.jpg"}
}

func newTestService(src *fakeSource, maps *fakeMappings, res *fakeResolver, p *recordingPersist) *Service {
	return NewService(Options{Source: src, Mappings: maps, Resolver: res, Persist: p, Logger: quietLogger()})
}

func TestCatalog_EndToEnd(t *testing.T) {
	imdb := "tt1"
	src := &fakeSource{pages: map[string]*metadata.Collection{
		"movie_hot_gaia": {Total: 2, Items: []models.SourceItem{
			{SourceID: 1, MediaType: models.MediaTypeMovie, Title: "A"},
			{SourceID: 2, MediaType: models.MediaTypeMovie, Title: "B"},
		}},
	}}
	maps := &fakeMappings{stored: map[int64]models.Resolution{1: {SourceID: 1, IMDbID: &imdb}}}
	res := &fakeResolver{results: map[int64]models.Resolution{2: {SourceID: 2, TMDBID: models.Int64Ptr(42)}}}
	p := &recordingPersist{}

	out, err := newTestService(src, maps, res, p).Catalog(context.Background(), CatalogRequest{CollectionID: "movie_hot_gaia"})
	require.NoError(t, err)

	require.Len(t, out.Metas, 2)
	assert.Equal(t, "tt1", out.Metas[0].ID)
	assert.Equal(t, "tt1", out.Metas[0].IMDbID)
	assert.Equal(t, "tmdb:42", out.Metas[1].ID)
	assert.Equal(t, int64(42), *out.Metas[1].TMDBID)

	assert.Equal(t, []int64{2}, res.calls)
	require.Len(t, p.calls, 1)
	require.Len(t, p.calls[0], 1)
	assert.Equal(t, int64(2), p.calls[0][0].SourceID)
	assert.Equal(t, int64(42), *p.calls[0][0].TMDBID)
	assert.False(t, p.skips[0])
}

func TestCatalog_AllMappedSchedulesNothing(t *testing.T) {
	imdb := "tt9"
	src := &fakeSource{pages: map[string]*metadata.Collection{
		"tv_hot": {Items: []models.SourceItem{{SourceID: 9, MediaType: models.MediaTypeSeries, Title: "S"}}},
	}}
	maps := &fakeMappings{stored: map[int64]models.Resolution{9: {SourceID: 9, IMDbID: &imdb}}}
	res := &fakeResolver{}
	p := &recordingPersist{}

	_, err := newTestService(src, maps, res, p).Catalog(context.Background(), CatalogRequest{CollectionID: "tv_hot"})
	require.NoError(t, err)
	assert.Empty(t, res.calls)
	assert.Empty(t, p.calls)
}

func TestCatalog_UnresolvedFallsBackToDoubanID(t *testing.T) {
	src := &fakeSource{pages: map[string]*metadata.Collection{
		"tv_hot": {Items: []models.SourceItem{{SourceID: 5, MediaType: models.MediaTypeSeries, Title: "S"}}},
	}}
	p := &recordingPersist{}
	out, err := newTestService(src, &fakeMappings{}, &fakeResolver{}, p).Catalog(context.Background(), CatalogRequest{CollectionID: "tv_hot"})
	require.NoError(t, err)
	assert.Equal(t, "douban:5", out.Metas[0].ID)
	// the empty row is still recorded for the sweep
	require.Len(t, p.calls, 1)
	assert.False(t, p.calls[0][0].Resolved())
}

func TestCatalog_PreviewFields(t *testing.T) {
	rating := 8.7
	src := &fakeSource{pages: map[string]*metadata.Collection{
		"movie_top250": {Items: []models.SourceItem{{
			SourceID:     3,
			MediaType:    models.MediaTypeMovie,
			Title:        "霸王别姬",
			CardSubtitle: "1993 / 中国大陆 中国香港 / 剧情 爱情 同性 / 陈凯歌 / 张国荣",
			Rating:       &rating,
			URL:          "https://movie.douban.com/subject/1291546/",
			Photos:       []string{"https://img/1.jpg"},
		}}},
	}}
	tmdb := int64(10997)
	maps := &fakeMappings{stored: map[int64]models.Resolution{3: {SourceID: 3, TMDBID: &tmdb}}}

	out, err := newTestService(src, maps, &fakeResolver{}, &recordingPersist{}).
		Catalog(context.Background(), CatalogRequest{CollectionID: "movie_top250", Forward: true})
	require.NoError(t, err)

	m := out.Metas[0]
	assert.Equal(t, []string{"剧情", "爱情", "同性"}, m.Genres)
	assert.Equal(t, "https://img/1.jpg", m.Background)
	assert.Equal(t, "1993 / 中国大陆 中国香港 / 剧情 爱情 同性 / 陈凯歌 / 张国荣", m.Description)
	require.Len(t, m.Links, 1)
	assert.Equal(t, "豆瓣评分：8.7", m.Links[0].Name)
	assert.Equal(t, "tmdb:10997", m.TMDBIDRef)
	assert.Nil(t, m.TMDBID)
	assert.Equal(t, secondsPerDay, out.CacheMaxAge)
}

func TestCatalog_GenreAndYearlyAlias(t *testing.T) {
	src := &fakeSource{
		categories: map[string]*metadata.CollectionCategory{
			"ECE472UNY": {Items: []metadata.CategoryItem{{ID: "ECE472UNY", Name: "全部"}, {ID: "EC_SCIFI", Name: "科幻"}}},
		},
	}
	_, err := newTestService(src, &fakeMappings{}, &fakeResolver{}, &recordingPersist{}).
		Catalog(context.Background(), CatalogRequest{CollectionID: MovieYearlyRankingID, Genre: "科幻"})
	require.NoError(t, err)
	assert.Equal(t, []string{"EC_SCIFI"}, src.requested)
}

func TestCatalog_UpstreamNotFound(t *testing.T) {
	src := &fakeSource{err: &httpclient.UpstreamError{StatusCode: 404}}
	_, err := newTestService(src, &fakeMappings{}, &fakeResolver{}, &recordingPersist{}).
		Catalog(context.Background(), CatalogRequest{CollectionID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	src.err = errors.New("boom")
	_, err = newTestService(src, &fakeMappings{}, &fakeResolver{}, &recordingPersist{}).
		Catalog(context.Background(), CatalogRequest{CollectionID: "nope"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCatalog_ListingSchemaErrorIsNotFound(t *testing.T) {
	src := &fakeSource{err: &metadata.SchemaError{Provider: "douban", Op: "collection items", Err: errors.New("total: required")}}
	_, err := newTestService(src, &fakeMappings{}, &fakeResolver{}, &recordingPersist{}).
		Catalog(context.Background(), CatalogRequest{CollectionID: "movie_hot_gaia"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_FanartOverride(t *testing.T) {
	src := &fakeSource{pages: map[string]*metadata.Collection{
		"movie_showing": {Items: []models.SourceItem{{SourceID: 4, MediaType: models.MediaTypeMovie, Title: "M", CoverURL: "https://douban/cover.jpg"}}},
	}}
	tmdb := int64(77)
	maps := &fakeMappings{stored: map[int64]models.Resolution{4: {SourceID: 4, TMDBID: &tmdb}}}
	images := &fakeImages{}
	svc := NewService(Options{Source: src, Mappings: maps, Resolver: &fakeResolver{}, Persist: &recordingPersist{}, Images: images, Logger: quietLogger()})

	out, err := svc.Catalog(context.Background(), CatalogRequest{CollectionID: "movie_showing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"77"}, images.asked)
	assert.Equal(t, "https://fanart/poster.jpg", out.Metas[0].Poster)
	assert.Equal(t, "https://fanart/bg.jpg", out.Metas[0].Background)
}

func TestMeta(t *testing.T) {
	src := &fakeSource{detail: &metadata.SubjectDetail{
		Type:      "tv",
		Title:     "漫长的季节",
		Intro:     "intro",
		Genres:    []string{"剧情", "悬疑"},
		Countries: []string{"中国大陆"},
		Directors: []metadata.Person{{Name: "辛爽"}},
	}}
	svc := newTestService(src, &fakeMappings{}, &fakeResolver{}, &recordingPersist{})

	m, err := svc.Meta(context.Background(), "douban:35588177")
	require.NoError(t, err)
	assert.Equal(t, "douban:35588177", m.ID)
	assert.Equal(t, models.MediaTypeSeries, m.Type)
	assert.Equal(t, "中国大陆", m.Country)
	require.Len(t, m.Links, 1)
	assert.Equal(t, "director", m.Links[0].Category)

	_, err = svc.Meta(context.Background(), "tt123")
	assert.ErrorIs(t, err, ErrNotFound)

	src.detail = nil
	_, err = svc.Meta(context.Background(), "douban:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManifest(t *testing.T) {
	src := &fakeSource{categories: map[string]*metadata.CollectionCategory{
		"film_genre_27": {Items: []metadata.CategoryItem{{ID: "a", Name: "全部"}, {ID: "b", Name: "美国"}}},
	}}
	svc := newTestService(src, &fakeMappings{}, &fakeResolver{}, &recordingPersist{})

	cats := svc.Manifest(context.Background(), []string{"movie_hot_gaia", "film_genre_27", "unknown"})
	require.Len(t, cats, 2)
	assert.Equal(t, []ExtraOption{{Name: "skip"}}, cats[0].Extra)
	require.Len(t, cats[1].Extra, 2)
	assert.Equal(t, []string{"全部", "美国"}, cats[1].Extra[1].Options)

	assert.Len(t, svc.Manifest(context.Background(), nil), len(DefaultCollections()))
}
