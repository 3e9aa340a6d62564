package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JustinTDCT/DoubanLink/internal/httpclient"
	"github.com/JustinTDCT/DoubanLink/internal/metadata"
	"github.com/JustinTDCT/DoubanLink/internal/models"
	"github.com/JustinTDCT/DoubanLink/internal/repository"
)

var ErrNotFound = errors.New("not found")

const (
	secondsPerDay  = 24 * 60 * 60
	secondsPerWeek = 7 * secondsPerDay

	doubanSearchURL = "https://search.douban.com/movie/subject_search?search_text="
)

// ──── Collaborators ────

// Source reads Douban collections and subjects.
type Source interface {
	CollectionItems(ctx context.Context, collectionID string, skip int) (*metadata.Collection, error)
	CollectionCategory(ctx context.Context, collectionID string) (*metadata.CollectionCategory, error)
	SubjectDetail(ctx context.Context, subjectID int64) (*metadata.SubjectDetail, error)
}

// MappingReader looks up stored ID mappings in bulk.
type MappingReader interface {
	FetchMappings(ctx context.Context, ids []int64) (*repository.MappingLookup, error)
}

// Resolver finds external IDs for an unmapped item.
type Resolver interface {
	Resolve(ctx context.Context, item models.SourceItem) models.Resolution
}

// PersistScheduler writes resolution results in the background.
type PersistScheduler interface {
	SchedulePersist(results []models.Resolution, skipEmpty bool)
}

// ImageProvider supplies artwork overrides for a title.
type ImageProvider interface {
	SubjectImages(ctx context.Context, mt models.MediaType, id string) *metadata.Images
}

// ──── Response shapes ────

// Link is a clickable chip on the meta page.
type Link struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	URL      string `json:"url"`
}

// Meta is one addon meta object, used both in catalogs and on the meta route.
type Meta struct {
	ID          string           `json:"id"`
	Type        models.MediaType `json:"type"`
	Name        string           `json:"name"`
	Poster      string           `json:"poster"`
	Background  string           `json:"background,omitempty"`
	Logo        string           `json:"logo,omitempty"`
	Description string           `json:"description,omitempty"`
	Year        string           `json:"year,omitempty"`
	Genres      []string         `json:"genres,omitempty"`
	Links       []Link           `json:"links,omitempty"`
	Country     string           `json:"country,omitempty"`
	Language    string           `json:"language,omitempty"`
	ReleaseInfo string           `json:"releaseInfo,omitempty"`

	// Forward clients expect tmdb_id as "tmdb:<id>", everyone else a bare tmdbId.
	IMDbID    string `json:"imdb_id,omitempty"`
	TMDBID    *int64 `json:"tmdbId,omitempty"`
	TMDBIDRef string `json:"tmdb_id,omitempty"`
}

// CatalogResponse is a catalog page with its cache hints.
type CatalogResponse struct {
	Metas           []Meta `json:"metas"`
	CacheMaxAge     int    `json:"cacheMaxAge,omitempty"`
	StaleRevalidate int    `json:"staleRevalidate,omitempty"`
	StaleError      int    `json:"staleError,omitempty"`
}

// ExtraOption declares a catalog filter to addon clients.
type ExtraOption struct {
	Name         string   `json:"name"`
	Options      []string `json:"options,omitempty"`
	OptionsLimit int      `json:"optionsLimit,omitempty"`
}

// ManifestCatalog is a collection as advertised in the manifest.
type ManifestCatalog struct {
	Collection
	Extra []ExtraOption `json:"extra,omitempty"`
}

// CatalogRequest is one page request against a collection.
type CatalogRequest struct {
	CollectionID string
	Skip         int
	Genre        string
	Forward      bool // tmdb_id spelling for Forward clients
}

// ──── Service ────

// Options wires a Service. Images is optional.
type Options struct {
	Source   Source
	Mappings MappingReader
	Resolver Resolver
	Persist  PersistScheduler
	Images   ImageProvider // optional
	Workers  int
	Logger   *log.Logger
}

// Service assembles catalog pages, meta objects and manifest entries.
type Service struct {
	source   Source
	mappings MappingReader
	resolver Resolver
	persist  PersistScheduler
	images   ImageProvider
	workers  int
	logger   *log.Logger
}

func NewService(opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Service{
		source:   opts.Source,
		mappings: opts.Mappings,
		resolver: opts.Resolver,
		persist:  opts.Persist,
		images:   opts.Images,
		workers:  opts.Workers,
		logger:   opts.Logger,
	}
}

// Catalog serves one page of a collection with every item carrying the best
// identifier known. Missing mappings are resolved inline and written back in
// the background.
func (s *Service) Catalog(ctx context.Context, req CatalogRequest) (*CatalogResponse, error) {
	collectionID, ok := resolveAlias(req.CollectionID)
	if !ok {
		return nil, ErrNotFound
	}
	if req.Genre != "" {
		category, err := s.source.CollectionCategory(ctx, collectionID)
		if err != nil {
			s.logger.Printf("[catalog] genre lookup for %s: %v", collectionID, err)
		} else if cid, found := category.FindByName(req.Genre); found {
			collectionID = cid
		}
	}

	page, err := s.source.CollectionItems(ctx, collectionID, req.Skip)
	if err != nil {
		var upErr *httpclient.UpstreamError
		if errors.As(err, &upErr) && upErr.IsNotFound() {
			return nil, ErrNotFound
		}
		var schemaErr *metadata.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, fmt.Errorf("collection %s: %w: %v", collectionID, ErrNotFound, schemaErr)
		}
		return nil, fmt.Errorf("collection %s: %w", collectionID, err)
	}
	if len(page.Items) == 0 {
		return &CatalogResponse{Metas: []Meta{}}, nil
	}

	mappings, err := s.lookupMappings(ctx, page.Items)
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, len(page.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, item := range page.Items {
		g.Go(func() error {
			var res *models.Resolution
			if r, ok := mappings[item.SourceID]; ok {
				res = &r
			}
			metas[i] = s.previewMeta(gctx, item, res, req.Forward)
			return nil
		})
	}
	_ = g.Wait()

	return &CatalogResponse{
		Metas:           metas,
		CacheMaxAge:     secondsPerDay,
		StaleRevalidate: secondsPerWeek,
		StaleError:      secondsPerWeek,
	}, nil
}

// lookupMappings merges stored rows with fresh resolutions for the rest and
// schedules a single write of the fresh ones.
func (s *Service) lookupMappings(ctx context.Context, items []models.SourceItem) (map[int64]models.Resolution, error) {
	byID := make(map[int64]models.SourceItem, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, dup := byID[it.SourceID]; !dup {
			ids = append(ids, it.SourceID)
		}
		byID[it.SourceID] = it
	}

	lookup, err := s.mappings.FetchMappings(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch mappings: %w", err)
	}
	out := lookup.Found
	if out == nil {
		out = make(map[int64]models.Resolution)
	}
	if len(lookup.Missing) == 0 {
		return out, nil
	}

	fresh := make([]models.Resolution, len(lookup.Missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range lookup.Missing {
		g.Go(func() error {
			fresh[i] = s.resolver.Resolve(gctx, byID[id])
			return nil
		})
	}
	_ = g.Wait()

	resolved := 0
	for _, res := range fresh {
		if res.Resolved() {
			out[res.SourceID] = res
			resolved++
		}
	}
	s.logger.Printf("[catalog] resolved %d of %d missing mappings", resolved, len(fresh))
	s.persist.SchedulePersist(fresh, false)
	return out, nil
}

func (s *Service) previewMeta(ctx context.Context, item models.SourceItem, res *models.Resolution, forward bool) Meta {
	m := Meta{
		ID:          models.PresentationID(item.SourceID, res),
		Type:        item.MediaType,
		Name:        item.Title,
		Poster:      item.CoverURL,
		Description: item.Description,
		Year:        item.Year,
		Genres:      cardGenres(item.CardSubtitle),
		Links:       []Link{ratingLink(item)},
	}
	if m.Description == "" {
		m.Description = item.CardSubtitle
	}
	if len(item.Photos) > 0 {
		m.Background = item.Photos[0]
	}
	if res == nil {
		return m
	}

	if res.IMDbID != nil {
		m.IMDbID = *res.IMDbID
	}
	if res.TMDBID != nil {
		if forward {
			m.TMDBIDRef = "tmdb:" + strconv.FormatInt(*res.TMDBID, 10)
		} else {
			m.TMDBID = res.TMDBID
		}
	}

	if s.images != nil {
		searchID := m.IMDbID
		if res.TMDBID != nil {
			searchID = strconv.FormatInt(*res.TMDBID, 10)
		}
		if img := s.images.SubjectImages(ctx, item.MediaType, searchID); img != nil {
			if img.Poster != "" {
				m.Poster = img.Poster
			}
			m.Background = img.Background
			m.Logo = img.Logo
		}
	}
	return m
}

// cardGenres picks the genre segment out of "2024 / 美国 / 剧情 科幻 / ...".
func cardGenres(subtitle string) []string {
	parts := strings.Split(subtitle, "/")
	if len(parts) < 3 {
		return nil
	}
	return strings.Fields(parts[2])
}

func ratingLink(item models.SourceItem) Link {
	score := "N/A"
	if item.Rating != nil {
		score = strconv.FormatFloat(*item.Rating, 'f', -1, 64)
	}
	link := Link{Name: "豆瓣评分：" + score, Category: "douban", URL: item.URL}
	if link.URL == "" {
		link.URL = "#"
	}
	return link
}

// Meta returns the detail view for a douban:<id> identifier. Resolved
// identifiers are served by other addons and yield ErrNotFound.
func (s *Service) Meta(ctx context.Context, id string) (*Meta, error) {
	raw, ok := strings.CutPrefix(id, "douban:")
	if !ok {
		return nil, ErrNotFound
	}
	subjectID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || subjectID <= 0 {
		return nil, ErrNotFound
	}
	d, err := s.source.SubjectDetail(ctx, subjectID)
	if err != nil {
		var upErr *httpclient.UpstreamError
		if errors.As(err, &upErr) && upErr.IsNotFound() {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("subject %d: %w", subjectID, err)
	}

	item := d.SourceItem()
	m := &Meta{
		ID:          id,
		Type:        item.MediaType,
		Name:        item.Title,
		Poster:      item.CoverURL,
		Description: item.Description,
		Year:        item.Year,
		Genres:      d.Genres,
		Country:     strings.Join(d.Countries, " / "),
		Language:    strings.Join(d.Languages, " / "),
		ReleaseInfo: strings.Join(d.Pubdate, " / "),
	}
	for _, p := range d.Directors {
		m.Links = append(m.Links, Link{Name: p.Name, Category: "director", URL: doubanSearchURL + url.QueryEscape(p.Name)})
	}
	for _, p := range d.Actors {
		m.Links = append(m.Links, Link{Name: p.Name, Category: "actor", URL: doubanSearchURL + url.QueryEscape(p.Name)})
	}
	return m, nil
}

// Manifest lists the given collections (the defaults when ids is empty)
// with their skip and genre extras.
func (s *Service) Manifest(ctx context.Context, ids []string) []ManifestCatalog {
	var cols []Collection
	if len(ids) == 0 {
		cols = DefaultCollections()
	} else {
		for _, id := range ids {
			if c, ok := LookupCollection(id); ok {
				cols = append(cols, c)
			}
		}
	}

	out := make([]ManifestCatalog, len(cols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for i, c := range cols {
		g.Go(func() error {
			mc := ManifestCatalog{Collection: c, Extra: []ExtraOption{{Name: "skip"}}}
			target, ok := resolveAlias(c.ID)
			if ok && c.HasGenre {
				category, err := s.source.CollectionCategory(gctx, target)
				if err != nil {
					s.logger.Printf("[catalog] category for %s: %v", c.ID, err)
				} else if category != nil && len(category.Items) > 1 {
					names := make([]string, len(category.Items))
					for j, it := range category.Items {
						names[j] = it.Name
					}
					mc.Extra = append(mc.Extra, ExtraOption{Name: "genre", Options: names, OptionsLimit: 1})
				}
			}
			out[i] = mc
			return nil
		})
	}
	_ = g.Wait()
	return out
}
