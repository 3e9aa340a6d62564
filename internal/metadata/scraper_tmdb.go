package metadata

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/JustinTDCT/DoubanLink/internal/cache"
	"github.com/JustinTDCT/DoubanLink/internal/httpclient"
	"github.com/JustinTDCT/DoubanLink/internal/models"
)

const TMDBBaseURL = "https://api.themoviedb.org/3"

// TMDBConfig holds the TMDB API host and key.
type TMDBConfig struct {
	BaseURL string
	// APIKey is the v4 read access token, sent as a bearer token.
	APIKey    string
	Transport http.RoundTripper
}

// TMDBScraper searches TMDB and reads external ID cross references.
type TMDBScraper struct {
	provider
}

func NewTMDBScraper(cfg TMDBConfig, c *cache.Cache, logger *log.Logger) *TMDBScraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = TMDBBaseURL
	}
	if logger == nil {
		logger = log.Default()
	}
	client := httpclient.New(httpclient.Config{
		Name:      "tmdb",
		BaseURL:   cfg.BaseURL,
		Transport: cfg.Transport,
		Logger:    logger,
		Headers: map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		},
	})
	return &TMDBScraper{provider: provider{name: "tmdb", http: client, cache: c, logger: logger}}
}

func (s *TMDBScraper) Name() string { return "tmdb" }

// TMDBSearchResult is one hit of a TMDB title search.
type TMDBSearchResult struct {
	ID            int64  `json:"id" validate:"gt=0"`
	Title         string `json:"title"`
	Name          string `json:"name"`
	OriginalTitle string `json:"original_title"`
	OriginalName  string `json:"original_name"`
	ReleaseDate   string `json:"release_date"`
	FirstAirDate  string `json:"first_air_date"`
}

// DisplayTitle returns the movie title or the show name.
func (r TMDBSearchResult) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

type tmdbSearchPage struct {
	Results []TMDBSearchResult `json:"results" validate:"dive"`
}

// Search queries /search/{movie|tv}. year may be empty.
func (s *TMDBScraper) Search(ctx context.Context, mt models.MediaType, query, year, language string) ([]TMDBSearchResult, error) {
	q := url.Values{"query": {query}}
	if language != "" {
		q.Set("language", language)
	}
	if year != "" {
		if mt == models.MediaTypeSeries {
			q.Set("first_air_date_year", year)
		} else {
			q.Set("year", year)
		}
	}
	page, err := getJSON[tmdbSearchPage](ctx, &s.provider, "search", httpclient.Request{
		Path:  "/search/" + mt.TMDBType(),
		Query: q,
	}, cachePolicy{
		key: fmt.Sprintf("tmdb:search:%s:%s:%s:%s", mt.TMDBType(), language, year, query),
		ttl: 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// ExternalIDs is TMDB's cross reference for one title.
type ExternalIDs struct {
	ID     int64      `json:"id"`
	IMDbID *string    `json:"imdb_id"`
	TVDBID flexString `json:"tvdb_id"`
}

func (s *TMDBScraper) ExternalIDs(ctx context.Context, mt models.MediaType, tmdbID int64) (*ExternalIDs, error) {
	ids, err := getJSON[ExternalIDs](ctx, &s.provider, "external ids", httpclient.Request{
		Path: "/" + mt.TMDBType() + "/" + strconv.FormatInt(tmdbID, 10) + "/external_ids",
	}, cachePolicy{
		key:   fmt.Sprintf("tmdb:%s:%d:external_ids", mt.TMDBType(), tmdbID),
		ttl:   7 * 24 * time.Hour,
		tiers: cache.TierAll,
	})
	if err != nil {
		return nil, err
	}
	return &ids, nil
}
