package metadata

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/JustinTDCT/DoubanLink/internal/cache"
	"github.com/JustinTDCT/DoubanLink/internal/httpclient"
	"github.com/JustinTDCT/DoubanLink/internal/models"
)

const TraktBaseURL = "https://api.trakt.tv"

// TraktConfig holds the Trakt API host and client ID.
type TraktConfig struct {
	BaseURL   string
	ClientID  string
	UserAgent string
	Transport http.RoundTripper
}

// TraktScraper searches Trakt by IMDb ID or by title.
type TraktScraper struct {
	provider
}

func NewTraktScraper(cfg TraktConfig, c *cache.Cache, logger *log.Logger) *TraktScraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = TraktBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "doubanlink"
	}
	if logger == nil {
		logger = log.Default()
	}
	client := httpclient.New(httpclient.Config{
		Name:      "trakt",
		BaseURL:   cfg.BaseURL,
		Transport: cfg.Transport,
		Logger:    logger,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"trakt-api-version": "2",
			"trakt-api-key":     cfg.ClientID,
			"User-Agent":        cfg.UserAgent,
		},
	})
	return &TraktScraper{provider: provider{name: "trakt", http: client, cache: c, logger: logger}}
}

func (s *TraktScraper) Name() string { return "trakt" }

// TraktKind is the discriminant of a search result.
type TraktKind string

const (
	TraktMovie   TraktKind = "movie"
	TraktShow    TraktKind = "show"
	TraktEpisode TraktKind = "episode"
)

// TraktKindFor maps a media type onto the search kind Trakt expects.
func TraktKindFor(mt models.MediaType) TraktKind {
	if mt == models.MediaTypeSeries {
		return TraktShow
	}
	return TraktMovie
}

// TraktIDs are the identifiers Trakt returns for a title.
type TraktIDs struct {
	Trakt *int64  `json:"trakt"`
	TMDB  *int64  `json:"tmdb"`
	IMDb  *string `json:"imdb"`
	TVDB  *int64  `json:"tvdb"`
	Slug  string  `json:"slug"`
}

// Resolution converts the IDs into a resolution for sourceID. Empty IMDb
// strings and zero numeric IDs count as unknown.
func (ids TraktIDs) Resolution(sourceID int64) models.Resolution {
	r := models.Resolution{SourceID: sourceID}
	if ids.IMDb != nil {
		r.IMDbID = models.StringPtr(*ids.IMDb)
	}
	if ids.TMDB != nil {
		r.TMDBID = models.Int64Ptr(*ids.TMDB)
	}
	if ids.Trakt != nil {
		r.TraktID = models.Int64Ptr(*ids.Trakt)
	}
	return r
}

// TraktMedia is the movie or show half of a search result.
type TraktMedia struct {
	Title         string   `json:"title"`
	OriginalTitle string   `json:"original_title"`
	Year          *int     `json:"year"`
	IDs           TraktIDs `json:"ids"`
}

// YearString renders Year, or "" when unknown.
func (m *TraktMedia) YearString() string {
	if m == nil || m.Year == nil {
		return ""
	}
	return fmt.Sprintf("%d", *m.Year)
}

// TraktResult is one search hit. Exactly one of Movie or Show is set for
// movie and show results; episode results carry the show they belong to.
type TraktResult struct {
	Type  TraktKind   `json:"type" validate:"oneof=movie show episode"`
	Score float64     `json:"score"`
	Movie *TraktMedia `json:"movie" validate:"required_if=Type movie"`
	Show  *TraktMedia `json:"show" validate:"required_if=Type show,required_if=Type episode"`
}

// Media returns the half of the result its discriminant points at.
func (r TraktResult) Media() *TraktMedia {
	switch r.Type {
	case TraktMovie:
		return r.Movie
	case TraktShow, TraktEpisode:
		return r.Show
	default:
		return nil
	}
}

type traktResults []TraktResult

func (rs traktResults) validateAll() error {
	for i := range rs {
		if err := validate.Struct(rs[i]); err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
	}
	return nil
}

// Search looks up titles of the given kind.
func (s *TraktScraper) Search(ctx context.Context, kind TraktKind, query string) ([]TraktResult, error) {
	rs, err := getJSON[traktResults](ctx, &s.provider, "search", httpclient.Request{
		Path:  "/search/" + string(kind),
		Query: url.Values{"query": {query}},
	}, cachePolicy{
		key: fmt.Sprintf("trakt:search:%s:%s", kind, query),
		ttl: 24 * time.Hour,
	})
	return rs, err
}

// SearchByIMDb finds every title Trakt links to the IMDb ID.
func (s *TraktScraper) SearchByIMDb(ctx context.Context, imdbID string) ([]TraktResult, error) {
	rs, err := getJSON[traktResults](ctx, &s.provider, "search imdb", httpclient.Request{
		Path: "/search/imdb/" + url.PathEscape(imdbID),
	}, cachePolicy{
		key: "trakt:search:imdb:" + imdbID,
		ttl: 24 * time.Hour,
	})
	return rs, err
}
