package metadata

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/JustinTDCT/DoubanLink/internal/cache"
	"github.com/JustinTDCT/DoubanLink/internal/httpclient"
)

const IMDbBaseURL = "https://imdb.iamidiotareyoutoo.com"

// IMDbConfig points the IMDb lookup at its API host.
type IMDbConfig struct {
	BaseURL   string
	Transport http.RoundTripper
}

// IMDbScraper is only used to map a season-level IMDb ID onto the series.
type IMDbScraper struct {
	provider
}

func NewIMDbScraper(cfg IMDbConfig, c *cache.Cache, logger *log.Logger) *IMDbScraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = IMDbBaseURL
	}
	if logger == nil {
		logger = log.Default()
	}
	client := httpclient.New(httpclient.Config{
		Name:      "imdb",
		BaseURL:   cfg.BaseURL,
		Transport: cfg.Transport,
		Logger:    logger,
	})
	return &IMDbScraper{provider: provider{name: "imdb", http: client, cache: c, logger: logger}}
}

func (s *IMDbScraper) Name() string { return "imdb" }

type imdbSearch struct {
	Top *struct {
		Series *struct {
			Series *struct {
				ID string `json:"id"`
			} `json:"series"`
		} `json:"series"`
	} `json:"top"`
}

// SeriesID returns the show-level ID for imdbID, or "" when the title is not
// part of a series.
func (s *IMDbScraper) SeriesID(ctx context.Context, imdbID string) (string, error) {
	res, err := getJSON[imdbSearch](ctx, &s.provider, "search", httpclient.Request{
		Path:  "/search",
		Query: url.Values{"tt": {imdbID}},
	}, cachePolicy{
		key: "imdb_search:" + imdbID,
		ttl: 7 * 24 * time.Hour,
	})
	if err != nil {
		return "", err
	}
	if res.Top == nil || res.Top.Series == nil || res.Top.Series.Series == nil {
		return "", nil
	}
	return res.Top.Series.Series.ID, nil
}
