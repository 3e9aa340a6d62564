package metadata

import (
	"context"
	"errors"
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

const (
	FanartBaseURL      = "https://webservice.fanart.tv/v3.2"
	fanartMaxAttempts  = 3
	fanartDefaultRetry = time.Second
)

// FanartConfig holds fanart.tv credentials.
type FanartConfig struct {
	BaseURL   string
	APIKey    string
	ClientKey string
	Transport http.RoundTripper
}

// FanartTVClient fetches artwork. Series artwork is keyed by TVDB ID, which
// is looked up through TMDB.
type FanartTVClient struct {
	provider
	tmdb  *TMDBScraper
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFanartTVClient(cfg FanartConfig, tmdb *TMDBScraper, c *cache.Cache, logger *log.Logger) *FanartTVClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = FanartBaseURL
	}
	if logger == nil {
		logger = log.Default()
	}
	client := httpclient.New(httpclient.Config{
		Name:      "fanart",
		BaseURL:   cfg.BaseURL,
		Transport: cfg.Transport,
		Logger:    logger,
		Decorate: func(r *http.Request) {
			q := r.URL.Query()
			q.Set("api_key", cfg.APIKey)
			if cfg.ClientKey != "" {
				q.Set("client_key", cfg.ClientKey)
			}
			r.URL.RawQuery = q.Encode()
		},
	})
	f := &FanartTVClient{
		provider: provider{name: "fanart", http: client, cache: c, logger: logger},
		tmdb:     tmdb,
		sleep:    sleepCtx,
	}
	f.send = f.doWithBackoff
	return f
}

func (c *FanartTVClient) Name() string { return "fanart" }

// doWithBackoff retries 429 responses, honouring Retry-After (seconds).
func (c *FanartTVClient) doWithBackoff(ctx context.Context, req httpclient.Request) (*httpclient.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.http.Do(ctx, req)
		var upErr *httpclient.UpstreamError
		if err == nil || !errors.As(err, &upErr) || !upErr.IsRateLimited() {
			return resp, err
		}

		wait := fanartDefaultRetry
		if s := upErr.Header.Get("Retry-After"); s != "" {
			if n, perr := strconv.Atoi(s); perr == nil && n >= 0 {
				wait = time.Duration(n) * time.Second
			}
		}
		if attempt >= fanartMaxAttempts {
			return nil, fmt.Errorf("fanart.tv: %w, retry in %s", ErrRateLimitExceeded, wait)
		}
		c.logger.Printf("[fanart] 429, retrying in %s (attempt %d/%d)", wait, attempt, fanartMaxAttempts)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

type fanartImage struct {
	URL string `json:"url"`
}

type fanartMovie struct {
	MoviePoster     []fanartImage `json:"movieposter"`
	MovieBackground []fanartImage `json:"moviebackground"`
	MovieThumb      []fanartImage `json:"moviethumb"`
	HDMovieLogo     []fanartImage `json:"hdmovielogo"`
	MovieLogo       []fanartImage `json:"movielogo"`
}

type fanartShow struct {
	TVPoster       []fanartImage `json:"tvposter"`
	ShowBackground []fanartImage `json:"showbackground"`
	HDTVLogo       []fanartImage `json:"hdtvlogo"`
}

// Images is the artwork override for one title. Empty fields mean none.
type Images struct {
	Poster     string `json:"poster,omitempty"`
	Background string `json:"background,omitempty"`
	Logo       string `json:"logo,omitempty"`
}

func (c *FanartTVClient) movieImages(ctx context.Context, id string) (*fanartMovie, error) {
	m, err := getJSON[fanartMovie](ctx, &c.provider, "movie images", httpclient.Request{
		Path: "/movies/" + url.PathEscape(id),
	}, cachePolicy{key: "fanart:movie:" + id, ttl: 24 * time.Hour})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *FanartTVClient) showImages(ctx context.Context, tvdbID string) (*fanartShow, error) {
	sh, err := getJSON[fanartShow](ctx, &c.provider, "show images", httpclient.Request{
		Path: "/tv/" + url.PathEscape(tvdbID),
	}, cachePolicy{key: "fanart:tv:" + tvdbID, ttl: 24 * time.Hour})
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// SubjectImages returns artwork for a title identified by its TMDB ID (or,
// for movies, its IMDb ID). Any failure yields nil.
func (c *FanartTVClient) SubjectImages(ctx context.Context, mt models.MediaType, id string) *Images {
	if id == "" {
		return nil
	}
	if mt == models.MediaTypeMovie {
		m, err := c.movieImages(ctx, id)
		if err != nil {
			c.logger.Printf("[fanart] movie %s: %v", id, err)
			return nil
		}
		return &Images{
			Poster:     firstFanartURL(m.MoviePoster),
			Background: firstFanartURL(m.MovieBackground, m.MovieThumb),
			Logo:       firstFanartURL(m.HDMovieLogo, m.MovieLogo),
		}
	}

	tmdbID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || c.tmdb == nil {
		return nil
	}
	ext, err := c.tmdb.ExternalIDs(ctx, mt, tmdbID)
	if err != nil || ext.TVDBID == "" {
		return nil
	}
	sh, err := c.showImages(ctx, string(ext.TVDBID))
	if err != nil {
		c.logger.Printf("[fanart] tv %s: %v", ext.TVDBID, err)
		return nil
	}
	return &Images{
		Poster:     firstFanartURL(sh.TVPoster),
		Background: firstFanartURL(sh.ShowBackground),
		Logo:       firstFanartURL(sh.HDTVLogo),
	}
}

func firstFanartURL(sets ...[]fanartImage) string {
	for _, set := range sets {
		if len(set) > 0 && set[0].URL != "" {
			return set[0].URL
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
