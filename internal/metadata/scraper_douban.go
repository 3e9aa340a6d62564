package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JustinTDCT/DoubanLink/internal/cache"
	"github.com/JustinTDCT/DoubanLink/internal/httpclient"
	"github.com/JustinTDCT/DoubanLink/internal/models"
)

const (
	DoubanBaseURL  = "https://frodo.douban.com/api/v2"
	DoubanPageSize = 10

	doubanReferer   = "https://servicewechat.com/wx2f9b06c1de1ccfca/99/page-frame.html"
	doubanUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36 MicroMessenger/7.0.20.1781(0x6700143B) NetType/WIFI MiniProgramEnv/Mac MacWechat/WMPF MacWechat/3.8.7(0x13080712) UnifiedPCMacWechat(0xf264101d) XWEB/16390"
)

// DoubanConfig configures the Frodo client. Empty fields take the public defaults.
type DoubanConfig struct {
	BaseURL   string
	APIKey    string
	Transport http.RoundTripper
}

// DoubanScraper reads the Frodo mini-program API.
type DoubanScraper struct {
	provider
	baseURL string
}

func NewDoubanScraper(cfg DoubanConfig, c *cache.Cache, logger *log.Logger) *DoubanScraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DoubanBaseURL
	}
	if logger == nil {
		logger = log.Default()
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	client := httpclient.New(httpclient.Config{
		Name:      "douban",
		BaseURL:   base,
		Transport: cfg.Transport,
		Logger:    logger,
		Headers: map[string]string{
			"Referer":    doubanReferer,
			"User-Agent": doubanUserAgent,
		},
		Decorate: func(r *http.Request) {
			// only the Frodo host takes the key
			if !strings.HasPrefix(r.URL.String(), base) {
				return
			}
			q := r.URL.Query()
			q.Set("apiKey", cfg.APIKey)
			r.URL.RawQuery = q.Encode()
		},
	})
	return &DoubanScraper{
		provider: provider{name: "douban", http: client, cache: c, logger: logger},
		baseURL:  base,
	}
}

func (s *DoubanScraper) Name() string { return "douban" }

// ──────────────────── Collections ────────────────────

type doubanCover struct {
	URL string `json:"url"`
}

type doubanPic struct {
	Large  string `json:"large"`
	Normal string `json:"normal"`
}

type doubanRating struct {
	Value *flexFloat `json:"value"`
}

type doubanCollectionItem struct {
	ID            flexInt64     `json:"id" validate:"gt=0"`
	Type          string        `json:"type" validate:"oneof=movie tv"`
	Title         string        `json:"title" validate:"required"`
	OriginalTitle string        `json:"original_title"`
	Year          string        `json:"year"`
	CardSubtitle  string        `json:"card_subtitle"`
	CoverURL      string        `json:"cover_url"`
	Cover         *doubanCover  `json:"cover"`
	Pic           *doubanPic    `json:"pic"`
	Photos        []string      `json:"photos"`
	Description   string        `json:"description"`
	Comment       string        `json:"comment"`
	Rating        *doubanRating `json:"rating"`
	URL           string        `json:"url"`
}

func (it doubanCollectionItem) sourceItem() models.SourceItem {
	mt, _ := models.ParseDoubanType(it.Type)
	item := models.SourceItem{
		SourceID:      int64(it.ID),
		MediaType:     mt,
		Title:         it.Title,
		OriginalTitle: it.OriginalTitle,
		Year:          it.Year,
		CardSubtitle:  it.CardSubtitle,
		Description:   it.Description,
		URL:           it.URL,
		Photos:        it.Photos,
	}
	switch {
	case it.Cover != nil && it.Cover.URL != "":
		item.CoverURL = it.Cover.URL
	case it.CoverURL != "":
		item.CoverURL = it.CoverURL
	case it.Pic != nil && it.Pic.Large != "":
		item.CoverURL = it.Pic.Large
	case it.Pic != nil:
		item.CoverURL = it.Pic.Normal
	}
	if item.Year == "" && it.CardSubtitle != "" {
		item.Year = strings.TrimSpace(strings.SplitN(it.CardSubtitle, "/", 2)[0])
	}
	if item.Description == "" {
		item.Description = it.Comment
	}
	if it.Rating != nil && it.Rating.Value != nil {
		v := float64(*it.Rating.Value)
		item.Rating = &v
	}
	return item
}

type doubanCollectionPage struct {
	Items []json.RawMessage `json:"subject_collection_items"`
	Total *int              `json:"total" validate:"required"`
}

// Collection is one page of a subject collection.
type Collection struct {
	Items []models.SourceItem
	Total int
}

// CollectionItems returns one page of a collection. Items that fail
// validation are dropped with a warning; the page itself failing is an error.
func (s *DoubanScraper) CollectionItems(ctx context.Context, collectionID string, skip int) (*Collection, error) {
	page, err := getJSON[doubanCollectionPage](ctx, &s.provider, "collection items", httpclient.Request{
		Path:  "/subject_collection/" + url.PathEscape(collectionID) + "/items",
		Query: url.Values{"start": {strconv.Itoa(skip)}, "count": {strconv.Itoa(DoubanPageSize)}},
	}, cachePolicy{
		key: fmt.Sprintf("subject_collection:%s:%d", collectionID, skip),
		ttl: 2 * time.Hour,
	})
	if err != nil {
		return nil, err
	}

	out := &Collection{Total: *page.Total, Items: make([]models.SourceItem, 0, len(page.Items))}
	for _, raw := range page.Items {
		var it doubanCollectionItem
		if err := decodeValid(raw, &it); err != nil {
			s.logger.Printf("[douban] dropping collection item in %s: %v", collectionID, err)
			continue
		}
		out.Items = append(out.Items, it.sourceItem())
	}
	return out, nil
}

// CategoryItem is one genre or region filter of a collection.
type CategoryItem struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

// CollectionCategory is one tab of sibling collections, e.g. the genres of
// a ranking.
type CollectionCategory struct {
	Category string         `json:"category"`
	Items    []CategoryItem `json:"items" validate:"dive"`
}

// FindByName returns the collection ID of the tab item named name.
func (c *CollectionCategory) FindByName(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, it := range c.Items {
		if it.Name == name {
			return it.ID, true
		}
	}
	return "", false
}

type doubanCollectionInfo struct {
	Tabs []json.RawMessage `json:"category_tabs"`
}

// CollectionCategory returns the tab the collection belongs to, or nil when
// the collection has none. Every tab seen is cached under each of its
// collection IDs so siblings resolve without another request.
func (s *DoubanScraper) CollectionCategory(ctx context.Context, collectionID string) (*CollectionCategory, error) {
	key := func(cid string) string { return "subject_collection_category:" + cid }

	var cached CollectionCategory
	if s.cache != nil && s.cache.Get(ctx, key(collectionID), cache.TierAll, &cached) {
		return &cached, nil
	}

	info, err := getJSON[doubanCollectionInfo](ctx, &s.provider, "collection info", httpclient.Request{
		Path:  "/subject_collection/" + url.PathEscape(collectionID),
		Query: url.Values{"for_mobile": {"1"}},
	}, cachePolicy{
		key: "subject_collection_info:" + collectionID,
		ttl: 7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}

	var found *CollectionCategory
	for _, raw := range info.Tabs {
		var tab CollectionCategory
		if err := decodeValid(raw, &tab); err != nil {
			continue
		}
		for _, it := range tab.Items {
			if s.cache != nil {
				s.cache.Set(key(it.ID), tab, 7*24*time.Hour, cache.TierAll)
			}
			if it.ID == collectionID || it.Current {
				t := tab
				found = &t
			}
		}
		if found != nil {
			break
		}
	}
	return found, nil
}

// ──────────────────── Subjects ────────────────────

// Person is a director or cast member on a subject.
type Person struct {
	Name string `json:"name"`
}

// SubjectDetail is the full Frodo record of one movie or series.
type SubjectDetail struct {
	ID            flexInt64     `json:"id" validate:"gt=0"`
	Type          string        `json:"type" validate:"oneof=movie tv"`
	Title         string        `json:"title" validate:"required"`
	OriginalTitle string        `json:"original_title"`
	Intro         string        `json:"intro"`
	CoverURL      string        `json:"cover_url"`
	Year          string        `json:"year"`
	Pic           *doubanPic    `json:"pic"`
	Directors     []Person      `json:"directors"`
	Actors        []Person      `json:"actors"`
	Genres        []string      `json:"genres"`
	Countries     []string      `json:"countries"`
	Languages     []string      `json:"languages"`
	Pubdate       []string      `json:"pubdate"`
	Rating        *doubanRating `json:"rating"`
	URL           string        `json:"url"`
}

// SourceItem converts the detail into the shape the resolver consumes.
func (d *SubjectDetail) SourceItem() models.SourceItem {
	mt, _ := models.ParseDoubanType(d.Type)
	item := models.SourceItem{
		SourceID:      int64(d.ID),
		MediaType:     mt,
		Title:         d.Title,
		OriginalTitle: d.OriginalTitle,
		Year:          d.Year,
		CoverURL:      d.CoverURL,
		Description:   d.Intro,
		URL:           d.URL,
	}
	if item.CoverURL == "" && d.Pic != nil {
		item.CoverURL = d.Pic.Large
		if item.CoverURL == "" {
			item.CoverURL = d.Pic.Normal
		}
	}
	if d.Rating != nil && d.Rating.Value != nil {
		v := float64(*d.Rating.Value)
		item.Rating = &v
	}
	return item
}

func (s *DoubanScraper) SubjectDetail(ctx context.Context, subjectID int64) (*SubjectDetail, error) {
	d, err := getJSON[SubjectDetail](ctx, &s.provider, "subject detail", httpclient.Request{
		Path: "/subject/" + strconv.FormatInt(subjectID, 10),
	}, cachePolicy{
		key: fmt.Sprintf("subject_detail:%d", subjectID),
		ttl: 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type doubanDesc struct {
	HTML string `json:"html"`
}

// DetailDescription parses the key/value table of the subject's "more
// info" page. Keys include "IMDb" when Douban knows the title's IMDb ID.
func (s *DoubanScraper) DetailDescription(ctx context.Context, subjectID int64) (map[string]string, error) {
	desc, err := getJSON[doubanDesc](ctx, &s.provider, "subject desc", httpclient.Request{
		Path: "/subject/" + strconv.FormatInt(subjectID, 10) + "/desc",
	}, cachePolicy{
		key: fmt.Sprintf("subject_detail_desc:%d", subjectID),
		ttl: 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}
	return parseDescTable(desc.HTML)
}

func parseDescTable(html string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse desc html: %w", err)
	}
	out := make(map[string]string)
	doc.Find(".subject-desc table tr").Each(func(_ int, tr *goquery.Selection) {
		key := strings.TrimSpace(tr.Find("td:first-child").Text())
		if key == "" {
			return
		}
		out[key] = strings.TrimSpace(tr.Find("td:last-child").Text())
	})
	return out, nil
}
