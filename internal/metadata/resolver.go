package metadata

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/JustinTDCT/DoubanLink/internal/models"
)

// SourceDetails is the part of the Douban scraper the resolver reads.
type SourceDetails interface {
	DetailDescription(ctx context.Context, subjectID int64) (map[string]string, error)
	SubjectDetail(ctx context.Context, subjectID int64) (*SubjectDetail, error)
}

// IDSearcher finds titles on Trakt.
type IDSearcher interface {
	SearchByIMDb(ctx context.Context, imdbID string) ([]TraktResult, error)
	Search(ctx context.Context, kind TraktKind, query string) ([]TraktResult, error)
}

// SeriesLookup maps a season or episode IMDb ID onto its series.
type SeriesLookup interface {
	SeriesID(ctx context.Context, imdbID string) (string, error)
}

// TitleSearcher searches TMDB directly.
type TitleSearcher interface {
	Search(ctx context.Context, mt models.MediaType, query, year, language string) ([]TMDBSearchResult, error)
	ExternalIDs(ctx context.Context, mt models.MediaType, tmdbID int64) (*ExternalIDs, error)
}

// ResolverDeps are the upstreams a Resolver consults. Nil members skip their strategy.
type ResolverDeps struct {
	Source SourceDetails
	Trakt  IDSearcher
	IMDb   SeriesLookup
	TMDB   TitleSearcher
}

// Resolver finds the IMDb, TMDB and Trakt IDs of Douban subjects.
type Resolver struct {
	source SourceDetails
	trakt  IDSearcher
	imdb   SeriesLookup
	tmdb   TitleSearcher
	logger *log.Logger
}

func NewResolver(deps ResolverDeps, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		source: deps.Source,
		trakt:  deps.Trakt,
		imdb:   deps.IMDb,
		tmdb:   deps.TMDB,
		logger: logger,
	}
}

var yearRe = regexp.MustCompile(`^[0-9]{4}$`)

// Resolve runs the strategies in order: IMDb from the Douban detail page,
// Trakt title search, then TMDB title search. Later strategies only fill
// fields that are still empty. Resolve never fails; upstream errors are
// logged and the strategy contributes nothing.
func (r *Resolver) Resolve(ctx context.Context, item models.SourceItem) models.Resolution {
	res := models.Resolution{SourceID: item.SourceID}

	r.fromDetailPage(ctx, &res, item)

	if res.IMDbID == nil {
		r.fromTraktTitle(ctx, &res, &item)
	}

	if res.TMDBID == nil {
		r.fromTMDBTitle(ctx, &res, item)
	}

	if res.Resolved() {
		r.logger.Printf("[resolver] douban:%d -> %s", item.SourceID, models.PresentationID(item.SourceID, &res))
	} else {
		r.logger.Printf("[resolver] douban:%d (%s) unresolved", item.SourceID, item.Title)
	}
	return res
}

// ──────────────────── Strategy 1: detail page ────────────────────

func (r *Resolver) fromDetailPage(ctx context.Context, res *models.Resolution, item models.SourceItem) {
	if r.source == nil {
		return
	}
	desc, ok := safely(r.logger, "detail desc", func() (map[string]string, error) {
		return r.source.DetailDescription(ctx, item.SourceID)
	})
	if !ok {
		return
	}
	imdbID := strings.TrimSpace(desc["IMDb"])
	if imdbID == "" {
		return
	}
	res.IMDbID = &imdbID

	found, hits := r.traktByIMDb(ctx, item.SourceID, imdbID)
	if hits == 1 {
		adoptTriple(res, found)
		return
	}

	// Douban often links a season's IMDb ID; Trakt only knows the show.
	// Several hits are ambiguous and keep the scraped ID as is.
	if hits != 0 || item.MediaType != models.MediaTypeSeries || r.imdb == nil {
		return
	}
	seriesID, ok := safely(r.logger, "imdb series id", func() (string, error) {
		return r.imdb.SeriesID(ctx, imdbID)
	})
	if !ok || seriesID == "" || seriesID == imdbID {
		return
	}
	if found, hits := r.traktByIMDb(ctx, item.SourceID, seriesID); hits == 1 {
		adoptTriple(res, found)
	}
}

// traktByIMDb searches Trakt by imdbID and reports how many hits came
// back. The IDs are only filled for a single usable hit. A failed search
// reports -1.
func (r *Resolver) traktByIMDb(ctx context.Context, sourceID int64, imdbID string) (models.Resolution, int) {
	if r.trakt == nil {
		return models.Resolution{}, -1
	}
	results, ok := safely(r.logger, "trakt imdb search", func() ([]TraktResult, error) {
		return r.trakt.SearchByIMDb(ctx, imdbID)
	})
	if !ok {
		return models.Resolution{}, -1
	}
	if len(results) != 1 {
		return models.Resolution{}, len(results)
	}
	media := results[0].Media()
	if media == nil {
		return models.Resolution{}, -1
	}
	return media.IDs.Resolution(sourceID), 1
}

// adoptTriple takes a confirmed Trakt match. Its IMDb ID replaces the
// scraped one, since it is the show-level or corrected form.
func adoptTriple(res *models.Resolution, found models.Resolution) {
	if found.IMDbID != nil {
		res.IMDbID = found.IMDbID
	}
	res.Fill(found)
}

// ──────────────────── Strategy 2: Trakt title search ────────────────────

func (r *Resolver) fromTraktTitle(ctx context.Context, res *models.Resolution, item *models.SourceItem) {
	if r.trakt == nil {
		return
	}
	query := strings.TrimSpace(item.OriginalTitle)
	if query == "" {
		query = strings.TrimSpace(item.Title)
	}
	if query == "" && r.source != nil {
		detail, ok := safely(r.logger, "subject detail", func() (*SubjectDetail, error) {
			return r.source.SubjectDetail(ctx, item.SourceID)
		})
		if ok && detail != nil {
			fresh := detail.SourceItem()
			item.Title, item.OriginalTitle = fresh.Title, fresh.OriginalTitle
			if item.Year == "" {
				item.Year = fresh.Year
			}
			query = strings.TrimSpace(fresh.OriginalTitle)
			if query == "" {
				query = strings.TrimSpace(fresh.Title)
			}
		}
	}
	if query == "" {
		return
	}

	results, ok := safely(r.logger, "trakt title search", func() ([]TraktResult, error) {
		return r.trakt.Search(ctx, TraktKindFor(item.MediaType), query)
	})
	if !ok || len(results) == 0 {
		return
	}

	if len(results) == 1 {
		if media := results[0].Media(); media != nil {
			res.Fill(media.IDs.Resolution(item.SourceID))
		}
		return
	}

	// several hits: keep the exact title matches
	wanted := make(map[string]bool)
	for _, t := range titleSet(query) {
		wanted[t] = true
	}
	var matches []*TraktMedia
	for _, result := range results {
		media := result.Media()
		if media == nil {
			continue
		}
		if titleMatches(wanted, media.Title) || titleMatches(wanted, media.OriginalTitle) {
			matches = append(matches, media)
		}
	}

	if len(matches) > 1 && yearRe.MatchString(item.Year) {
		var sameYear []*TraktMedia
		for _, m := range matches {
			if m.YearString() == item.Year {
				sameYear = append(sameYear, m)
			}
		}
		if len(sameYear) == 1 {
			matches = sameYear
		}
	}

	if len(matches) == 1 {
		res.Fill(matches[0].IDs.Resolution(item.SourceID))
		return
	}

	r.logger.Printf("[resolver] ⚠️ trakt title search for %q is ambiguous (%d exact matches): %s",
		query, len(matches), describeCandidates(results))
}

func titleMatches(wanted map[string]bool, title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	return wanted[title] || wanted[NormalizeTitle(title)]
}

func describeCandidates(results []TraktResult) string {
	parts := make([]string, 0, len(results))
	for _, result := range results {
		media := result.Media()
		if media == nil {
			continue
		}
		s := media.Title
		if y := media.YearString(); y != "" {
			s += " (" + y + ")"
		}
		parts = append(parts, s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ──────────────────── Strategy 3: TMDB title search ────────────────────

func (r *Resolver) fromTMDBTitle(ctx context.Context, res *models.Resolution, item models.SourceItem) {
	if r.tmdb == nil {
		return
	}
	for _, title := range titleSet(item.Title) {
		results, ok := safely(r.logger, "tmdb search", func() ([]TMDBSearchResult, error) {
			return r.tmdb.Search(ctx, item.MediaType, title, item.Year, "en-US")
		})
		if !ok || len(results) == 0 {
			continue
		}
		res.TMDBID = models.Int64Ptr(results[0].ID)
		break
	}
	if res.TMDBID == nil || res.IMDbID != nil {
		return
	}

	ext, ok := safely(r.logger, "tmdb external ids", func() (*ExternalIDs, error) {
		return r.tmdb.ExternalIDs(ctx, item.MediaType, *res.TMDBID)
	})
	if ok && ext != nil && ext.IMDbID != nil {
		res.IMDbID = models.StringPtr(strings.TrimSpace(*ext.IMDbID))
	}
}
