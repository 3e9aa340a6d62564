package models

import (
	"fmt"
	"strconv"
	"time"
)

// ──────────────────── Enums ────────────────────

type MediaType string

const (
	MediaTypeMovie  MediaType = "movie"
	MediaTypeSeries MediaType = "series"
)

// ParseDoubanType maps the upstream "movie"/"tv" discriminator onto MediaType.
func ParseDoubanType(t string) (MediaType, error) {
	switch t {
	case "movie":
		return MediaTypeMovie, nil
	case "tv":
		return MediaTypeSeries, nil
	default:
		return "", fmt.Errorf("unknown subject type %q", t)
	}
}

// DoubanType is the inverse of ParseDoubanType.
func (m MediaType) DoubanType() string {
	if m == MediaTypeSeries {
		return "tv"
	}
	return "movie"
}

// TMDBType is the path segment TMDB uses for this media type.
func (m MediaType) TMDBType() string {
	if m == MediaTypeSeries {
		return "tv"
	}
	return "movie"
}

// ParseMediaType accepts the route-level spelling ("movie", "series") and the
// upstream spelling ("tv").
func ParseMediaType(s string) (MediaType, bool) {
	switch s {
	case "movie":
		return MediaTypeMovie, true
	case "series", "tv":
		return MediaTypeSeries, true
	}
	return "", false
}

// ──────────────────── Source catalog ────────────────────

// SourceItem is one Douban catalog entry. It is built per request and never
// persisted directly.
type SourceItem struct {
	SourceID      int64     `json:"source_id"`
	MediaType     MediaType `json:"media_type"`
	Title         string    `json:"title"`
	OriginalTitle string    `json:"original_title,omitempty"`
	Year          string    `json:"year,omitempty"`
	CoverURL      string    `json:"cover_url,omitempty"`
	Description   string    `json:"description,omitempty"`
	CardSubtitle  string    `json:"card_subtitle,omitempty"`
	Rating        *float64  `json:"rating,omitempty"`
	URL           string    `json:"url,omitempty"`
	Photos        []string  `json:"photos,omitempty"`
}

// ──────────────────── ID mapping ────────────────────

// IDMapping is one row of the id_mappings table.
type IDMapping struct {
	SourceID   int64     `json:"source_id" validate:"gt=0"`
	IMDbID     *string   `json:"imdb_id" validate:"omitempty,min=1,max=32"`
	TMDBID     *int64    `json:"tmdb_id" validate:"omitempty,gt=0"`
	TraktID    *int64    `json:"trakt_id" validate:"omitempty,gt=0"`
	Calibrated bool      `json:"calibrated"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Resolution carries the external identifiers found for a single source item.
// It has the shape of an IDMapping without the bookkeeping columns.
type Resolution struct {
	SourceID int64   `json:"source_id" validate:"gt=0"`
	IMDbID   *string `json:"imdb_id,omitempty" validate:"omitempty,min=1,max=32"`
	TMDBID   *int64  `json:"tmdb_id,omitempty" validate:"omitempty,gt=0"`
	TraktID  *int64  `json:"trakt_id,omitempty" validate:"omitempty,gt=0"`
}

// Resolved reports whether at least one external identifier is known.
func (r Resolution) Resolved() bool {
	return r.IMDbID != nil || r.TMDBID != nil || r.TraktID != nil
}

// Fill copies every field of other into r that r does not have yet.
// Populated fields are never overwritten.
func (r *Resolution) Fill(other Resolution) {
	if r.IMDbID == nil && other.IMDbID != nil {
		r.IMDbID = other.IMDbID
	}
	if r.TMDBID == nil && other.TMDBID != nil {
		r.TMDBID = other.TMDBID
	}
	if r.TraktID == nil && other.TraktID != nil {
		r.TraktID = other.TraktID
	}
}

// Resolution strips the bookkeeping columns from a stored row.
func (m IDMapping) Resolution() Resolution {
	return Resolution{SourceID: m.SourceID, IMDbID: m.IMDbID, TMDBID: m.TMDBID, TraktID: m.TraktID}
}

// PresentationID is the identifier the catalog exposes for an item: the TMDB
// ID when known, otherwise the IMDb ID, otherwise the Douban fallback.
func PresentationID(sourceID int64, r *Resolution) string {
	if r != nil {
		if r.TMDBID != nil {
			return "tmdb:" + strconv.FormatInt(*r.TMDBID, 10)
		}
		if r.IMDbID != nil {
			return *r.IMDbID
		}
	}
	return "douban:" + strconv.FormatInt(sourceID, 10)
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns nil for zero.
func Int64Ptr(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
