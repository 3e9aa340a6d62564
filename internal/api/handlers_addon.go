package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JustinTDCT/DoubanLink/internal/catalog"
	"github.com/JustinTDCT/DoubanLink/internal/models"
)

type Manifest struct {
	ID            string                    `json:"id"`
	Version       string                    `json:"version"`
	Name          string                    `json:"name"`
	Description   string                    `json:"description"`
	Resources     []string                  `json:"resources"`
	Types         []string                  `json:"types"`
	IDPrefixes    []string                  `json:"idPrefixes"`
	Catalogs      []catalog.ManifestCatalog `json:"catalogs"`
	BehaviorHints map[string]bool           `json:"behaviorHints,omitempty"`
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if raw := r.URL.Query().Get("catalogs"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	s.respondJSON(w, http.StatusOK, Manifest{
		ID:          "com.doubanlink.addon",
		Version:     s.version,
		Name:        "Douban",
		Description: "Douban collections with IMDb / TMDB identifiers",
		Resources:   []string{"catalog", "meta"},
		Types:       []string{string(models.MediaTypeMovie), string(models.MediaTypeSeries)},
		IDPrefixes:  []string{"douban:"},
		Catalogs:    s.catalog.Manifest(r.Context(), ids),
		BehaviorHints: map[string]bool{
			"configurable": false,
		},
	})
}

// resourceID strips the ".json" suffix addon clients append to the last
// path segment.
func resourceID(segment string) string {
	return strings.TrimSuffix(segment, ".json")
}

// parseExtra reads "skip=20&genre=科幻.json" style extras.
func parseExtra(segment string) url.Values {
	if segment == "" {
		return url.Values{}
	}
	v, err := url.ParseQuery(resourceID(segment))
	if err != nil {
		return url.Values{}
	}
	return v
}

func isForwardClient(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.UserAgent()), "forward")
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if _, ok := models.ParseMediaType(r.PathValue("type")); !ok {
		s.respondError(w, http.StatusNotFound, "unknown type")
		return
	}
	id := r.PathValue("id")
	extra := parseExtra(r.PathValue("extra"))
	if r.PathValue("extra") == "" {
		id = resourceID(id)
	}

	get := func(key string) string {
		if v := extra.Get(key); v != "" {
			return v
		}
		return r.URL.Query().Get(key)
	}
	skip, _ := strconv.Atoi(get("skip"))
	if skip < 0 {
		skip = 0
	}

	resp, err := s.catalog.Catalog(r.Context(), catalog.CatalogRequest{
		CollectionID: id,
		Skip:         skip,
		Genre:        get("genre"),
		Forward:      isForwardClient(r),
	})
	if err != nil {
		s.respondServiceError(w, "catalog "+id, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(resp.CacheMaxAge))
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	id := resourceID(r.PathValue("id"))
	meta, err := s.catalog.Meta(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, "meta "+id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]*catalog.Meta{"meta": meta})
}

func (s *Server) respondServiceError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Printf("[api] %s: %v", what, err)
	s.respondError(w, http.StatusBadGateway, "upstream request failed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.respondOK(w, map[string]string{"status": "ok", "version": s.version})
}
