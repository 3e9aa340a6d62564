package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/JustinTDCT/DoubanLink/internal/auth"
	"github.com/JustinTDCT/DoubanLink/internal/httputil"
	"github.com/JustinTDCT/DoubanLink/internal/models"
	"github.com/JustinTDCT/DoubanLink/internal/repository"
)

// GET /api/v1/douban_id?tmdb_id=&imdb_id=
func (s *Server) handleReverseLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	imdbID := q.Get("imdb_id")
	var tmdbID *int64
	if raw := q.Get("tmdb_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid tmdb_id")
			return
		}
		tmdbID = &v
	}
	if tmdbID == nil && imdbID == "" {
		s.respondError(w, http.StatusBadRequest, "tmdb_id or imdb_id is required")
		return
	}

	ids, err := s.mappings.FindSourceIDs(r.Context(), tmdbID, imdbID)
	if err != nil {
		s.logger.Printf("[api] reverse lookup: %v", err)
		s.respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	s.respondOK(w, map[string][]int64{"douban_ids": ids})
}

func sourceIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("sourceId"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid source id")
		return
	}
	m, err := s.mappings.Get(r.Context(), id)
	if err != nil {
		s.logger.Printf("[api] get mapping %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if m == nil {
		s.respondError(w, http.StatusNotFound, "mapping not found")
		return
	}
	s.respondOK(w, m)
}

type mappingEdit struct {
	IMDbID  *string `json:"imdb_id"`
	TMDBID  *int64  `json:"tmdb_id"`
	TraktID *int64  `json:"trakt_id"`
}

// PUT /api/v1/mappings/{sourceId} writes all three IDs as given and marks
// the row calibrated.
func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceIDParam(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid source id")
		return
	}
	var body mappingEdit
	if err := httputil.ReadJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := s.mappings.ManualEdit(r.Context(), models.IDMapping{
		SourceID: id,
		IMDbID:   body.IMDbID,
		TMDBID:   body.TMDBID,
		TraktID:  body.TraktID,
	})
	if errors.Is(err, repository.ErrInvalidMapping) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Printf("[api] manual edit %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "update failed")
		return
	}
	who := "unknown"
	if c := auth.ClaimsFromContext(r.Context()); c != nil && c.Subject != "" {
		who = c.Subject
	}
	s.logger.Printf("[api] mapping %d calibrated by %s", id, who)
	s.respondOK(w, m)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.triggerSweep == nil {
		s.respondError(w, http.StatusServiceUnavailable, "sweep is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	s.triggerSweep(limit)
	s.respondJSON(w, http.StatusAccepted, httputil.Response{Success: true, Data: map[string]int{"limit": limit}})
}
