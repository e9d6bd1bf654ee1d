package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mypictures/internal/models"
	"mypictures/internal/search"

	"github.com/sirupsen/logrus"
)

const sessionHeader = "X-Search-Session"

type Searcher interface {
	Search(ctx context.Context, req models.SearchRequest) ([]models.SearchResult, error)
}

type SearchHandler struct {
	searcher Searcher
	tracker  *search.Tracker
}

func NewSearchHandler(s Searcher, tracker *search.Tracker) *SearchHandler {
	return &SearchHandler{searcher: s, tracker: tracker}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, done := h.tracker.Begin(r.Context(), r.Header.Get(sessionHeader))
	defer done()

	results, err := h.searcher.Search(ctx, req)
	switch {
	case err == nil:
	case search.Superseded(ctx):
		logrus.Debugf("Search superseded: %q", req.Query)
		http.Error(w, "superseded", http.StatusConflict)
		return
	case r.Context().Err() != nil:
		// the client went away; nobody reads the response
		logrus.Debugf("Search abandoned by client: %q", req.Query)
		return
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, search.ErrBadDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		logrus.Errorf("Search error: %v", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("Write response: %v", err)
	}
}
