package handlers

import (
	"context"
	"net/http"

	"mypictures/internal/models"

	"github.com/sirupsen/logrus"
)

type StatsSource interface {
	Stats(ctx context.Context) (models.CatalogStats, error)
}

type Running interface {
	Running() bool
}

type statsResponse struct {
	models.CatalogStats
	Indexing bool `json:"indexing"`
}

func StatsHandler(src StatsSource, runner Running) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := src.Stats(r.Context())
		if err != nil {
			logrus.Errorf("Stats error: %v", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{CatalogStats: st, Indexing: runner != nil && runner.Running()})
	}
}
