package handlers

import (
	"errors"
	"net/http"

	"mypictures/internal/indexer"

	"github.com/sirupsen/logrus"
)

type Starter interface {
	Start() error
}

// IndexHandler starts a background index run.
func IndexHandler(runner Starter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := runner.Start()
		switch {
		case errors.Is(err, indexer.ErrRunning):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			logrus.Errorf("Start index run: %v", err)
			http.Error(w, "cannot start index run", http.StatusServiceUnavailable)
		default:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		}
	}
}
