package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"mypictures/internal/scanner"

	"github.com/sirupsen/logrus"
)

// ImageHandler serves original files, restricted to the scan roots.
func ImageHandler(roots scanner.Roots) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")

		resolved, err := roots.Resolve(path)
		if errors.Is(err, scanner.ErrOutsideRoots) {
			logrus.WithField("path", path).Warn("Image request outside scan roots")
			http.Error(w, "access denied", http.StatusForbidden)
			return
		}
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}

		f, err := os.Open(resolved)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeContent(w, r, filepath.Base(resolved), info.ModTime(), f)
	}
}
