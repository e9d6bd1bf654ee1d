package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mypictures/internal/handlers"
	"mypictures/internal/indexer"
	"mypictures/internal/metadata"
	mw "mypictures/internal/middleware"
	"mypictures/internal/scanner"
	"mypictures/internal/search"
	"mypictures/internal/services"
	"mypictures/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// progressPerSecond caps per-file progress messages pushed to browsers.
const progressPerSecond = 10

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI and HTTP API",
	Long: `Serve the search API, original images and (if server.static_dir is set)
the built frontend.

Endpoints:
  POST /api/search   {query, limit, after, before, min_similarity}
  GET  /api/image    ?path=/absolute/path/inside/a/scan/root
  POST /api/index    start a background index run
  GET  /api/stats    catalog statistics
  GET  /ws           index progress events`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		ctx, cancel := signalContext()
		defer cancel()

		roots, err := cfg.ResolvedScanPaths()
		if err != nil {
			return err
		}

		// Database
		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.Setup(ctx); err != nil {
			return fmt.Errorf("setup catalog: %w", err)
		}

		// Embedding Service
		embedder, err := services.NewEmbeddingService(cfg.Model)
		if err != nil {
			return fmt.Errorf("embedding service: %w", err)
		}
		defer embedder.Close()

		extractor := metadata.NewExtractor()
		defer extractor.Close()

		// WebSocket Hub
		hub := ws.NewHub(progressPerSecond)
		go hub.Run()
		defer hub.Shutdown()

		// Indexer (extraction workers + embedding worker)
		ix := indexer.New(store, extractor, embedder, indexer.Options{
			Workers:    cfg.Index.Workers,
			QueueSize:  cfg.Index.QueueSize,
			DecodeSize: 2 * cfg.Model.ImageSize,
			Progress: func(ev indexer.Event) {
				hub.Progress(progressMessage(ev))
			},
		})
		runner := indexer.NewRunner(ix, roots, func(sum *indexer.Summary, err error) {
			if err != nil {
				hub.Broadcast(ws.Message{Type: ws.TypeFailed, Error: err.Error(), Summary: sum})
				return
			}
			hub.Broadcast(ws.Message{Type: ws.TypeComplete, RunID: sum.RunID, Summary: sum})
		})
		defer runner.Shutdown()

		searchSvc, err := search.NewService(store, embedder, cfg.Search)
		if err != nil {
			return err
		}
		searchHandler := handlers.NewSearchHandler(searchSvc, search.NewTracker())

		// Router
		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(mw.CorsMiddleware)

		// API
		r.Route("/api", func(r chi.Router) {
			r.Post("/search", searchHandler.Search)
			r.Get("/image", handlers.ImageHandler(scanner.Roots(roots)))
			r.Post("/index", handlers.IndexHandler(runner))
			r.Get("/stats", handlers.StatsHandler(store, runner))
		})

		// WebSocket
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ws.HandleWebSocket(hub, w, r)
		})

		if cfg.Server.StaticDir != "" {
			r.Handle("/*", handlers.SPAHandler(cfg.Server.StaticDir))
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logrus.Infof("Server starting on %s ...", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return fmt.Errorf("server: %w", err)
		}

		logrus.Info("Shutting down...")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()

		runner.Shutdown()
		return srv.Shutdown(shutdownCtx)
	},
}

func progressMessage(ev indexer.Event) ws.Message {
	msg := ws.Message{
		Type:  ws.TypeProgress,
		RunID: ev.RunID,
		Path:  ev.Path,
		Done:  ev.Done,
		Total: ev.Total,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	} else {
		msg.Action = ev.Action.String()
	}
	return msg
}
