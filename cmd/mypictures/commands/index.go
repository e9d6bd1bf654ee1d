package commands

import (
	"fmt"
	"time"

	"mypictures/internal/config"
	"mypictures/internal/indexer"
	"mypictures/internal/metadata"
	"mypictures/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	indexPaths  []string
	indexDryRun bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan photo folders and update the catalog",
	Long: `Scan the configured folders (or --paths) and bring the catalog up to date.

New and changed photos are embedded and stored, touched but unchanged
files only have their timestamps updated, and photos that no longer exist
are removed. Folders that cannot be read are left untouched in the catalog.
With --paths only those folders are scanned and pruned.

Examples:
  mypictures index
  mypictures index --paths ~/Pictures/2024 --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		ctx, cancel := signalContext()
		defer cancel()

		roots, err := indexRoots(cfg)
		if err != nil {
			return err
		}

		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.CheckDimension(ctx); err != nil {
			return err
		}

		extractor := metadata.NewExtractor()
		defer extractor.Close()

		// a dry run never embeds, so the model is not loaded
		var embedder indexer.Embedder
		if !indexDryRun {
			svc, err := services.NewEmbeddingService(cfg.Model)
			if err != nil {
				return fmt.Errorf("embedding service: %w", err)
			}
			defer svc.Close()
			embedder = svc
		}

		ix := indexer.New(store, extractor, embedder, indexer.Options{
			Workers:    cfg.Index.Workers,
			QueueSize:  cfg.Index.QueueSize,
			DecodeSize: 2 * cfg.Model.ImageSize,
			DryRun:     indexDryRun,
			Progress:   logProgress,
		})

		var sum *indexer.Summary
		if len(indexPaths) > 0 {
			sum, err = ix.RunPaths(ctx, roots)
		} else {
			sum, err = ix.Run(ctx, roots)
		}
		if err != nil {
			return err
		}

		prefix := ""
		if sum.DryRun {
			prefix = "(dry run) "
		}
		fmt.Printf("%sAdded: %d  Updated: %d  Removed: %d  Skipped: %d  Failed: %d  in %s\n",
			prefix, sum.Added, sum.Updated, sum.Removed, sum.Skipped, sum.Failed, sum.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	indexCmd.Flags().StringSliceVar(&indexPaths, "paths", nil, "folders to scan instead of scan_paths")
	indexCmd.Flags().BoolVar(&indexDryRun, "dry-run", false, "report what would change without writing")
}

func indexRoots(cfg *config.Config) ([]string, error) {
	if len(indexPaths) == 0 {
		return cfg.ResolvedScanPaths()
	}
	roots := make([]string, 0, len(indexPaths))
	for _, p := range indexPaths {
		resolved, err := config.ExpandPath(p)
		if err != nil {
			return nil, err
		}
		roots = append(roots, resolved)
	}
	return roots, nil
}

func logProgress(ev indexer.Event) {
	log := logrus.WithField("path", ev.Path)
	if ev.Err != nil {
		log.Warnf("[%d/%d] failed: %v", ev.Done, ev.Total, ev.Err)
		return
	}
	if ev.Action == indexer.Unchanged {
		return
	}
	log.Infof("[%d/%d] %s", ev.Done, ev.Total, ev.Action)
}
