package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"mypictures/internal/models"
	"mypictures/internal/search"
	"mypictures/internal/services"

	"github.com/spf13/cobra"
)

var (
	searchLimit         int
	searchAfter         string
	searchBefore        string
	searchMinSimilarity float64
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search photos by description",
	Long: `Search the catalog with a natural-language description.

Dates are YYYY-MM-DD; --before includes the whole day. Photos without a
capture date are excluded when a date bound is given.

Examples:
  mypictures search "a dog playing outside"
  mypictures search "sunset over mountains" --limit 10
  mypictures search "birthday party" --after 2022-01-01 --before 2023-01-01`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		ctx, cancel := signalContext()
		defer cancel()

		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.CheckDimension(ctx); err != nil {
			return err
		}

		embedder, err := services.NewEmbeddingService(cfg.Model)
		if err != nil {
			return fmt.Errorf("embedding service: %w", err)
		}
		defer embedder.Close()

		svc, err := search.NewService(store, embedder, cfg.Search)
		if err != nil {
			return err
		}

		req := models.SearchRequest{
			Query:  strings.Join(args, " "),
			Limit:  searchLimit,
			After:  searchAfter,
			Before: searchBefore,
		}
		if cmd.Flags().Changed("min-similarity") {
			req.MinSimilarity = &searchMinSimilarity
		}

		results, err := svc.Search(ctx, req)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		printResults(results)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default search.default_limit)")
	searchCmd.Flags().StringVar(&searchAfter, "after", "", "only photos taken on or after this date")
	searchCmd.Flags().StringVar(&searchBefore, "before", "", "only photos taken on or before this date")
	searchCmd.Flags().Float64Var(&searchMinSimilarity, "min-similarity", 0, "drop results below this score (default search.min_similarity)")
}

func printResults(results []models.SearchResult) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tDATE\tCAMERA\tPATH")
	for _, r := range results {
		date := "-"
		if r.DateTaken != nil {
			date = r.DateTaken.Format("2006-01-02")
		}
		camera := "-"
		if r.CameraModel != nil && *r.CameraModel != "" {
			camera = *r.CameraModel
		}
		fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\n", r.Similarity, date, camera, r.FilePath)
	}
	tw.Flush()
}
