package commands

import (
	"errors"
	"fmt"

	"mypictures/internal/catalog"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateYes bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Resize the embedding column for the configured model",
	Long: `Change the catalog's embedding column to model.dimension.

Existing embeddings cannot be converted, so every catalog row is deleted.
Run 'mypictures index' afterwards to rebuild.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		pool, store, err := openStore(ctx, globalConfig)
		if err != nil {
			return err
		}
		defer pool.Close()

		current, err := store.ColumnDimension(ctx)
		if err != nil {
			return err
		}
		err = store.CheckDimension(ctx)
		if err == nil {
			logrus.Infof("Catalog already uses vector(%d), nothing to do", current)
			return nil
		}
		if !errors.Is(err, catalog.ErrDimensionMismatch) {
			return err
		}

		if !migrateYes {
			return fmt.Errorf("migrating vector(%d) to vector(%d) deletes all catalog rows; rerun with --yes", current, globalConfig.Model.Dimension)
		}

		deleted, err := store.Migrate(ctx)
		if err != nil {
			return err
		}
		logrus.Infof("Migrated vector(%d) to vector(%d), deleted %d rows. Run 'mypictures index' to rebuild.",
			current, globalConfig.Model.Dimension, deleted)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateYes, "yes", false, "confirm deleting all catalog rows")
}
