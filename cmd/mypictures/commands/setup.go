package commands

import (
	"errors"

	"mypictures/internal/catalog"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the catalog schema",
	Long: `Create the pgvector extension, the photos table and its indexes.

Safe to run repeatedly. Fails if an existing catalog was built for a
model with a different embedding dimension; see 'mypictures migrate'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		pool, store, err := openStore(ctx, globalConfig)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.Setup(ctx); err != nil {
			if errors.Is(err, catalog.ErrDimensionMismatch) {
				logrus.Error("Run 'mypictures migrate' to rebuild the catalog for the configured model")
			}
			return err
		}
		logrus.Infof("Catalog ready (vector(%d))", globalConfig.Model.Dimension)
		return nil
	},
}
