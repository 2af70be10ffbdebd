package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/access-cli/internal/db"
	"github.com/sells-group/access-cli/internal/refdata"
	"github.com/sells-group/access-cli/internal/store"
)

var refdataCmd = &cobra.Command{
	Use:   "refdata",
	Short: "Manage reference layers in PostGIS",
	Long:  "Creates the access schema and loads facilities, residential buildings, low density zones and road nodes from files into PostGIS.",
}

var refdataMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostGIS reference schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPostGIS(cmd.Context(), func(ctx context.Context, pool db.Pool) error {
			if err := refdata.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Reference schema is up to date.")
			return nil
		})
	},
}

var refdataImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace the PostGIS layers with the configured reference files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPostGIS(cmd.Context(), func(ctx context.Context, pool db.Pool) error {
			if err := refdata.Migrate(ctx, pool); err != nil {
				return err
			}
			data, err := cfg.RefData.Files.Load(ctx)
			if err != nil {
				return eris.Wrap(err, "refdata import")
			}
			counts, err := refdata.Import(ctx, pool, data)
			if err != nil {
				return err
			}
			formatLayerCounts(os.Stdout, counts)
			return nil
		})
	},
}

func init() {
	refdataCmd.AddCommand(refdataMigrateCmd)
	refdataCmd.AddCommand(refdataImportCmd)
	rootCmd.AddCommand(refdataCmd)
}

// withPostGIS validates the config, opens a pool on the PostGIS URL and
// closes it after fn returns.
func withPostGIS(ctx context.Context, fn func(ctx context.Context, pool db.Pool) error) error {
	if err := cfg.Validate("refdata"); err != nil {
		return err
	}
	pool, err := store.NewPool(ctx, cfg.PostGISURL(), &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return eris.Wrap(err, "open postgis pool")
	}
	defer pool.Close()
	return fn(ctx, pool)
}

// formatLayerCounts writes the imported row count of every layer to w.
func formatLayerCounts(out io.Writer, counts map[refdata.Layer]int64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LAYER\tROWS")
	for _, l := range refdata.Layers {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", l, counts[l])
	}
	_ = w.Flush()
}
