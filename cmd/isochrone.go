package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/isochrone"
	"github.com/sells-group/access-cli/internal/model"
)

var isochroneCmd = &cobra.Command{
	Use:   "isochrone",
	Short: "Build one isochrone and print it as GeoJSON",
	Example: `  access-cli isochrone --lon 34.36 --lat 61.78 --mode walk --limit 500 --unit meters
  access-cli isochrone --lon 34.36 --lat 61.78 --mode drive --limit 15 --out drive15.geojson`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("isochrone"); err != nil {
			return err
		}
		req, err := isochroneRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		_, builder := initBuilder(nil)
		out, closeOut, err := openOutput(cmd)
		if err != nil {
			return err
		}
		defer closeOut()

		return buildIsochrone(cmd.Context(), builder, req, out)
	},
}

func init() {
	f := isochroneCmd.Flags()
	f.Float64("lon", 0, "origin longitude (WGS84)")
	f.Float64("lat", 0, "origin latitude (WGS84)")
	f.String("mode", "walk", "travel mode (walk, drive)")
	f.Float64("limit", 0, "limit value in --unit")
	f.String("unit", "minutes", "limit unit (meters, minutes)")
	f.Float64("tolerance", -1, "simplification tolerance in meters (negative uses the default, 0 disables)")
	f.String("out", "", "output file (default stdout)")
	_ = isochroneCmd.MarkFlagRequired("lon")
	_ = isochroneCmd.MarkFlagRequired("lat")
	_ = isochroneCmd.MarkFlagRequired("limit")
	rootCmd.AddCommand(isochroneCmd)
}

func isochroneRequestFromFlags(cmd *cobra.Command) (isochrone.Request, error) {
	f := cmd.Flags()
	lon, _ := f.GetFloat64("lon")
	lat, _ := f.GetFloat64("lat")
	modeStr, _ := f.GetString("mode")
	limit, _ := f.GetFloat64("limit")
	unitStr, _ := f.GetString("unit")
	tolerance, _ := f.GetFloat64("tolerance")

	mode, err := model.ParseMode(modeStr)
	if err != nil {
		return isochrone.Request{}, err
	}
	unit, err := model.ParseLimitUnit(unitStr)
	if err != nil {
		return isochrone.Request{}, err
	}

	req := isochrone.Request{
		Origin: model.Point{Lon: lon, Lat: lat},
		Mode:   mode,
		Limit:  limit,
		Unit:   unit,
	}
	if tolerance >= 0 {
		req.SimplifyTolerance = &tolerance
	}
	return req, nil
}

// isochroneBuilder is the slice of *isochrone.Builder the command needs.
type isochroneBuilder interface {
	Build(ctx context.Context, req isochrone.Request) (*isochrone.Isochrone, error)
}

func buildIsochrone(ctx context.Context, b isochroneBuilder, req isochrone.Request, out io.Writer) error {
	iso, err := b.Build(ctx, req)
	if err != nil {
		return eris.Wrap(err, "isochrone")
	}
	zap.L().Info("isochrone built",
		zap.String("mode", string(iso.Mode)),
		zap.Float64("time_budget_seconds", iso.TimeBudget),
		zap.Int("reachable_nodes", iso.ReachableNodes),
		zap.String("source_node", iso.SourceNode),
	)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(iso)
}

// openOutput returns the --out file, or stdout when the flag is empty.
func openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	path, _ := cmd.Flags().GetString("out")
	if path == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}
