package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/refdata"
)

var roadNodesCmd = &cobra.Command{
	Use:   "roadnodes <extract.osm>",
	Short: "Extract major-road endpoints from an OSM XML extract as GeoJSON",
	Long:  "Collects the first and last node of every way tagged with a major highway class, optionally thins nodes closer than --thin meters, and writes a point FeatureCollection usable as the road_nodes reference layer.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		highways, _ := cmd.Flags().GetStringSlice("highways")
		thin, _ := cmd.Flags().GetFloat64("thin")

		sites, err := refdata.ExtractRoadNodes(cmd.Context(), args[0], refdata.RoadNodeOptions{
			Highways:   highways,
			ThinRadius: thin,
		})
		if err != nil {
			return eris.Wrap(err, "roadnodes")
		}
		zap.L().Info("road nodes extracted",
			zap.String("path", args[0]),
			zap.Int("nodes", len(sites)),
			zap.Float64("thin_radius", thin),
		)

		out, closeOut, err := openOutput(cmd)
		if err != nil {
			return err
		}
		defer closeOut()
		return refdata.WriteSitesGeoJSON(out, sites)
	},
}

func init() {
	f := roadNodesCmd.Flags()
	f.StringSlice("highways", nil, "highway classes to keep (default primary, secondary)")
	f.Float64("thin", 0, "merge nodes closer than this many meters (0 keeps all)")
	f.String("out", "", "output GeoJSON file (default stdout)")
	rootCmd.AddCommand(roadNodesCmd)
}
