package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/access-cli/internal/analysis"
	"github.com/sells-group/access-cli/internal/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Check one residential origin and recommend sites for violated categories",
	Example: `  access-cli analyze --lon 34.36 --lat 61.78 --label "Lenina 12"
  access-cli analyze --lon 34.36 --lat 61.78 --no-store --out report.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		f := cmd.Flags()
		lon, _ := f.GetFloat64("lon")
		lat, _ := f.GetFloat64("lat")
		label, _ := f.GetString("label")
		noStore, _ := f.GetBool("no-store")

		env, err := initEngine(ctx, engineOptions{persist: !noStore})
		if err != nil {
			return err
		}
		defer env.Close()

		run, report, err := env.Runner.Analyze(ctx, model.Origin{
			Label: label,
			Point: model.Point{Lon: lon, Lat: lat},
		})
		if err != nil {
			return eris.Wrap(err, "analyze")
		}
		if run != nil {
			fmt.Fprintf(os.Stderr, "Run %s stored.\n", run.ID)
		}
		formatReport(os.Stderr, report)

		out, closeOut, err := openOutput(cmd)
		if err != nil {
			return err
		}
		defer closeOut()

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.Float64("lon", 0, "origin longitude (WGS84)")
	f.Float64("lat", 0, "origin latitude (WGS84)")
	f.String("label", "", "origin label stored with the run")
	f.Bool("no-store", false, "skip persisting the run")
	f.String("out", "", "report output file (default stdout)")
	_ = analyzeCmd.MarkFlagRequired("lon")
	_ = analyzeCmd.MarkFlagRequired("lat")
	rootCmd.AddCommand(analyzeCmd)
}

// formatReport writes one line per category to w.
func formatReport(out io.Writer, r *analysis.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tSTATUS\tMATCHED\tSITES\tCRITERIA")
	_, _ = fmt.Fprintln(w, "--------\t------\t-------\t-----\t--------")

	for _, c := range r.Accessibility.Order {
		cr := r.Accessibility.Categories[c]
		sites, criteria := "-", ""
		if rec, ok := r.Recommendations[c]; ok {
			sites = fmt.Sprint(len(rec.Sites))
			criteria = strings.Join(rec.CriteriaUsed, "; ")
		}
		if cr.Error != nil {
			criteria = cr.Error.Kind.String() + ": " + cr.Error.Message
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c, cr.Status, cr.Matched, sites, criteria)
	}
	_ = w.Flush()
}
