package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/analysis"
	"github.com/sells-group/access-cli/internal/ingest"
	"github.com/sells-group/access-cli/internal/model"
)

var batchCmd = &cobra.Command{
	Use:   "batch <origins.csv|origins.xlsx>",
	Short: "Analyze every origin in a CSV or XLSX file",
	Long:  "Reads label, lon and lat columns from a CSV or XLSX sheet and analyzes each origin concurrently. Failed origins are reported and never stop the batch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := cmd.Flags()
		if f.Changed("concurrency") {
			cfg.Batch.Concurrency, _ = f.GetInt("concurrency")
		}
		limit, _ := f.GetInt("limit")
		noStore, _ := f.GetBool("no-store")

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		origins, err := ingest.ReadOrigins(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "read origins")
		}
		origins = applyLimit(origins, limit)
		if len(origins) == 0 {
			zap.L().Info("no origins found", zap.String("path", args[0]))
			return nil
		}

		env, err := initEngine(ctx, engineOptions{persist: !noStore})
		if err != nil {
			return err
		}
		defer env.Close()

		results, summary := env.Runner.RunBatch(ctx, origins)
		formatBatchResults(os.Stderr, results)

		out, closeOut, err := openOutput(cmd)
		if err != nil {
			return err
		}
		defer closeOut()
		if err := writeBatchReports(out, results); err != nil {
			return err
		}

		if summary.Failed > 0 && summary.Succeeded == 0 {
			return eris.Errorf("batch: all %d origins failed", summary.Failed)
		}
		return nil
	},
}

func init() {
	f := batchCmd.Flags()
	f.Int("concurrency", 0, "origins analyzed in parallel (default from config)")
	f.Int("limit", 0, "max number of origins to process (0 = all)")
	f.Bool("no-store", false, "skip persisting runs")
	f.String("out", "", "JSON lines report file (default stdout)")
	rootCmd.AddCommand(batchCmd)
}

func applyLimit(origins []model.Origin, limit int) []model.Origin {
	if limit > 0 && len(origins) > limit {
		return origins[:limit]
	}
	return origins
}

// batchLine is one JSON line of batch output.
type batchLine struct {
	Origin model.Origin     `json:"origin"`
	RunID  string           `json:"run_id,omitempty"`
	Report *analysis.Report `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// writeBatchReports writes one JSON object per origin, in input order.
func writeBatchReports(out io.Writer, results []analysis.BatchResult) error {
	enc := json.NewEncoder(out)
	for _, r := range results {
		line := batchLine{Origin: r.Origin, RunID: r.RunID, Report: r.Report}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return eris.Wrap(err, "batch: write report")
		}
	}
	return nil
}

// formatBatchResults writes a per-origin summary table to w.
func formatBatchResults(out io.Writer, results []analysis.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ORIGIN\tRUN\tVIOLATED\tERROR")
	_, _ = fmt.Fprintln(w, "------\t---\t--------\t-----")

	for _, r := range results {
		label := r.Origin.Label
		if label == "" {
			label = fmt.Sprintf("%.5f,%.5f", r.Origin.Point.Lon, r.Origin.Point.Lat)
		}
		violated, errMsg := "", ""
		if r.Report != nil {
			violated = fmt.Sprint(r.Report.Accessibility.Violated())
		}
		if r.Err != nil {
			errMsg = r.Err.Error()
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", label, truncateID(r.RunID), violated, errMsg)
	}
	_ = w.Flush()
}
