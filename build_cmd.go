package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fancool/perfcurve/internal/cache"
	"github.com/fancool/perfcurve/internal/curve"
)

var (
	buildJSON bool

	buildCmd = &cobra.Command{
		Use:   "build MODEL CONDITION SAMPLES",
		Short: "Build or fetch the unified model of a pair",
		Long: paragraph(fmt.Sprintf("\n%s the four performance curves of a (model, condition) pair from a JSON or CSV sample file. A cached model is reused while its data hash and environment key still match.",
			keyword("Build"))),
		Example: paragraph("perfcurve build 12 3 samples.json\nperfcurve build 12 3 samples.csv --json"),
		Args:    cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			modelID, err := parseID("model", args[0])
			if err != nil {
				return err
			}
			conditionID, err := parseID("condition", args[1])
			if err != nil {
				return err
			}
			samples, err := loadSamples(args[2])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			model, level, err := a.manager.Resolve(modelID, conditionID, samples)
			if err != nil {
				return err
			}

			if buildJSON {
				return writeJSON(os.Stdout, model)
			}
			return writeSummary(os.Stdout, model, level, a.manager.Disk().Path(modelID, conditionID))
		},
	}
)

func init() {
	buildCmd.Flags().BoolVar(&buildJSON, "json", false, "print the model as JSON")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}
	return nil
}

func writeSummary(w io.Writer, m *curve.Model, level cache.CacheLevel, path string) error {
	fmt.Fprintf(w, "%s %d/%d %s\n", header("model"), m.ModelID, m.ConditionID, faint("("+level.String()+")"))
	for _, d := range curve.Directions {
		fit := m.PCHIP.Get(d)
		if fit.Knots() == 0 {
			fmt.Fprintf(w, "  %-18s %s\n", d, warning("no data"))
			continue
		}
		lo, hi := fit.Domain()
		fmt.Fprintf(w, "  %-18s %2d knots  [%g, %g]\n", d, fit.Knots(), lo, hi)
	}
	fmt.Fprintf(w, "  %-18s %t\n", "supports_audio", m.SupportsAudio)
	fmt.Fprintf(w, "  %-18s %s\n", "data_hash", m.Meta.DataHash)
	_, err := fmt.Fprintf(w, "  %-18s %s\n", "file", faint(path))
	return err
}
