package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fancool/perfcurve/internal/curve"
)

var (
	evalDirection string
	evalXs        []float64
	evalEffective string
	evalLimit     float64
	evalJSON      bool

	evalCmd = &cobra.Command{
		Use:   "eval MODEL CONDITION SAMPLES",
		Short: "Evaluate a fitted curve",
		Long: paragraph(fmt.Sprintf("\n%s one direction of a pair's unified model at the given points, or compute the effective airflow under an rpm or noise limit.",
			keyword("Evaluate"))),
		Example: paragraph("perfcurve eval 12 3 samples.json --dir rpm_to_airflow --x 1500 --x 2500\nperfcurve eval 12 3 samples.json --effective noise --limit 35"),
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			model, err := a.manager.GetOrBuild(modelID, conditionID, samples)
			if err != nil {
				return err
			}

			if evalEffective != "" {
				var limit *float64
				if cmd.Flags().Changed("limit") {
					limit = &evalLimit
				}
				eff, ok := curve.EffectiveAirflow(samples, &model.PCHIP, curve.Axis(evalEffective), limit)
				if !ok {
					return errors.New("no effective airflow within the limit")
				}
				if evalJSON {
					return writeJSON(os.Stdout, eff)
				}
				fmt.Printf("%s %g at %s=%g %s\n", header("airflow"), eff.Airflow, eff.Axis, eff.X, faint("("+string(eff.Source)+")"))
				return nil
			}

			d := curve.Direction(evalDirection)
			fit := model.PCHIP.Get(d)
			if fit == nil {
				return fmt.Errorf("no %s curve for %d/%d", d, modelID, conditionID)
			}
			ys := make([]float64, len(evalXs))
			for i, x := range evalXs {
				ys[i] = fit.Eval(x)
			}

			if evalJSON {
				return writeJSON(os.Stdout, map[string]any{"direction": d, "x": evalXs, "y": ys})
			}
			for i := range evalXs {
				fmt.Printf("%g\t%g\n", evalXs[i], ys[i])
			}
			return nil
		},
	}
)

func init() {
	evalCmd.Flags().StringVarP(&evalDirection, "dir", "d", string(curve.RPMToAirflow), "direction to evaluate")
	evalCmd.Flags().Float64SliceVarP(&evalXs, "x", "x", nil, "points to evaluate (repeatable)")
	evalCmd.Flags().StringVar(&evalEffective, "effective", "", "compute effective airflow on this axis (rpm or noise)")
	evalCmd.Flags().Float64Var(&evalLimit, "limit", 0, "axis limit for --effective (default unlimited)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print JSON")

	evalCmd.PreRunE = func(*cobra.Command, []string) error {
		if evalEffective != "" {
			if a := curve.Axis(evalEffective); a != curve.AxisRPM && a != curve.AxisNoise {
				return fmt.Errorf("unknown axis %q", evalEffective)
			}
			return nil
		}
		if !curve.Direction(evalDirection).Valid() {
			return fmt.Errorf("unknown direction %q", evalDirection)
		}
		if len(evalXs) == 0 {
			return errors.New("at least one --x is required")
		}
		return nil
	}
}
