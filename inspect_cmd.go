package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fancool/perfcurve/internal/cache"
	"github.com/fancool/perfcurve/internal/curve"
	"github.com/fancool/perfcurve/internal/spectrum"
)

var (
	inspectRaw bool

	inspectCmd = &cobra.Command{
		Use:     "inspect MODEL CONDITION",
		Short:   "Show a stored model",
		Long:    paragraph(fmt.Sprintf("\n%s the stored unified model of a pair: metadata, knots of every curve and the state of its spectrum companion file.", keyword("Inspect"))),
		Example: paragraph("perfcurve inspect 12 3\nperfcurve inspect 12 3 --raw"),
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			modelID, err := parseID("model", args[0])
			if err != nil {
				return err
			}
			conditionID, err := parseID("condition", args[1])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			model, err := a.manager.Lookup(modelID, conditionID)
			if errors.Is(err, cache.ErrCacheMiss) {
				return fmt.Errorf("no model stored for %d/%d in %s", modelID, conditionID, a.manager.Disk().Dir())
			}
			if err != nil {
				return err
			}

			md := inspectReport(model, a.spectra.Validate(modelID, conditionID), a.store.Params().EnvKey(), time.Now())
			if inspectRaw {
				fmt.Print(md)
				return nil
			}

			style := glamour.WithAutoStyle()
			if !isTerminal() {
				style = glamour.WithStandardStyle(styles.NoTTYStyle)
			}
			r, err := glamour.NewTermRenderer(
				glamour.WithColorProfile(lipgloss.ColorProfile()),
				style,
				glamour.WithWordWrap(terminalWidth()),
			)
			if err != nil {
				return fmt.Errorf("unable to create renderer: %w", err)
			}
			out, err := r.Render(md)
			if err != nil {
				return fmt.Errorf("unable to render markdown: %w", err)
			}
			_, err = fmt.Fprint(os.Stdout, out)
			return err
		},
	}
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectRaw, "raw", false, "print the markdown source")
}

// inspectReport renders a model as markdown. currentEnvKey marks whether the
// model would still be valid under the active settings.
func inspectReport(m *curve.Model, sp spectrum.Validation, currentEnvKey string, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Model %d / condition %d\n\n", m.ModelID, m.ConditionID)
	b.WriteString("| field | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| type | `%s` |\n", m.Type)
	fmt.Fprintf(&b, "| data hash | `%s` |\n", m.Meta.DataHash)
	fmt.Fprintf(&b, "| code version | `%s` |\n", m.Meta.CodeVersion)
	created := m.Meta.CreatedAt
	if t, err := time.Parse(curve.TimeFormat, m.Meta.CreatedAt); err == nil {
		created = fmt.Sprintf("%s (%s)", m.Meta.CreatedAt, humanize.RelTime(t, now, "ago", "from now"))
	}
	fmt.Fprintf(&b, "| created | %s |\n", created)
	fmt.Fprintf(&b, "| supports audio | %t |\n", m.SupportsAudio)
	fmt.Fprintf(&b, "| current settings | %s |\n", envKeyState(m.Meta.EnvKey, currentEnvKey))
	fmt.Fprintf(&b, "| total knots | %s |\n\n", humanize.Comma(int64(m.PCHIP.Knots())))

	fmt.Fprintf(&b, "Environment key: `%s`\n\n", m.Meta.EnvKey)

	for _, d := range curve.Directions {
		fmt.Fprintf(&b, "## %s\n\n", d)
		fit := m.PCHIP.Get(d)
		if fit.Knots() == 0 {
			b.WriteString("_no data_\n\n")
			continue
		}
		lo, hi := fit.Domain()
		fmt.Fprintf(&b, "Domain `[%g, %g]`, %d knots.\n\n", lo, hi, fit.Knots())
		b.WriteString("| x | y | slope |\n|---:|---:|---:|\n")
		for i := range fit.X {
			fmt.Fprintf(&b, "| %.4g | %.4g | %.4g |\n", fit.X[i], fit.Y[i], fit.M[i])
		}
		b.WriteString("\n")
	}

	b.WriteString("## spectrum\n\n")
	switch {
	case !sp.Exists:
		b.WriteString("No spectrum file.\n")
	case !sp.Valid:
		fmt.Fprintf(&b, "Spectrum file `%s` is unusable (%s).\n", sp.Path, sp.Reason)
	default:
		fmt.Fprintf(&b, "Spectrum file `%s` is valid.\n", sp.Path)
	}
	return b.String()
}

func envKeyState(stored, current string) string {
	if stored == current {
		return "match"
	}
	return "**stale**, rebuilt on next lookup"
}
