package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/fancool/perfcurve/internal/curve"
)

var (
	hashEnv  bool
	hashCopy bool

	hashCmd = &cobra.Command{
		Use:   "hash SAMPLES",
		Short: "Print the data hash of a sample file",
		Long: paragraph(fmt.Sprintf("\nPrint the order-independent %s of a sample file, and optionally the environment key of the active settings. Together they decide whether a stored model is still valid.",
			keyword("data hash"))),
		Example: paragraph("perfcurve hash samples.json\nperfcurve hash samples.csv --env --copy"),
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			samples, err := loadSamples(args[0])
			if err != nil {
				return err
			}
			hash := curve.RawTriplesHash(samples.RPM, samples.Airflow, samples.Noise)

			var envKey string
			if hashEnv {
				a, err := newApp()
				if err != nil {
					return err
				}
				envKey = a.store.Params().EnvKey()
			}

			fmt.Fprintln(os.Stdout, hash)
			if envKey != "" {
				fmt.Fprintln(os.Stdout, formatEnvKey(envKey, terminalWidth()))
			}

			if hashCopy {
				if err := clipboard.WriteAll(hash); err != nil {
					return fmt.Errorf("unable to copy to clipboard: %w", err)
				}
				fmt.Fprintln(os.Stderr, faint("copied to clipboard"))
			}
			return nil
		},
	}
)

func init() {
	hashCmd.Flags().BoolVar(&hashEnv, "env", false, "also print the environment key")
	hashCmd.Flags().BoolVar(&hashCopy, "copy", false, "copy the data hash to the clipboard")
}

// formatEnvKey breaks an environment key at its separators so it wraps
// within width, indenting continuation lines.
func formatEnvKey(key string, width int) string {
	spaced := strings.ReplaceAll(key, "|", "| ")
	wrapped := wordwrap.String(spaced, max(20, width-2))
	lines := strings.Split(wrapped, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	if len(lines) == 1 {
		return key
	}
	return lines[0] + "\n" + indent.String(strings.Join(lines[1:], "\n"), 2)
}
