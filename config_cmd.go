package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfig = `# Curve shape. Changing any value invalidates stored models.
curve:
  # weight of the linear trend blended into the knots (0 to 1)
  alpha_rpm: 0
  alpha_noise: 0
  # tension applied to the tangents, 1 gives straight segments (0 to 1)
  tau_rpm: 0
  tau_noise: 0
  # force non-decreasing curves
  monotone_rpm: true
  monotone_noise: true
  # interpolate raw points exactly, skipping all smoothing
  node_lock_rpm: false
  node_lock_noise: false
  # code_version: ""

# Cache sizing. Changes take effect on restart.
cache:
  dir: "./curve_cache"
  memory_enabled: true
  # models held in memory
  max_models: 2000
  # total knots held in memory
  max_points: 200000
  # hits a pair needs before it enters memory
  admit_hits: 2
  # pairs tracked for admission
  hits_window: 4096
`

var (
	configCmd = &cobra.Command{
		Use:     "config",
		Hidden:  false,
		Short:   "Edit the perfcurve config file",
		Long:    paragraph(fmt.Sprintf("\n%s the perfcurve config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
		Example: paragraph("perfcurve config\nperfcurve config --config path/to/config.yml"),
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := ensureConfigFile(); err != nil {
				return err
			}

			c, err := editor.Cmd("perfcurve", configFile)
			if err != nil {
				return fmt.Errorf("unable to set config file: %w", err)
			}
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("unable to run command: %w", err)
			}

			fmt.Println("Wrote config file to:", configFile)
			return nil
		},
	}

	configShowCmd = &cobra.Command{
		Use:     "show",
		Short:   "Print the effective settings",
		Long:    paragraph(fmt.Sprintf("\n%s the settings after applying defaults, the config file and the environment, followed by the resulting environment key.", keyword("Print"))),
		Example: paragraph("CURVE_SMOOTH_ALPHA_RPM=0.2 perfcurve config show"),
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(a.settings); err != nil {
				return fmt.Errorf("unable to encode settings: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
			fmt.Printf("# env_key: %s\n", a.store.Params().EnvKey())
			return nil
		},
	}
)

func init() {
	configCmd.AddCommand(configShowCmd)
}

func ensureConfigFile() error {
	if configFile == "" {
		return errors.New("no config file location")
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
