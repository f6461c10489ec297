// Package main provides the entry point for the perfcurve CLI application.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fancool/perfcurve/internal/cache"
	"github.com/fancool/perfcurve/internal/config"
	"github.com/fancool/perfcurve/internal/spectrum"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	cacheDir   string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "perfcurve",
		Short: "Fit and cache fan performance curves",
		Long: paragraph(
			fmt.Sprintf("\nFit %s from measured fan samples and keep them cached on disk.", keyword("monotone performance curves")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOptions()
		},
	}
)

// app bundles what the commands share.
type app struct {
	store    *config.Store
	manager  *cache.Manager
	spectra  *spectrum.Store
	settings config.Settings
}

func validateOptions() error {
	verbose = viper.GetBool("verbose")
	if verbose {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.DebugLevel)
	}
	setupStyles()
	return nil
}

// newApp loads the settings and wires the cache. The --cache-dir flag wins
// over every other source.
func newApp() (*app, error) {
	store, err := config.NewStore(config.Loader{File: configFile})
	if err != nil {
		return nil, fmt.Errorf("unable to load settings: %w", err)
	}

	settings := store.Settings()
	if dir := viper.GetString("cache-dir"); dir != "" {
		settings.Cache.Dir = dir
	}

	logger := log.Default()
	spectra := spectrum.NewStore(settings.Cache.Dir, logger)
	manager := cache.NewManager(settings.Cache.CacheConfig(), store,
		cache.WithLogger(logger),
		cache.WithAudioProbe(spectra),
	)

	log.Debug("Loaded settings",
		"config", configFile,
		"cache_dir", settings.Cache.Dir,
		"env_key", store.Params().EnvKey())

	return &app{
		store:    store,
		manager:  manager,
		spectra:  spectra,
		settings: settings,
	}, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "config file")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "model cache directory (overrides CURVE_CACHE_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	// Config bindings
	_ = viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(buildCmd, evalCmd, inspectCmd, hashCmd, batchCmd, cacheCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "perfcurve")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "perfcurve")}, dirs...)
	}

	if c := os.Getenv("PERFCURVE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("perfcurve")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("perfcurve")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		configFile = used
		return
	}

	configFile = filepath.Join(dirs[0], "perfcurve.yml")
}
