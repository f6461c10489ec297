package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/fancool/perfcurve/internal/cache"
	"github.com/fancool/perfcurve/internal/curve"
)

var (
	lsFilter    string
	purgeAll    bool
	purgeStale  bool
	exportLevel int

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage stored models",
		Args:  cobra.NoArgs,
	}

	cacheLsCmd = &cobra.Command{
		Use:     "ls",
		Short:   "List stored models",
		Long:    paragraph(fmt.Sprintf("\n%s the stored models with their size, age and whether they match the active settings.", keyword("List"))),
		Example: paragraph("perfcurve cache ls\nperfcurve cache ls --filter 12/"),
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			rows, err := listRows(a.manager.Disk(), a.store.Params().EnvKey(), time.Now())
			if err != nil {
				return err
			}
			if lsFilter != "" {
				rows = filterRows(rows, lsFilter)
			}
			if len(rows) == 0 {
				fmt.Fprintln(os.Stderr, faint("no models in "+a.manager.Disk().Dir()))
				return nil
			}
			_, err = fmt.Fprint(os.Stdout, formatTable(rows, terminalWidth()))
			return err
		},
	}

	cacheExportCmd = &cobra.Command{
		Use:     "export FILE",
		Short:   "Write all valid models to a zstd bundle",
		Long:    paragraph(fmt.Sprintf("\n%s every valid stored model into one zstd-compressed JSON lines bundle. Use - for stdout.", keyword("Export"))),
		Example: paragraph("perfcurve cache export models.jsonl.zst"),
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			out := io.WriteCloser(os.Stdout)
			if args[0] != "-" {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("unable to create bundle: %w", err)
				}
				out = f
			}
			n, err := exportBundle(out, a.manager.Disk(), zstd.EncoderLevelFromZstd(exportLevel))
			if cerr := out.Close(); err == nil && cerr != nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s %s models\n", faint("exported"), humanize.Comma(int64(n)))
			return nil
		},
	}

	cacheImportCmd = &cobra.Command{
		Use:     "import FILE",
		Short:   "Restore models from a zstd bundle",
		Long:    paragraph(fmt.Sprintf("\n%s models written by cache export. Existing files for the same pairs are replaced.", keyword("Import"))),
		Example: paragraph("perfcurve cache import models.jsonl.zst"),
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			in := io.ReadCloser(os.Stdin)
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("unable to open bundle: %w", err)
				}
				in = f
			}
			defer in.Close() //nolint:errcheck

			n, err := importBundle(in, a.manager.Disk())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s %s models\n", faint("imported"), humanize.Comma(int64(n)))
			return nil
		},
	}

	cachePurgeCmd = &cobra.Command{
		Use:     "purge [MODEL CONDITION]",
		Short:   "Delete stored models",
		Long:    paragraph(fmt.Sprintf("\n%s the stored model of one pair, every model, or only models built under other settings.", keyword("Delete"))),
		Example: paragraph("perfcurve cache purge 12 3\nperfcurve cache purge --stale\nperfcurve cache purge --all"),
		Args: func(cmd *cobra.Command, args []string) error {
			if purgeAll || purgeStale {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			if len(args) == 2 {
				modelID, err := parseID("model", args[0])
				if err != nil {
					return err
				}
				conditionID, err := parseID("condition", args[1])
				if err != nil {
					return err
				}
				return a.manager.Invalidate(modelID, conditionID)
			}

			n, err := purge(a.manager, purgeStale, a.store.Params().EnvKey())
			fmt.Fprintf(os.Stderr, "%s %s models\n", faint("purged"), humanize.Comma(int64(n)))
			return err
		},
	}
)

func init() {
	cacheLsCmd.Flags().StringVarP(&lsFilter, "filter", "f", "", "fuzzy filter on model/condition")
	cacheExportCmd.Flags().IntVar(&exportLevel, "level", 3, "zstd compression level")
	cachePurgeCmd.Flags().BoolVar(&purgeAll, "all", false, "delete every stored model")
	cachePurgeCmd.Flags().BoolVar(&purgeStale, "stale", false, "delete models built under other settings")
	cachePurgeCmd.MarkFlagsMutuallyExclusive("all", "stale")

	cacheCmd.AddCommand(cacheLsCmd, cacheExportCmd, cacheImportCmd, cachePurgeCmd)
}

// listRow is one line of cache ls.
type listRow struct {
	Name   string
	Size   string
	Age    string
	Knots  string
	Status string
}

func listRows(disk *cache.DiskStore, envKey string, now time.Time) ([]listRow, error) {
	entries, err := disk.List()
	if err != nil {
		return nil, fmt.Errorf("unable to list cache: %w", err)
	}

	rows := make([]listRow, 0, len(entries))
	for _, e := range entries {
		row := listRow{
			Name: fmt.Sprintf("%d/%d", e.ModelID, e.ConditionID),
			Size: humanize.Bytes(uint64(e.Size)), //nolint:gosec
			Age:  humanize.RelTime(e.ModTime, now, "ago", "from now"),
		}
		loaded := disk.Load(e.ModelID, e.ConditionID)
		switch {
		case loaded.Status != cache.StatusValid:
			row.Status = loaded.Status.String()
			row.Knots = "-"
		case loaded.Model.Meta.EnvKey != envKey:
			row.Status = "stale"
			row.Knots = strconv.Itoa(loaded.Model.PCHIP.Knots())
		default:
			row.Status = "valid"
			row.Knots = strconv.Itoa(loaded.Model.PCHIP.Knots())
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// filterRows keeps the rows whose name fuzzily matches pattern, best match
// first.
func filterRows(rows []listRow, pattern string) []listRow {
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	matches := fuzzy.Find(pattern, names)
	out := make([]listRow, 0, len(matches))
	for _, m := range matches {
		out = append(out, rows[m.Index])
	}
	return out
}

func formatTable(rows []listRow, width int) string {
	cols := []string{"PAIR", "SIZE", "AGE", "KNOTS", "STATUS"}
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c)
	}
	cells := func(r listRow) []string { return []string{r.Name, r.Size, r.Age, r.Knots, r.Status} }
	for _, r := range rows {
		for i, c := range cells(r) {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}

	line := func(vals []string) string {
		parts := make([]string, len(vals))
		for i, v := range vals {
			if i == len(vals)-1 {
				parts[i] = v
				continue
			}
			parts[i] = runewidth.FillRight(v, widths[i])
		}
		return runewidth.Truncate(strings.Join(parts, "  "), width, "…")
	}

	var b strings.Builder
	b.WriteString(header(line(cols)) + "\n")
	for _, r := range rows {
		b.WriteString(line(cells(r)) + "\n")
	}
	return b.String()
}

// exportBundle writes every valid stored model as one JSON line into a zstd
// stream.
func exportBundle(w io.Writer, disk *cache.DiskStore, level zstd.EncoderLevel) (int, error) {
	entries, err := disk.List()
	if err != nil {
		return 0, fmt.Errorf("unable to list cache: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return 0, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	enc := json.NewEncoder(zw)

	n := 0
	for _, e := range entries {
		loaded := disk.Load(e.ModelID, e.ConditionID)
		if loaded.Status != cache.StatusValid {
			log.Warn("Skipping unreadable model", "path", e.Path, "err", loaded.Err)
			continue
		}
		if err := enc.Encode(loaded.Model); err != nil {
			zw.Close()
			return n, fmt.Errorf("unable to encode model: %w", err)
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("unable to finish bundle: %w", err)
	}
	return n, nil
}

// importBundle stores every model of a bundle written by exportBundle.
func importBundle(r io.Reader, disk *cache.DiskStore) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), maxBatchLine)

	n := 0
	for sc.Scan() {
		var m curve.Model
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return n, fmt.Errorf("invalid bundle line %d: %w", n+1, err)
		}
		if m.Type != curve.ModelType {
			return n, fmt.Errorf("invalid bundle line %d: unexpected type %q", n+1, m.Type)
		}
		if err := m.PCHIP.Validate(); err != nil {
			return n, fmt.Errorf("invalid bundle line %d: %w", n+1, err)
		}
		if _, err := disk.Save(&m); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("unable to read bundle: %w", err)
	}
	return n, nil
}

// purge deletes every stored model, or only those whose environment key
// differs from envKey when staleOnly is set. Unreadable files count as stale.
func purge(m *cache.Manager, staleOnly bool, envKey string) (int, error) {
	entries, err := m.Disk().List()
	if err != nil {
		return 0, fmt.Errorf("unable to list cache: %w", err)
	}

	var errs []error
	n := 0
	for _, e := range entries {
		if staleOnly {
			loaded := m.Disk().Load(e.ModelID, e.ConditionID)
			if loaded.Status == cache.StatusValid && loaded.Model.Meta.EnvKey == envKey {
				continue
			}
		}
		if err := m.Invalidate(e.ModelID, e.ConditionID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
