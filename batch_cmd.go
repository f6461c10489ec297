package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/fancool/perfcurve/internal/cache"
	"github.com/fancool/perfcurve/internal/config"
	"github.com/fancool/perfcurve/internal/curve"
)

const maxBatchLine = 16 << 20

var (
	batchConcurrency int
	batchChunk       int
	batchWatch       bool
	batchMetricsFile string
	batchRate        float64

	batchCmd = &cobra.Command{
		Use:   "batch [INPUT]",
		Short: "Build many models from JSON lines",
		Long: paragraph(fmt.Sprintf("\nRead one request per line, %s for each pair and write one JSON result per line. Input defaults to stdin.",
			keyword("build or fetch the unified model"))),
		Example: paragraph(`perfcurve batch requests.jsonl > results.jsonl
tail -f requests.jsonl | perfcurve batch --watch --metrics-file perf.prom`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("unable to open file: %w", err)
				}
				defer f.Close() //nolint:errcheck
				in = f
			}

			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if batchWatch {
				if err := config.Watch(ctx, a.store, log.Default()); err != nil {
					return err
				}
			}

			var limiter *rate.Limiter
			if batchRate > 0 {
				limiter = rate.NewLimiter(rate.Limit(batchRate), max(1, batchChunk))
			}

			summary, err := runBatch(ctx, a.manager, in, os.Stdout, batchOptions{
				Chunk:       batchChunk,
				Concurrency: batchConcurrency,
				Limiter:     limiter,
			})
			log.Info("Batch finished",
				"requests", summary.Requests,
				"failed", summary.Failed,
				"builds", a.manager.Stats().Builds)
			fmt.Fprintf(os.Stderr, "%s %s requests, %s failed\n",
				faint("batch:"), humanize.Comma(int64(summary.Requests)), humanize.Comma(int64(summary.Failed)))

			if batchMetricsFile != "" {
				if werr := prometheus.WriteToTextfile(batchMetricsFile, a.manager.Registry()); werr != nil {
					return fmt.Errorf("unable to write metrics: %w", werr)
				}
			}
			return err
		},
	}
)

func init() {
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", runtime.NumCPU(), "models built in parallel")
	batchCmd.Flags().IntVar(&batchChunk, "chunk", 64, "requests read before a parallel round")
	batchCmd.Flags().BoolVar(&batchWatch, "watch", false, "reload curve settings when the config file changes")
	batchCmd.Flags().StringVar(&batchMetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile when done")
	batchCmd.Flags().Float64Var(&batchRate, "rate", 0, "maximum requests per second (0 for unlimited)")
}

// batchInput is one request line.
type batchInput struct {
	ModelID     int64 `json:"model_id"`
	ConditionID int64 `json:"condition_id"`
	curve.Samples
	Eval map[curve.Direction][]float64 `json:"eval,omitempty"`
}

// batchOutput is one result line.
type batchOutput struct {
	Line          int                              `json:"line"`
	ModelID       int64                            `json:"model_id"`
	ConditionID   int64                            `json:"condition_id"`
	Source        string                           `json:"source,omitempty"`
	DataHash      string                           `json:"data_hash,omitempty"`
	EnvKey        string                           `json:"env_key,omitempty"`
	SupportsAudio bool                             `json:"supports_audio"`
	Eval          map[curve.Direction]curve.Series `json:"eval,omitempty"`
	Error         string                           `json:"error,omitempty"`
}

type batchSummary struct {
	Requests int
	Failed   int
}

type batchOptions struct {
	Chunk       int
	Concurrency int
	Limiter     *rate.Limiter // nil for unlimited
}

type pending struct {
	line  int
	input batchInput
	err   error
}

// runBatch reads request lines from r and writes results to w in input
// order. Requests are resolved chunk by chunk so settings reloaded between
// chunks take effect.
func runBatch(ctx context.Context, m *cache.Manager, r io.Reader, w io.Writer, opts batchOptions) (batchSummary, error) {
	var summary batchSummary
	chunk := max(1, opts.Chunk)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxBatchLine)
	enc := json.NewEncoder(w)

	var (
		lineNo int
		batch  []pending
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if opts.Limiter != nil {
			if err := opts.Limiter.WaitN(ctx, min(len(batch), opts.Limiter.Burst())); err != nil {
				return err
			}
		}
		outs, err := resolveBatch(ctx, m, batch, opts.Concurrency)
		for _, out := range outs {
			summary.Requests++
			if out.Error != "" {
				summary.Failed++
			}
			if werr := enc.Encode(out); werr != nil {
				return fmt.Errorf("unable to write result: %w", werr)
			}
		}
		batch = batch[:0]
		return err
	}

	for sc.Scan() {
		lineNo++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		p := pending{line: lineNo}
		if err := json.Unmarshal(raw, &p.input); err != nil {
			p.err = fmt.Errorf("invalid request: %w", err)
		}
		batch = append(batch, p)
		if len(batch) >= chunk {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return summary, fmt.Errorf("unable to read input: %w", err)
	}
	return summary, flush()
}

func resolveBatch(ctx context.Context, m *cache.Manager, batch []pending, concurrency int) ([]batchOutput, error) {
	var (
		reqs  []cache.Request
		index []int
	)
	outs := make([]batchOutput, len(batch))
	for i, p := range batch {
		outs[i] = batchOutput{Line: p.line, ModelID: p.input.ModelID, ConditionID: p.input.ConditionID}
		if p.err != nil {
			outs[i].Error = p.err.Error()
			continue
		}
		reqs = append(reqs, cache.Request{
			ModelID:     p.input.ModelID,
			ConditionID: p.input.ConditionID,
			Samples:     p.input.Samples,
		})
		index = append(index, i)
	}

	results, err := m.BuildMany(ctx, reqs, concurrency)
	for j, res := range results {
		i := index[j]
		if res.Err != nil {
			outs[i].Error = res.Err.Error()
			continue
		}
		outs[i].Source = res.Level.String()
		outs[i].DataHash = res.Model.Meta.DataHash
		outs[i].EnvKey = res.Model.Meta.EnvKey
		outs[i].SupportsAudio = res.Model.SupportsAudio
		outs[i].Eval = evaluate(res.Model, batch[i].input.Eval)
	}
	return outs, err
}

// evaluate computes the requested points. Unknown or missing directions
// yield nulls.
func evaluate(m *curve.Model, req map[curve.Direction][]float64) map[curve.Direction]curve.Series {
	if len(req) == 0 {
		return nil
	}
	out := make(map[curve.Direction]curve.Series, len(req))
	for d, xs := range req {
		fit := m.PCHIP.Get(d)
		ys := make(curve.Series, len(xs))
		for i, x := range xs {
			ys[i] = fit.Eval(x)
		}
		out[d] = ys
	}
	return out
}
