package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// confusion is a binary confusion matrix with FRAUD as the positive class.
type confusion struct {
	TruePositives  int `json:"truePositives" yaml:"truePositives"`
	FalsePositives int `json:"falsePositives" yaml:"falsePositives"`
	TrueNegatives  int `json:"trueNegatives" yaml:"trueNegatives"`
	FalseNegatives int `json:"falseNegatives" yaml:"falseNegatives"`
}

func (c *confusion) add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TruePositives++
	case predicted && !actual:
		c.FalsePositives++
	case !predicted && !actual:
		c.TrueNegatives++
	default:
		c.FalseNegatives++
	}
}

func (c confusion) total() int {
	return c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
}

func (c confusion) precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

func (c confusion) recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

func (c confusion) f1() float64 {
	p, r := c.precision(), c.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (c confusion) accuracy() float64 {
	return ratio(c.TruePositives+c.TrueNegatives, c.total())
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// benchmarkReport is the outcome of a benchmark run.
type benchmarkReport struct {
	Matrix     confusion `json:"matrix" yaml:"matrix"`
	Precision  float64   `json:"precision" yaml:"precision"`
	Recall     float64   `json:"recall" yaml:"recall"`
	F1         float64   `json:"f1" yaml:"f1"`
	Accuracy   float64   `json:"accuracy" yaml:"accuracy"`
	Unlabelled int       `json:"unlabelled" yaml:"unlabelled"`
	Fallbacks  int       `json:"fallbacks" yaml:"fallbacks"`
	Degraded   int       `json:"degraded" yaml:"degraded"`
	Errors     int       `json:"errors" yaml:"errors"`
	DurationMs int64     `json:"durationMs" yaml:"durationMs"`
}

type benchmarkOptions struct {
	Limit       int
	Chunk       int
	Concurrency int
	FraudOnly   bool
}

func benchmarkCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "benchmark",
		Usage:     "Replay a labelled CSV against a running server and report detection quality",
		ArgsUsage: "<labelled.csv>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum labelled transactions to replay (0 = all)",
				Value: 10000,
			},
			&cli.IntFlag{
				Name:  "chunk",
				Usage: "Transactions per batch request",
				Value: 500,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Batch requests in flight",
				Value: 4,
			},
			&cli.BoolFlag{
				Name:  "fraud-only",
				Usage: "Only replay transactions labelled as fraud",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print the report in the --format encoding instead of a table",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("labelled CSV file is required")
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()

			parsed, err := ingest.Parse(f, slog.Default())
			if err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}

			c := serverClient(cmd)
			if err := c.health(ctx); err != nil {
				return fmt.Errorf("harrier not reachable at %s: %w", cmd.String(flagServer), err)
			}

			report, err := runBenchmark(ctx, c, parsed.Records, benchmarkOptions{
				Limit:       cmd.Int("limit"),
				Chunk:       cmd.Int("chunk"),
				Concurrency: cmd.Int("concurrency"),
				FraudOnly:   cmd.Bool("fraud-only"),
			})
			if err != nil {
				return err
			}

			if cmd.Bool("raw") {
				return encode(out, cmd.String(flagFormat), report)
			}
			printReport(out, report)
			return nil
		},
	}
}

// runBenchmark submits the labelled records in chunks and scores the verdicts
// against the labels. A failed chunk is counted, not fatal.
func runBenchmark(ctx context.Context, c *client, records []ingest.Record, opts benchmarkOptions) (*benchmarkReport, error) {
	if opts.Chunk <= 0 {
		opts.Chunk = 500
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	report := &benchmarkReport{}
	var (
		txs    []domain.Transaction
		actual []bool
	)
	for _, rec := range records {
		if rec.Label == nil {
			report.Unlabelled++
			continue
		}
		if opts.FraudOnly && !*rec.Label {
			continue
		}
		txs = append(txs, rec.Transaction)
		actual = append(actual, *rec.Label)
		if opts.Limit > 0 && len(txs) >= opts.Limit {
			break
		}
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("no labelled transactions to replay")
	}

	// Labels are keyed by id, so ids are fixed before submission.
	txs = batch.Prepare(txs, time.Now())
	labels := make(map[string]bool, len(txs))
	for i := range txs {
		labels[txs[i].ID] = actual[i]
	}

	start := time.Now()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for lo := 0; lo < len(txs); lo += opts.Chunk {
		chunk := txs[lo:min(lo+opts.Chunk, len(txs))]
		g.Go(func() error {
			resp, err := c.submitBatch(gctx, api.BatchRequest{
				BatchID:      "bench-" + uuid.New().String(),
				Transactions: chunk,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("batch request failed", "size", len(chunk), "error", err)
				report.Errors += len(chunk)
				return nil
			}
			for _, r := range resp.Results {
				label, ok := labels[r.TxID]
				if !ok {
					report.Errors++
					continue
				}
				report.Matrix.add(r.IsFraud(), label)
				switch r.Mode {
				case domain.ModeFallback:
					report.Fallbacks++
				case domain.ModeDegraded:
					report.Degraded++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("benchmark interrupted: %w", err)
	}

	report.DurationMs = time.Since(start).Milliseconds()
	report.Precision = report.Matrix.precision()
	report.Recall = report.Matrix.recall()
	report.F1 = report.Matrix.f1()
	report.Accuracy = report.Matrix.accuracy()
	return report, nil
}

func printReport(w io.Writer, r *benchmarkReport) {
	m := r.Matrix
	fmt.Fprintln(w, "BENCHMARK RESULTS")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Scored:      %d\n", m.total())
	fmt.Fprintf(w, "  Unlabelled:  %d\n", r.Unlabelled)
	fmt.Fprintf(w, "  Errors:      %d\n", r.Errors)
	fmt.Fprintf(w, "  Fallbacks:   %d\n", r.Fallbacks)
	fmt.Fprintf(w, "  Degraded:    %d\n", r.Degraded)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  CONFUSION MATRIX       Predicted")
	fmt.Fprintln(w, "                     FRAUD       SAFE")
	fmt.Fprintf(w, "  Actual  FRAUD   %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(w, "          SAFE    %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Precision:  %.4f\n", r.Precision)
	fmt.Fprintf(w, "  Recall:     %.4f\n", r.Recall)
	fmt.Fprintf(w, "  F1-Score:   %.4f\n", r.F1)
	fmt.Fprintf(w, "  Accuracy:   %.4f\n", r.Accuracy)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Duration:   %v\n", time.Duration(r.DurationMs)*time.Millisecond)
	if n := m.total(); n > 0 && r.DurationMs > 0 {
		fmt.Fprintf(w, "  Throughput: %.2f tx/sec\n", float64(n)/(float64(r.DurationMs)/1000))
	}
}
