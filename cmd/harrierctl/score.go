package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scorer"
	"github.com/urfave/cli/v3"
)

// scoreReport is the output of the score command.
type scoreReport struct {
	Summary domain.BatchSummary        `json:"summary" yaml:"summary"`
	Skipped int                        `json:"skipped" yaml:"skipped"`
	Results []domain.ScoredTransaction `json:"results,omitempty" yaml:"results,omitempty"`
}

func scoreCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "score",
		Usage:     "Score a CSV file offline and print the verdicts",
		ArgsUsage: "<file.csv|->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scorer-url",
				Usage:   "Base URL of the remote model service",
				Value:   domain.DefaultScorerURL,
				Sources: cli.EnvVars("HARRIER_SCORER_URL"),
			},
			&cli.BoolFlag{
				Name:  "no-scorer",
				Usage: "Score with rules only, never calling the model service",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of transactions scored concurrently",
				Value: batch.DefaultWorkers,
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Print only the batch summary",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("input file is required (use - for stdin)")
			}

			var model domain.ProbabilityScorer
			if !cmd.Bool("no-scorer") {
				c, err := scorer.New(scorer.Config{BaseURL: cmd.String("scorer-url")})
				if err != nil {
					return fmt.Errorf("creating scorer client: %w", err)
				}
				model = c
			}

			report, err := scoreFile(ctx, path, model, cmd.Int("workers"))
			if err != nil {
				return err
			}
			if cmd.Bool("summary") {
				report.Results = nil
			}
			return encode(out, cmd.String(flagFormat), report)
		},
	}
}

// scoreFile scores every row of a CSV file. History is not available offline.
func scoreFile(ctx context.Context, path string, model domain.ProbabilityScorer, workers int) (*scoreReport, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	parsed, err := ingest.Parse(r, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	engine, err := rules.NewEngine(slog.Default())
	if err != nil {
		return nil, fmt.Errorf("creating rule engine: %w", err)
	}

	start := time.Now()
	txs := batch.Prepare(parsed.Transactions(), start)
	p := batch.NewProcessor(decision.NewProcessor(engine, model, slog.Default()), batch.Options{Workers: workers})
	results := p.Process(ctx, txs)

	summary := domain.Summarize("offline", results)
	summary.DurationMs = time.Since(start).Milliseconds()

	return &scoreReport{
		Summary: summary,
		Skipped: parsed.Skipped,
		Results: results,
	}, nil
}
