// harrierctl is the operator CLI for harrier: offline scoring, rule
// management and benchmarking against a running server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"

	defaultServerURL = "http://localhost:8080"
)

// Global flag names.
const (
	flagDebug   = "debug"
	flagServer  = "server"
	flagFormat  = "format"
	flagTimeout = "timeout"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initLogging(os.Stderr, false)

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "harrierctl",
		Version: fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Usage:   "Operator CLI for the harrier risk scoring service",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&cli.StringFlag{
				Name:    flagServer,
				Usage:   "Base URL of the harrier server",
				Value:   defaultServerURL,
				Sources: cli.EnvVars("HARRIER_SERVER_URL"),
			},
			&cli.StringFlag{
				Name:  flagFormat,
				Usage: "Output format [json, yaml]",
				Value: formatJSON,
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Usage: "HTTP timeout for server calls",
				Value: 2 * time.Minute,
			},
		},
		Commands: []*cli.Command{
			scoreCmd(out),
			rulesCmd(out),
			benchmarkCmd(out),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool(flagDebug) {
				initLogging(os.Stderr, true)
			}
			switch f := cmd.String(flagFormat); f {
			case formatJSON, formatYAML, "yml":
			default:
				return ctx, fmt.Errorf("unsupported output format %q", f)
			}
			return ctx, nil
		},
	}
}

func serverClient(cmd *cli.Command) *client {
	return newClient(cmd.String(flagServer), cmd.Duration(flagTimeout))
}

func initLogging(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

func encode(w io.Writer, format string, v any) error {
	if format == formatYAML || format == "yml" {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
