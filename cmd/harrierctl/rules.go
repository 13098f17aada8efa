package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/urfave/cli/v3"
)

func rulesCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Rule operations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the rules a running server evaluates",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					listing, err := serverClient(cmd).listRules(ctx)
					if err != nil {
						return err
					}
					return encode(out, cmd.String(flagFormat), listing)
				},
			},
			{
				Name:  "builtin",
				Usage: "List the built-in rules compiled into this build",
				Action: func(_ context.Context, cmd *cli.Command) error {
					engine, err := rules.NewEngine(slog.Default())
					if err != nil {
						return fmt.Errorf("creating rule engine: %w", err)
					}
					return encode(out, cmd.String(flagFormat), engine.Names())
				},
			},
			{
				Name:  "create",
				Usage: "Store an expression rule on the server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Rule name, unique across built-in and expression rules",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "expression",
						Usage:    "Boolean expression over transaction fields and signals",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "contribution",
						Usage: "Score contribution (0-100) when the rule triggers",
						Value: 10,
					},
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Human readable reason reported when the rule triggers",
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "Rule description",
					},
					&cli.BoolFlag{
						Name:  "disabled",
						Usage: "Store the rule without activating it on reload",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					enabled := !cmd.Bool("disabled")
					rule, err := serverClient(cmd).createRule(ctx, api.CreateRuleRequest{
						Name:         cmd.String("name"),
						Description:  cmd.String("description"),
						Expression:   cmd.String("expression"),
						Contribution: cmd.Int("contribution"),
						Reason:       cmd.String("reason"),
						Enabled:      &enabled,
					})
					if err != nil {
						return err
					}
					slog.Info("rule stored, run `harrierctl rules reload` to activate it", "id", rule.ID)
					return encode(out, cmd.String(flagFormat), rule)
				},
			},
			{
				Name:  "reload",
				Usage: "Recompile stored expression rules on the server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					resp, err := serverClient(cmd).reloadRules(ctx)
					if err != nil {
						return err
					}
					return encode(out, cmd.String(flagFormat), resp)
				},
			},
		},
	}
}
