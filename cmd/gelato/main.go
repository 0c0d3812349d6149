package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/config"
	"github.com/m-mizutani/gelato/trace/metrics"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := run(context.Background(), os.Args, os.Stdout, os.Stderr, os.Stdin, os.Getenv); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func operations() []registered {
	return []registered{
		encodeOperation(),
		decodeOperation(),
		validateOperation(),
		eligibilityOperation(),
		submitOperation(),
		predictProxyOperation(),
		provideFundsOperation(),
		erc20BalanceOperation(),
		erc20TransferOperation(),
		receiptToArrayOperation(),
		receiptToObjectOperation(),
		mcpOperation(),
		tracesOperation(),
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, stdin io.Reader, getenv func(string) string) error {
	ops, err := newRegistry(operations()...)
	if err != nil {
		return err
	}
	env, err := newEnvironment(slog.New(slog.DiscardHandler), stdout, stdin, getenv)
	if err != nil {
		return err
	}
	env.ops = ops

	app := &cli.Command{
		Name:      "gelato",
		Usage:     "Compose, validate and submit Gelato task cycles",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Reader:    stdin,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Network configuration file (YAML)",
				Sources: cli.EnvVars("GELATO_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("GELATO_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format (text, json)",
				Sources: cli.EnvVars("GELATO_LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "metrics",
				Usage:   "Collect Prometheus metrics of submissions and engine calls",
				Sources: cli.EnvVars("GELATO_METRICS"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger, err := newLogger(stderr, cmd.String("log-level"), cmd.String("log-format"))
			if err != nil {
				return ctx, err
			}
			env.logger = logger
			ctx = gelato.CtxWithLogger(ctx, logger)

			cfg, err := config.Load(ctx, cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			env.cfg = cfg

			if cmd.Bool("metrics") {
				reg := prometheus.NewRegistry()
				h, err := metrics.New(metrics.WithRegisterer(reg), metrics.WithNamespace("gelato"))
				if err != nil {
					return ctx, err
				}
				env.handlers = append(env.handlers, h)
				env.gatherer = reg
			}
			return ctx, nil
		},
		Commands: ops.commands(env),
	}

	return app.Run(ctx, args)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, goerr.Wrap(err, "invalid log level", goerr.V("level", level))
	}
	opts := &slog.HandlerOptions{Level: lv}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, goerr.New("invalid log format", goerr.V("format", format))
	}
}
