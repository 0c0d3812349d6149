package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gelato/trace/gcs"
	"github.com/m-mizutani/goerr/v2"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

type tracesInput struct {
	Addr   string
	Dir    string
	Bucket string
	Prefix string
}

func tracesOperation() registered {
	return &operation[tracesInput]{
		name:  "traces",
		usage: "Serve stored submission traces over HTTP",
		params: []param{
			{name: "addr", usage: "Server listen address", value: ":18900", env: "GELATO_TRACES_ADDR"},
			{name: "dir", usage: "Local directory containing trace JSON files", env: "GELATO_TRACES_DIR"},
			{name: "bucket", usage: "Google Cloud Storage bucket name", env: "GELATO_TRACES_BUCKET"},
			{name: "prefix", usage: "Google Cloud Storage object prefix", env: "GELATO_TRACES_PREFIX"},
		},
		parse: func(in input) (tracesInput, error) {
			x := tracesInput{
				Addr:   in.String("addr"),
				Dir:    in.String("dir"),
				Bucket: in.String("bucket"),
				Prefix: in.String("prefix"),
			}
			if x.Dir == "" && x.Bucket == "" {
				return x, goerr.New("either --dir or --bucket must be specified")
			}
			if x.Dir != "" && x.Bucket != "" {
				return x, goerr.New("--dir and --bucket are mutually exclusive")
			}
			return x, nil
		},
		run: func(ctx context.Context, env *environment, in tracesInput) (any, error) {
			var reader trace.Reader
			if in.Dir != "" {
				reader = trace.NewFileRepository(in.Dir)
			} else {
				repo, err := gcs.New(ctx, in.Bucket, in.Prefix)
				if err != nil {
					return nil, err
				}
				reader = repo
			}

			opts := []serverOption{
				withAddr(in.Addr),
				withReader(reader),
				withLogger(env.logger),
			}
			if env.gatherer != nil {
				opts = append(opts, withGatherer(env.gatherer))
			}
			return nil, newServer(opts...).start(ctx)
		},
	}
}

type mcpInput struct {
	MetricsAddr string
}

// newMCPServer exposes every tool operation of env.ops.
func newMCPServer(env *environment) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("gelato", version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	for _, op := range env.ops.tools() {
		s.AddTool(op.toolHandler(env))
	}
	return s
}

func mcpOperation() registered {
	return &operation[mcpInput]{
		name:  "mcp",
		usage: "Run an MCP tool server on standard input and output",
		params: []param{
			{name: "metrics-addr", usage: "Listen address of the Prometheus endpoint; disabled when empty", env: "GELATO_METRICS_ADDR"},
		},
		parse: func(in input) (mcpInput, error) {
			return mcpInput{MetricsAddr: in.String("metrics-addr")}, nil
		},
		run: func(ctx context.Context, env *environment, in mcpInput) (any, error) {
			if in.MetricsAddr != "" && env.gatherer != nil {
				srv := &http.Server{
					Addr:              in.MetricsAddr,
					Handler:           promhttp.HandlerFor(env.gatherer, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						env.logger.Error("metrics server stopped", "error", err)
					}
				}()
				defer func() { _ = srv.Close() }()
			}

			env.logger.Info("starting MCP server", "tools", len(env.ops.tools()))
			if err := mcpserver.ServeStdio(newMCPServer(env)); err != nil {
				return nil, goerr.Wrap(err, "MCP server stopped")
			}
			return nil, nil
		},
	}
}
