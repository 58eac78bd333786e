// ABOUTME: serve command running the MCP server on stdio
// ABOUTME: Optionally exposes Prometheus metrics on a side port

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/chat"
	"github.com/harper/gchat-mcp/pkg/logging"
	"github.com/harper/gchat-mcp/pkg/metrics"
	"github.com/harper/gchat-mcp/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the Model Context Protocol server on stdin/stdout.

The server refreshes the stored token as needed. If no token is stored,
tool calls fail with a hint to run "gchat-mcp auth".`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := a.client()
	if err != nil {
		return err
	}
	a.logCredentialState(ctx)

	chatSvc, err := chat.NewService(ctx, chat.Config{
		Tokens:   a.refresher(client),
		Endpoint: a.cfg.ChatEndpoint,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}

	srv, err := server.NewServer(server.Options{
		Chat:    chatSvc,
		Timeout: a.cfg.Timeout,
		Version: version,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	if err != nil {
		return err
	}

	if a.cfg.MetricsAddr != "" {
		ms, err := metrics.Listen(a.cfg.MetricsAddr, a.metrics, a.logger)
		if err != nil {
			return &setupError{err: err}
		}
		a.logger.Info("metrics server listening", slog.String("addr", ms.Addr()))

		go func() {
			if err := ms.Serve(); err != nil {
				a.logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metrics.DefaultShutdownTimeout)
			defer cancel()
			if err := ms.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics server shutdown", logging.Err(err))
			}
		}()
	}

	return srv.Serve(ctx)
}

// logCredentialState reports the stored token without contacting Google.
func (a *app) logCredentialState(ctx context.Context) {
	info, err := auth.Inspect(ctx, a.store(), a.now(), auth.DefaultScopes...)
	switch {
	case err != nil:
		a.logger.Warn("stored token is unreadable", logging.Path(a.cfg.TokenPath), logging.Err(err))
	case !info.Present:
		a.logger.Warn("no stored token, run `gchat-mcp auth` before calling tools", logging.Path(info.Path))
	case len(info.MissingScopes) > 0:
		a.logger.Warn("stored token lacks scopes", logging.Path(info.Path), slog.Any("missing", info.MissingScopes))
	default:
		a.logger.Info("stored token found",
			logging.Path(info.Path),
			slog.Bool("valid", info.Valid),
			slog.Bool("refreshable", info.HasRefresh),
		)
	}
}
