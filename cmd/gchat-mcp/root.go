// ABOUTME: Root command, shared flags, and per-invocation setup
// ABOUTME: Flags beat GCHAT_MCP_* environment variables, which beat defaults

package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/config"
	"github.com/harper/gchat-mcp/pkg/logging"
	"github.com/harper/gchat-mcp/pkg/metrics"
)

// app carries what every subcommand needs after setup.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	in        io.Reader
	out       io.Writer
	errOut    io.Writer
	lookupEnv func(string) (string, bool)
	now       func() time.Time
}

func newApp(in io.Reader, out, errOut io.Writer, lookupEnv func(string) (string, bool)) *app {
	return &app{
		cfg:       config.Default(),
		logger:    logging.Discard(),
		in:        in,
		out:       out,
		errOut:    errOut,
		lookupEnv: lookupEnv,
		now:       time.Now,
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gchat-mcp",
		Short: "MCP server that reads Google Chat on your behalf",
		Long: `gchat-mcp exposes your Google Chat spaces and messages to MCP clients.

Authorize once with "gchat-mcp auth", then point your MCP client at
"gchat-mcp serve". Running without a subcommand starts the server.`,
		Version:       version,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.SetVersionTemplate(`{{printf "gchat-mcp version %s\n" .Version}}`)
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &setupError{err: err}
	})

	flags := cmd.PersistentFlags()
	flags.StringVar((*string)(&a.cfg.Mode), "mode", string(a.cfg.Mode), "authorization flow: web or cli")
	flags.StringVar(&a.cfg.Host, "host", a.cfg.Host, "host for the local OAuth callback listener")
	flags.IntVar(&a.cfg.Port, "port", a.cfg.Port, "port for the local OAuth callback listener")
	flags.StringVar(&a.cfg.TokenPath, "token-path", a.cfg.TokenPath, "where the OAuth token is stored")
	flags.StringVar(&a.cfg.CredentialsPath, "credentials-path", a.cfg.CredentialsPath, "OAuth client credentials.json from Google Cloud Console")
	flags.DurationVar(&a.cfg.Timeout, "timeout", a.cfg.Timeout, "limit for each Google API or token endpoint call")
	flags.DurationVar(&a.cfg.AuthTimeout, "auth-timeout", a.cfg.AuthTimeout, "how long an authorization attempt may wait for the user")
	flags.BoolVar(&a.cfg.KeepOpenOnMismatch, "keep-open-on-mismatch", a.cfg.KeepOpenOnMismatch, "keep waiting after a callback with the wrong state")
	flags.StringVar(&a.cfg.ChatEndpoint, "chat-endpoint", a.cfg.ChatEndpoint, "override the Google Chat API base URL")
	flags.StringVar(&a.cfg.MetricsAddr, "metrics-addr", a.cfg.MetricsAddr, "serve Prometheus metrics on this address (e.g. :9090)")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "debug, info, warn, or error")
	flags.BoolVar(&a.cfg.LogJSON, "log-json", a.cfg.LogJSON, "write logs as JSON")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newAuthCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newRefreshCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}

// setup resolves the configuration and builds the logger and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	if err := a.cfg.ApplyEnv(a.lookupEnv, cmd.Flags().Changed); err != nil {
		return &setupError{err: fmt.Errorf("environment: %w", err)}
	}
	if mode, err := config.ParseAuthMode(string(a.cfg.Mode)); err == nil {
		a.cfg.Mode = mode
	}
	if err := a.cfg.Validate(); err != nil {
		return &setupError{err: err}
	}

	logger, err := logging.New(logging.Options{
		Level:  a.cfg.LogLevel,
		JSON:   a.cfg.LogJSON,
		Output: a.errOut,
	})
	if err != nil {
		return &setupError{err: err}
	}
	a.logger = logger
	a.metrics = metrics.New()

	return nil
}

func (a *app) store() *auth.FileStore {
	return auth.NewFileStore(a.cfg.TokenPath)
}

func (a *app) client() (*auth.Client, error) {
	conf, err := auth.LoadConfig(a.cfg.CredentialsPath, a.cfg.CallbackURL())
	if err != nil {
		return nil, &setupError{err: err}
	}
	return auth.NewClient(conf, auth.ClientOptions{Timeout: a.cfg.Timeout}), nil
}

func (a *app) refresher(client *auth.Client) *auth.Refresher {
	return auth.NewRefresher(a.store(), client, auth.RefresherOptions{
		Now:     a.now,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}
