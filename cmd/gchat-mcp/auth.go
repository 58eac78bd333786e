// ABOUTME: auth command running the browser or terminal OAuth flow
// ABOUTME: Saves the issued token where the server will look for it

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/config"
	"github.com/harper/gchat-mcp/pkg/logging"
)

func newAuthCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize gchat-mcp to read your Google Chat",
		Long: `Run the OAuth authorization flow and store the resulting token.

With --mode web (default) a local listener receives the browser redirect.
With --mode cli you paste the redirect URL from the browser's address bar,
which works on machines without a browser.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.authorize(cmd.Context(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "authorize again even if a usable token is stored")

	return cmd
}

func (a *app) authorize(ctx context.Context, force bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := a.store()
	if !force {
		rec, err := store.Load(ctx)
		switch {
		case err == nil && rec.Refreshable() && rec.HasScopes(auth.DefaultScopes...):
			fmt.Fprintf(a.out, "Already authorized, token at %s. Use --force to authorize again.\n", store.Path)
			return nil
		case err != nil && !errors.Is(err, auth.ErrNotFound):
			a.logger.Warn("stored token is unreadable, replacing it", logging.Path(store.Path), logging.Err(err))
		}
	}

	client, err := a.client()
	if err != nil {
		return err
	}

	var rec auth.TokenRecord
	if a.cfg.Mode == config.ModeCLI {
		rec, err = a.authorizeCLI(ctx, client, store)
	} else {
		rec, err = a.authorizeWeb(ctx, client, store)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Token saved to %s\n", store.Path)
	if !rec.Refreshable() && a.cfg.Mode != config.ModeCLI {
		fmt.Fprintln(a.out, "Warning: Google issued no refresh token. Revoke the app's access at https://myaccount.google.com/permissions and run `gchat-mcp auth --force`.")
	}
	return nil
}

func (a *app) authorizeWeb(ctx context.Context, client *auth.Client, store auth.Store) (auth.TokenRecord, error) {
	flow := auth.NewWebFlow(client, store, auth.WebFlowOptions{
		Host:               a.cfg.Host,
		Port:               a.cfg.Port,
		Timeout:            a.cfg.AuthTimeout,
		KeepOpenOnMismatch: a.cfg.KeepOpenOnMismatch,
		Logger:             a.logger,
		Metrics:            a.metrics,
	})

	consentURL, err := flow.Start(ctx)
	if err != nil {
		return auth.TokenRecord{}, err
	}

	fmt.Fprintf(a.out, "Open this URL in your browser to authorize gchat-mcp:\n\n  %s\n\n", consentURL)
	fmt.Fprintf(a.out, "Waiting up to %s for the redirect to %s\n", a.cfg.AuthTimeout, client.RedirectURL())

	return flow.Wait(ctx)
}

func (a *app) authorizeCLI(ctx context.Context, client *auth.Client, store auth.Store) (auth.TokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AuthTimeout)
	defer cancel()

	return auth.NewCLIFlow(client, store, auth.CLIFlowOptions{
		In:      a.in,
		Out:     a.out,
		Logger:  a.logger,
		Metrics: a.metrics,
	}).Run(ctx)
}
