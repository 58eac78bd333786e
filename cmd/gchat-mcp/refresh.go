// ABOUTME: refresh and logout commands for token maintenance
// ABOUTME: refresh exchanges the refresh token now, logout deletes the token file

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the stored access token now",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			rec, err := a.refresher(client).Refresh(cmd.Context())
			if err != nil {
				return err
			}

			if rec.Expiry.IsZero() {
				fmt.Fprintln(a.out, "Token refreshed.")
			} else {
				fmt.Fprintf(a.out, "Token refreshed, valid until %s\n", rec.Expiry.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored token",
		Long: `Delete the stored token. This does not revoke the grant at Google;
use https://myaccount.google.com/permissions for that.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := a.store()
			if err := store.Remove(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed %s\n", store.Path)
			return nil
		},
	}
}
