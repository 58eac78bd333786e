// ABOUTME: status command describing the stored token
// ABOUTME: Reads the token file only and never contacts Google

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/gchat-mcp/pkg/auth"
)

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored token's state",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := auth.Inspect(cmd.Context(), a.store(), a.now(), auth.DefaultScopes...)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printStatus(a.out, info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	return cmd
}

func printStatus(w io.Writer, info *auth.TokenInfo) {
	fmt.Fprintf(w, "Token file:   %s\n", info.Path)
	if !info.Present {
		fmt.Fprintln(w, "Status:       not authorized (run `gchat-mcp auth`)")
		return
	}

	switch {
	case info.Valid:
		fmt.Fprintln(w, "Status:       valid")
	case info.HasRefresh:
		fmt.Fprintln(w, "Status:       expired, will refresh on next use")
	default:
		fmt.Fprintln(w, "Status:       expired, run `gchat-mcp auth --force`")
	}

	fmt.Fprintf(w, "Access token: %s\n", info.AccessToken)
	if info.Expiry.IsZero() {
		fmt.Fprintln(w, "Expires:      never")
	} else if info.ExpiresIn > 0 {
		fmt.Fprintf(w, "Expires:      %s (in %s)\n", info.Expiry.Format(time.RFC3339), info.ExpiresIn.Round(time.Second))
	} else {
		fmt.Fprintf(w, "Expires:      %s (%s ago)\n", info.Expiry.Format(time.RFC3339), (-info.ExpiresIn).Round(time.Second))
	}
	fmt.Fprintf(w, "Refreshable:  %t\n", info.HasRefresh)
	if len(info.Scopes) > 0 {
		fmt.Fprintf(w, "Scopes:       %s\n", strings.Join(info.Scopes, " "))
	}
	if len(info.MissingScopes) > 0 {
		fmt.Fprintf(w, "Missing:      %s (run `gchat-mcp auth --force`)\n", strings.Join(info.MissingScopes, " "))
	}
}
