// ABOUTME: Entry point for the gchat-mcp binary
// ABOUTME: Runs the command tree and maps failures to an exit status

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harper/gchat-mcp/pkg/server"
)

// version will be set at build time
var version = "dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.LookupEnv))
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, lookupEnv func(string) (string, bool)) int {
	a := newApp(in, out, errOut, lookupEnv)
	root := newRootCmd(a)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, describe(err))
		return 1
	}
	return 0
}

// setupError marks failures in flags, environment, or local files, which a
// retry cannot fix.
type setupError struct {
	err error
}

func (e *setupError) Error() string { return e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

// noArgs rejects positional arguments as a setup error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &setupError{err: err}
	}
	return nil
}

func describe(err error) string {
	var se *setupError
	if errors.As(err, &se) {
		return fmt.Sprintf("configuration error: %v", se.err)
	}
	return server.Describe(err)
}
