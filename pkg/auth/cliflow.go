// ABOUTME: Terminal authorization flow for hosts without a reachable browser callback
// ABOUTME: The operator pastes the redirected URL back; malformed pastes re-prompt

package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/harper/gchat-mcp/pkg/logging"
	"github.com/harper/gchat-mcp/pkg/metrics"
)

// CLIFlowOptions wires the operator's terminal.
type CLIFlowOptions struct {
	In      io.Reader
	Out     io.Writer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// CLIFlow runs the authorization code flow over a terminal.
type CLIFlow struct {
	exchanger CodeExchanger
	store     Store
	in        io.Reader
	out       io.Writer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewCLIFlow creates a terminal flow that saves the issued record to store.
func NewCLIFlow(exchanger CodeExchanger, store Store, opts CLIFlowOptions) *CLIFlow {
	return &CLIFlow{
		exchanger: exchanger,
		store:     store,
		in:        opts.In,
		out:       opts.Out,
		logger:    logging.WithOperation(logging.OrDefault(opts.Logger), "cli_auth"),
		metrics:   opts.Metrics,
	}
}

type scannedLine struct {
	text string
	err  error
}

// Run prints the consent URL and reads pasted redirect URLs until one yields
// a code, the operator aborts, or ctx ends.
func (f *CLIFlow) Run(ctx context.Context) (TokenRecord, error) {
	rec, err := f.run(ctx)
	if err != nil {
		f.metrics.RecordAuthFlow("cli", metrics.ResultError)
		return TokenRecord{}, err
	}
	f.metrics.RecordAuthFlow("cli", metrics.ResultSuccess)
	return rec, nil
}

func (f *CLIFlow) run(ctx context.Context) (TokenRecord, error) {
	attempt, err := newAuthAttempt()
	if err != nil {
		return TokenRecord{}, err
	}

	fmt.Fprintf(f.out, "Open this URL in a browser and approve access:\n\n%s\n\n", f.exchanger.AuthCodeURL(attempt.state, attempt.verifier))
	fmt.Fprintln(f.out, "Your browser will be redirected to a page that may fail to load.")
	fmt.Fprintln(f.out, "Copy the full URL from the address bar and paste it below (empty line or q to abort).")

	lines := make(chan scannedLine)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f.in)
		scanner.Buffer(make([]byte, 0, 4096), 64*1024)
		for scanner.Scan() {
			select {
			case lines <- scannedLine{text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case lines <- scannedLine{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	for {
		fmt.Fprint(f.out, "> ")

		var line scannedLine
		var ok bool
		select {
		case <-ctx.Done():
			return TokenRecord{}, contextFailure(ctx.Err())
		case line, ok = <-lines:
		}

		if !ok {
			return TokenRecord{}, ErrAborted
		}
		if line.err != nil {
			return TokenRecord{}, fmt.Errorf("unable to read redirect URL: %w", line.err)
		}

		input := strings.TrimSpace(line.text)
		if input == "" || strings.EqualFold(input, "q") {
			return TokenRecord{}, ErrAborted
		}

		code, err := parseRedirect(input, attempt)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) && !authErr.NeedsReauthorization() {
				fmt.Fprintf(f.out, "That did not look right (%s). Paste the full redirected URL.\n", authErr.Detail)
				continue
			}
			return TokenRecord{}, err
		}

		rec, err := f.exchanger.Exchange(ctx, code, attempt.verifier)
		if err != nil {
			return TokenRecord{}, err
		}
		if err := f.store.Save(ctx, rec); err != nil {
			return TokenRecord{}, err
		}

		if !rec.Refreshable() {
			f.logger.Warn("provider issued no refresh token")
			fmt.Fprintln(f.out, "Warning: Google issued no refresh token. Access will stop when this token expires.")
			fmt.Fprintln(f.out, "Revoke the app at https://myaccount.google.com/permissions and authorize again to fix this.")
		}
		fmt.Fprintln(f.out, "Authorization complete.")
		return rec, nil
	}
}

// parseRedirect pulls the code out of a pasted redirect URL. The URL must
// carry the issued state.
func parseRedirect(input string, attempt authAttempt) (string, error) {
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", newAuthError(ReasonMalformedRedirect, "not a URL", nil)
	}

	query := u.Query()

	switch state := query.Get("state"); {
	case state == "":
		return "", newAuthError(ReasonStateMismatch, "URL has no state parameter", nil)
	case !attempt.matches(state):
		return "", newAuthError(ReasonStateMismatch, "state does not match this authorization", nil)
	}

	if denied := query.Get("error"); denied != "" {
		return "", newAuthError(ReasonConsentDenied, denied, nil)
	}

	code := query.Get("code")
	if code == "" {
		return "", newAuthError(ReasonMalformedRedirect, "URL has no code parameter", nil)
	}

	return code, nil
}
