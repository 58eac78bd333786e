// ABOUTME: OAuth 2.0 provider client for Google APIs
// ABOUTME: Loads client credentials, builds consent URLs, exchanges codes and refresh tokens

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultCallbackPath is where the provider redirects after consent.
const DefaultCallbackPath = "/auth/callback"

// CodeExchanger is the provider side of an authorization flow.
type CodeExchanger interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (TokenRecord, error)
}

// RefreshExchanger mints a new access token from a refresh token.
type RefreshExchanger interface {
	Refresh(ctx context.Context, rec TokenRecord) (TokenRecord, error)
}

// LoadConfig reads OAuth client credentials downloaded from Google Cloud Console.
// redirectURL replaces whatever redirect the file lists.
func LoadConfig(credentialsPath, redirectURL string, scopes ...string) (*oauth2.Config, error) {
	if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("credentials.json not found at %s. Download from Google Cloud Console", credentialsPath)
	}

	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	config, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	if redirectURL != "" {
		config.RedirectURL = redirectURL
	}

	return config, nil
}

// CallbackURL builds the local redirect URL for host and port.
func CallbackURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d%s", host, port, DefaultCallbackPath)
}

// ClientOptions tunes the provider client.
type ClientOptions struct {
	// HTTPClient is used for token endpoint calls. Nil means http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds each token endpoint call when the caller's context has no deadline.
	Timeout time.Duration
}

// Client talks to the provider's authorization and token endpoints.
type Client struct {
	config     *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient wraps an oauth2 config.
func NewClient(config *oauth2.Config, opts ClientOptions) *Client {
	return &Client{
		config:     config,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
	}
}

// RedirectURL returns the configured redirect URL.
func (c *Client) RedirectURL() string {
	return c.config.RedirectURL
}

// AuthCodeURL returns the consent URL. It asks for offline access and forces
// the consent prompt so Google issues a refresh token every time.
func (c *Client) AuthCodeURL(state, verifier string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return c.config.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a Token Record.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (TokenRecord, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := c.config.Exchange(ctx, code, opts...)
	if err != nil {
		return TokenRecord{}, classifyProviderError(ctx, err, ReasonExchangeFailed, ReasonExchangeFailed)
	}

	return recordFromOAuth2(tok, c.config.Scopes), nil
}

// Refresh performs one refresh exchange. A rejected refresh token yields
// AuthError(ExpiredRefreshToken); nothing is retried.
func (c *Client) Refresh(ctx context.Context, rec TokenRecord) (TokenRecord, error) {
	if !rec.Refreshable() {
		return TokenRecord{}, newAuthError(ReasonMissingRefreshToken, "stored token has no refresh token", nil)
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	// Force the exchange even if the access token still looks valid.
	stale := rec.OAuth2()
	stale.AccessToken = ""
	stale.Expiry = time.Unix(1, 0)

	tok, err := c.config.TokenSource(ctx, stale).Token()
	if err != nil {
		return TokenRecord{}, classifyProviderError(ctx, err, ReasonExpiredRefreshToken, ReasonRefreshFailed)
	}

	fresh := recordFromOAuth2(tok, rec.Scopes)
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = rec.RefreshToken
	}
	return fresh, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// classifyProviderError maps token endpoint failures. invalid_grant means the
// grant (code or refresh token) is dead; rejected is the reason used for it.
func classifyProviderError(ctx context.Context, err error, rejected, other Reason) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("token endpoint: %w", ErrTimeout)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return newAuthError(rejected, retrieveErr.ErrorDescription, err)
		}
		return newAuthError(other, "", err)
	}

	return newAuthError(other, "", err)
}
