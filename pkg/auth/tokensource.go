// ABOUTME: Adapter from a Token Record provider to oauth2.TokenSource
// ABOUTME: Transport pulls tokens through the Refresher with each request's context

package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenProvider returns a usable Token Record.
type TokenProvider interface {
	Token(ctx context.Context) (TokenRecord, error)
}

// TokenSource adapts a TokenProvider to oauth2.TokenSource.
type TokenSource struct {
	ctx      context.Context
	provider TokenProvider
}

// NewTokenSource binds provider to ctx. The returned source can be passed to
// oauth2.NewClient when creating Google API services.
func NewTokenSource(ctx context.Context, provider TokenProvider) *TokenSource {
	return &TokenSource{ctx: ctx, provider: provider}
}

// Token implements oauth2.TokenSource.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	rec, err := s.provider.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return rec.OAuth2(), nil
}

// Transport attaches a bearer token to each request. The token is fetched
// with the request's context, so a refresh it triggers is bounded by the
// caller's deadline.
type Transport struct {
	Provider TokenProvider
	// Base defaults to http.DefaultTransport.
	Base     http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt := &oauth2.Transport{
		Source: NewTokenSource(req.Context(), t.Provider),
		Base:   t.Base,
	}
	return rt.RoundTrip(req)
}
