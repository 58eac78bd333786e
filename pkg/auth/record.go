// ABOUTME: Token Record, the persisted credential state
// ABOUTME: Usability and scope checks plus conversion to and from oauth2.Token

package auth

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/chat/v1"
)

// DefaultSkew is how long before expiry an access token stops being used.
const DefaultSkew = 60 * time.Second

// DefaultScopes cover listing spaces and reading their messages.
var DefaultScopes = []string{
	chat.ChatSpacesReadonlyScope,
	chat.ChatMessagesScope,
}

// TokenRecord is the persisted credential. The JSON shape is stable across
// refreshes so external tooling can inspect the file.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes"`
}

// Usable reports whether the access token can be sent as-is at now.
// A zero expiry never expires.
func (r TokenRecord) Usable(now time.Time, skew time.Duration) bool {
	if r.AccessToken == "" {
		return false
	}
	if r.Expiry.IsZero() {
		return true
	}
	return now.Add(skew).Before(r.Expiry)
}

// Refreshable reports whether a refresh exchange is possible.
func (r TokenRecord) Refreshable() bool {
	return r.RefreshToken != ""
}

// HasScopes reports whether the record grants every required scope.
// A record without recorded scopes is treated as unknown and passes.
func (r TokenRecord) HasScopes(required ...string) bool {
	if len(r.Scopes) == 0 {
		return true
	}
	for _, s := range required {
		if !slices.Contains(r.Scopes, s) {
			return false
		}
	}
	return true
}

// MissingScopes lists required scopes not present in the record.
func (r TokenRecord) MissingScopes(required ...string) []string {
	if len(r.Scopes) == 0 {
		return nil
	}
	var missing []string
	for _, s := range required {
		if !slices.Contains(r.Scopes, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// OAuth2 converts the record into a bearer oauth2.Token.
func (r TokenRecord) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: r.RefreshToken,
		Expiry:       r.Expiry,
	}
}

// recordFromOAuth2 builds a record from a provider token. The provider reports
// granted scopes in the "scope" extra as a space separated list; when it does
// not, fallback scopes are kept.
func recordFromOAuth2(tok *oauth2.Token, fallback []string) TokenRecord {
	rec := TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	if raw, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
		rec.Scopes = strings.Fields(raw)
	} else if len(fallback) > 0 {
		rec.Scopes = slices.Clone(fallback)
	}

	return rec
}
