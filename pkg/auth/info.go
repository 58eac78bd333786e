// ABOUTME: Read-only summary of the stored Token Record
// ABOUTME: Used by the status command without contacting the provider

package auth

import (
	"context"
	"errors"
	"time"
)

// TokenInfo contains metadata about the stored token
type TokenInfo struct {
	Path          string        `json:"path"`
	Present       bool          `json:"present"`
	Valid         bool          `json:"valid"`
	AccessToken   string        `json:"access_token"` // Masked for security
	Expiry        time.Time     `json:"expiry"`
	ExpiresIn     time.Duration `json:"expires_in"`
	HasRefresh    bool          `json:"has_refresh"`
	Scopes        []string      `json:"scopes"`
	MissingScopes []string      `json:"missing_scopes,omitempty"`
}

// Inspect summarizes the record in store. A missing file is not an error.
func Inspect(ctx context.Context, store *FileStore, now time.Time, required ...string) (*TokenInfo, error) {
	info := &TokenInfo{Path: store.Path}

	rec, err := store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	info.Present = true
	info.Valid = rec.Usable(now, DefaultSkew)
	info.AccessToken = maskToken(rec.AccessToken)
	info.Expiry = rec.Expiry
	info.HasRefresh = rec.Refreshable()
	info.Scopes = rec.Scopes
	info.MissingScopes = rec.MissingScopes(required...)
	if !rec.Expiry.IsZero() {
		info.ExpiresIn = rec.Expiry.Sub(now)
	}

	return info, nil
}

// maskToken returns a masked version of the token for safe display.
// Shows first 4 and last 4 characters, e.g., "ya29...7890"
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
