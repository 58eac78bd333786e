// ABOUTME: Token Refresher guarding check-expiry, refresh and persist in one critical section
// ABOUTME: Concurrent callers on an expired token share a single refresh exchange

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harper/gchat-mcp/pkg/logging"
	"github.com/harper/gchat-mcp/pkg/metrics"
)

// RefresherOptions tunes a Refresher.
type RefresherOptions struct {
	// Skew is the safety margin before expiry (default: DefaultSkew).
	Skew time.Duration
	// Now overrides the clock in tests.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Refresher owns the in-memory view of the Token Record for one token path.
type Refresher struct {
	store     Store
	exchanger RefreshExchanger
	skew      time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// sem is a one-slot semaphore guarding current and rejected. Waiting
	// for it ends with the caller's context.
	sem      chan struct{}
	current  *TokenRecord
	// rejected is the last refresh token the provider refused.
	rejected string
}

// NewRefresher creates a refresher persisting through store.
func NewRefresher(store Store, exchanger RefreshExchanger, opts RefresherOptions) *Refresher {
	if opts.Skew <= 0 {
		opts.Skew = DefaultSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Refresher{
		store:     store,
		exchanger: exchanger,
		skew:      opts.Skew,
		now:       opts.Now,
		logger:    logging.WithOperation(logging.OrDefault(opts.Logger), "token_refresh"),
		metrics:   opts.Metrics,
		sem:       make(chan struct{}, 1),
	}
}

// lock waits for the critical section or for ctx to end.
func (r *Refresher) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return waitFailure(err)
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return waitFailure(ctx.Err())
	}
}

func (r *Refresher) unlock() {
	<-r.sem
}

func waitFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("waiting for token refresh: %w", ErrTimeout)
	}
	return fmt.Errorf("waiting for token refresh: %w", err)
}

// EnsureValid returns rec unchanged when its access token is still usable.
// Otherwise it refreshes, persists, and returns the new record. Callers that
// queued behind an in-flight refresh get that refresh's result.
func (r *Refresher) EnsureValid(ctx context.Context, rec TokenRecord) (TokenRecord, error) {
	if rec.Usable(r.now(), r.skew) {
		return rec, nil
	}

	if err := r.lock(ctx); err != nil {
		return TokenRecord{}, err
	}
	defer r.unlock()

	if r.current != nil && r.current.Usable(r.now(), r.skew) {
		return *r.current, nil
	}

	return r.refreshLocked(ctx, rec)
}

// Token returns a usable record, reading the store when the in-memory one is stale.
func (r *Refresher) Token(ctx context.Context) (TokenRecord, error) {
	rec, err := r.snapshot(ctx)
	if err != nil {
		return TokenRecord{}, err
	}
	return r.EnsureValid(ctx, rec)
}

// Refresh forces a refresh exchange even if the access token is still usable.
func (r *Refresher) Refresh(ctx context.Context) (TokenRecord, error) {
	rec, err := r.snapshot(ctx)
	if err != nil {
		return TokenRecord{}, err
	}

	if err := r.lock(ctx); err != nil {
		return TokenRecord{}, err
	}
	defer r.unlock()

	if r.current != nil {
		rec = *r.current
	}
	return r.refreshLocked(ctx, rec)
}

// snapshot returns the in-memory record while it is usable. Otherwise it
// re-reads the store, which picks up a credential written by a separate
// auth command run.
func (r *Refresher) snapshot(ctx context.Context) (TokenRecord, error) {
	if err := r.lock(ctx); err != nil {
		return TokenRecord{}, err
	}
	defer r.unlock()

	if r.current != nil && r.current.Usable(r.now(), r.skew) {
		return *r.current, nil
	}

	rec, err := r.store.Load(ctx)
	switch {
	case err == nil:
		r.current = &rec
		return rec, nil
	case r.current != nil:
		r.logger.Warn("re-reading token file failed, keeping in-memory token", logging.Err(err))
		return *r.current, nil
	case errors.Is(err, ErrNotFound):
		return TokenRecord{}, newAuthError(ReasonNotAuthenticated, "no stored credential, run the auth command", err)
	default:
		return TokenRecord{}, err
	}
}

func (r *Refresher) refreshLocked(ctx context.Context, rec TokenRecord) (TokenRecord, error) {
	if !rec.Refreshable() {
		if rec.AccessToken == "" {
			return TokenRecord{}, newAuthError(ReasonNotAuthenticated, "stored credential has no tokens", nil)
		}
		return TokenRecord{}, newAuthError(ReasonMissingRefreshToken, "access token expired and no refresh token is stored", nil)
	}

	if rec.RefreshToken == r.rejected {
		return TokenRecord{}, newAuthError(ReasonExpiredRefreshToken, "refresh token was already rejected, re-authorize", nil)
	}

	start := r.now()
	fresh, err := r.exchanger.Refresh(ctx, rec)
	if err != nil {
		result := metrics.ResultError
		if IsReason(err, ReasonExpiredRefreshToken) {
			result = metrics.ResultRejected
			r.rejected = rec.RefreshToken
		}
		r.metrics.RecordTokenRefresh(result)
		r.logger.Warn("token refresh failed", logging.Status(result), logging.Err(err))
		return TokenRecord{}, err
	}
	r.metrics.RecordTokenRefresh(metrics.ResultSuccess)

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = rec.RefreshToken
	}
	if len(fresh.Scopes) == 0 {
		fresh.Scopes = rec.Scopes
	}

	// Keep the refreshed token in memory even if persisting fails, so the
	// next call does not burn another refresh.
	r.current = &fresh

	if err := r.store.Save(ctx, fresh); err != nil {
		r.logger.Error("persisting refreshed token failed", logging.Err(err))
		return TokenRecord{}, fmt.Errorf("persist refreshed token: %w", err)
	}

	r.logger.Debug("token refreshed",
		slog.String("access_token", logging.SanitizeToken(fresh.AccessToken)),
		slog.Time("expiry", fresh.Expiry),
		logging.Duration(r.now().Sub(start)),
	)
	return fresh, nil
}
