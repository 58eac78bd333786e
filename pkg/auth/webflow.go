// ABOUTME: Browser authorization flow with a short-lived local callback listener
// ABOUTME: One attempt at a time; the listener is released on every terminal state

package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/harper/gchat-mcp/pkg/logging"
	"github.com/harper/gchat-mcp/pkg/metrics"
)

// DefaultFlowTimeout bounds how long a web attempt waits for the callback.
const DefaultFlowTimeout = 5 * time.Minute

// FlowState is the lifecycle position of an authorization attempt.
type FlowState int

const (
	StateIdle FlowState = iota
	StateAwaitingCallback
	StateExchanging
	StateComplete
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchanging:
		return "exchanging"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WebFlowOptions configures the callback listener.
type WebFlowOptions struct {
	Host string
	Port int
	// Timeout bounds the whole attempt (default: DefaultFlowTimeout).
	Timeout time.Duration
	// KeepOpenOnMismatch keeps waiting after a callback with the wrong state
	// instead of failing the attempt.
	KeepOpenOnMismatch bool
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
}

// WebFlow runs the authorization code flow through the user's browser.
type WebFlow struct {
	exchanger CodeExchanger
	store     Store
	opts      WebFlowOptions
	logger    *slog.Logger

	mu       sync.Mutex
	state    FlowState
	attempt  authAttempt
	listener net.Listener
	srv      *http.Server
	gen      int
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	released chan struct{}
	record   TokenRecord
	err      error
}

// NewWebFlow creates an idle web flow that saves the issued record to store.
func NewWebFlow(exchanger CodeExchanger, store Store, opts WebFlowOptions) *WebFlow {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFlowTimeout
	}
	return &WebFlow{
		exchanger: exchanger,
		store:     store,
		opts:      opts,
		logger:    logging.WithOperation(logging.OrDefault(opts.Logger), "web_auth"),
	}
}

// State returns the current lifecycle state.
func (f *WebFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Addr returns the listener address while an attempt is pending.
func (f *WebFlow) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// Start binds the callback listener and returns the consent URL. ctx bounds
// the whole attempt, including the code exchange.
func (f *WebFlow) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateAwaitingCallback || f.state == StateExchanging {
		return "", ErrFlowInProgress
	}

	attempt, err := newAuthAttempt()
	if err != nil {
		return "", err
	}

	addr := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to bind callback listener on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DefaultCallbackPath, f.handleCallback)

	f.gen++
	f.state = StateAwaitingCallback
	f.attempt = attempt
	f.listener = ln
	f.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	f.ctx, f.cancel = context.WithTimeout(ctx, f.opts.Timeout)
	f.done = make(chan struct{})
	f.released = make(chan struct{})
	f.record, f.err = TokenRecord{}, nil

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("callback listener stopped", logging.Err(err))
		}
	}(f.srv)
	go f.watch(f.ctx, f.gen)

	f.logger.Info("waiting for authorization callback", slog.String("addr", ln.Addr().String()))

	return f.exchanger.AuthCodeURL(attempt.state, attempt.verifier), nil
}

// Wait blocks until the attempt reaches a terminal state and the listener
// has been released. Cancelling ctx abandons the attempt.
func (f *WebFlow) Wait(ctx context.Context) (TokenRecord, error) {
	f.mu.Lock()
	done, released, gen := f.done, f.released, f.gen
	f.mu.Unlock()

	if done == nil {
		return TokenRecord{}, errors.New("no authorization attempt started")
	}

	select {
	case <-done:
	case <-ctx.Done():
		f.abort(gen, contextFailure(ctx.Err()))
		<-done
	}
	<-released

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record, f.err
}

func (f *WebFlow) watch(ctx context.Context, gen int) {
	<-ctx.Done()
	f.abort(gen, contextFailure(ctx.Err()))
}

// abort fails attempt gen if it is still pending. An exchange already under
// way is cancelled and finishes on its own.
func (f *WebFlow) abort(gen int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen {
		return
	}

	switch f.state {
	case StateAwaitingCallback:
		f.finishLocked(TokenRecord{}, err)
	case StateExchanging:
		f.cancel()
	}
}

func (f *WebFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()

	if f.state != StateAwaitingCallback {
		state := f.state
		f.mu.Unlock()
		f.logger.Warn("rejected callback with no pending attempt", slog.String("state", state.String()))
		writePage(w, http.StatusConflict, "No authorization pending", "This link has already been used or has expired. Start the authorization again.")
		return
	}

	query := r.URL.Query()

	if !f.attempt.matches(query.Get("state")) {
		if f.opts.KeepOpenOnMismatch {
			f.mu.Unlock()
			f.logger.Warn("ignored callback with mismatched state")
			writePage(w, http.StatusBadRequest, "Authorization rejected", "The request did not match the pending authorization.")
			return
		}
		f.finishLocked(TokenRecord{}, newAuthError(ReasonStateMismatch, "callback state does not match the issued value", nil))
		f.mu.Unlock()
		writePage(w, http.StatusBadRequest, "Authorization rejected", "The request did not match the pending authorization.")
		return
	}

	if denied := query.Get("error"); denied != "" {
		f.finishLocked(TokenRecord{}, newAuthError(ReasonConsentDenied, denied, nil))
		f.mu.Unlock()
		writePage(w, http.StatusOK, "Authorization denied", "Google reported: "+denied)
		return
	}

	code := query.Get("code")
	if code == "" {
		f.finishLocked(TokenRecord{}, newAuthError(ReasonMalformedRedirect, "callback carried no code", nil))
		f.mu.Unlock()
		writePage(w, http.StatusBadRequest, "Authorization failed", "The callback carried no authorization code.")
		return
	}

	// The nonce is single use.
	verifier := f.attempt.verifier
	f.attempt = authAttempt{}
	f.state = StateExchanging
	ctx := f.ctx
	f.mu.Unlock()

	rec, err := f.exchanger.Exchange(ctx, code, verifier)
	if err == nil {
		err = f.store.Save(ctx, rec)
	}

	f.mu.Lock()
	f.finishLocked(rec, err)
	f.mu.Unlock()

	if err != nil {
		writePage(w, http.StatusInternalServerError, "Authorization failed", "The authorization code could not be exchanged. Check the terminal for details.")
		return
	}
	if rec.RefreshToken == "" {
		writePage(w, http.StatusOK, "Authorization complete", "Authorized, but Google issued no refresh token. Revoke access and authorize again for long-lived access.")
		return
	}
	writePage(w, http.StatusOK, "Authorization complete", "You can close this window.")
}

// finishLocked moves the attempt to a terminal state and releases the
// listener in the background. f.mu must be held.
func (f *WebFlow) finishLocked(rec TokenRecord, err error) {
	if err != nil {
		f.state = StateFailed
		f.record, f.err = TokenRecord{}, err
		f.opts.Metrics.RecordAuthFlow("web", metrics.ResultError)
		f.logger.Warn("authorization failed", logging.Err(err))
	} else {
		f.state = StateComplete
		f.record, f.err = rec, nil
		f.opts.Metrics.RecordAuthFlow("web", metrics.ResultSuccess)
		f.logger.Info("authorization complete", slog.Bool("refresh_token", rec.Refreshable()))
	}
	f.attempt = authAttempt{}
	f.cancel()
	close(f.done)

	srv, released := f.srv, f.released
	f.srv, f.listener = nil, nil
	go func() {
		defer close(released)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}()
}

func contextFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("authorization callback: %w", ErrTimeout)
	}
	return fmt.Errorf("%w: %v", ErrAborted, err)
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p></body></html>
`))

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, struct{ Title, Message string }{title, message})
}
