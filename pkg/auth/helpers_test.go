// ABOUTME: In-memory store and scripted provider used across auth tests
// ABOUTME: Counts provider calls so tests can assert on network use

package auth

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	rec     *TokenRecord
	saves   int
	loadErr error
	saveErr error
}

func newMemStore(rec *TokenRecord) *memStore {
	return &memStore{rec: rec}
}

func (s *memStore) Load(_ context.Context) (TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return TokenRecord{}, s.loadErr
	}
	if s.rec == nil {
		return TokenRecord{}, ErrNotFound
	}
	return *s.rec, nil
}

func (s *memStore) Save(_ context.Context, rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.rec = &rec
	return nil
}

func (s *memStore) put(rec TokenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
}

func (s *memStore) stored() (TokenRecord, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return TokenRecord{}, s.saves
	}
	return *s.rec, s.saves
}

// fakeProvider scripts both refresh and code exchanges.
type fakeProvider struct {
	refreshCalls  atomic.Int32
	exchangeCalls atomic.Int32

	refresh  func(ctx context.Context, rec TokenRecord) (TokenRecord, error)
	exchange func(ctx context.Context, code, verifier string) (TokenRecord, error)

	mu           sync.Mutex
	lastState    string
	lastCode     string
	lastVerifier string
}

func (p *fakeProvider) AuthCodeURL(state, verifier string) string {
	p.mu.Lock()
	p.lastState = state
	p.mu.Unlock()

	v := url.Values{}
	v.Set("state", state)
	v.Set("code_challenge", verifier)
	return "https://accounts.example.com/o/oauth2/auth?" + v.Encode()
}

func (p *fakeProvider) Exchange(ctx context.Context, code, verifier string) (TokenRecord, error) {
	p.exchangeCalls.Add(1)
	p.mu.Lock()
	p.lastCode, p.lastVerifier = code, verifier
	p.mu.Unlock()
	if p.exchange != nil {
		return p.exchange(ctx, code, verifier)
	}
	return TokenRecord{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       DefaultScopes,
	}, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, rec TokenRecord) (TokenRecord, error) {
	p.refreshCalls.Add(1)
	return p.refresh(ctx, rec)
}

func (p *fakeProvider) code() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCode, p.lastVerifier
}

// issuedState returns the state of the last consent URL.
func (p *fakeProvider) issuedState() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastState
}

// stateFrom extracts the state parameter from a consent URL.
func stateFrom(consentURL string) string {
	u, err := url.Parse(consentURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}
