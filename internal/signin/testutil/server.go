package testutil

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"finitefield.org/hanko-signin/internal/signin/forms"
	"finitefield.org/hanko-signin/internal/signin/httpserver"
	"finitefield.org/hanko-signin/internal/signin/httpserver/middleware"
	"finitefield.org/hanko-signin/internal/signin/identity"
	"finitefield.org/hanko-signin/internal/signin/session"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithProvider overrides the identity provider used by the screens.
func WithProvider(provider identity.Provider) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Provider = provider
	}
}

// WithStaticProvider binds the screens, the home route authenticator and the
// token refresher to one in-memory provider.
func WithStaticProvider(provider *identity.StaticProvider) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Provider = provider
		cfg.Authenticator = middleware.NewTokenAuthenticator(provider)
		cfg.Refresher = provider
	}
}

// WithAuthenticator overrides the authenticator guarding the home route.
func WithAuthenticator(auth middleware.Authenticator) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Authenticator = auth
	}
}

// WithRefresher overrides the exchanger for expired session tokens.
func WithRefresher(refresher identity.TokenRefresher) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Refresher = refresher
	}
}

// WithGuard overrides the submission guard.
func WithGuard(guard forms.Guard) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Guard = guard
	}
}

// NewStaticProvider returns an in-memory provider with a cheap bcrypt cost.
func NewStaticProvider(t testing.TB, opts ...identity.StaticOption) *identity.StaticProvider {
	t.Helper()

	opts = append([]identity.StaticOption{identity.WithBcryptCost(bcrypt.MinCost)}, opts...)
	provider, err := identity.NewStaticProvider(opts...)
	if err != nil {
		t.Fatalf("static provider: %v", err)
	}
	return provider
}

// NewServer constructs an httptest server running the sign-in HTTP stack
// backed by the in-memory provider unless overridden.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	sessions, err := session.NewManager(session.Config{
		HashKey:  []byte("0123456789abcdef0123456789abcdef"),
		BlockKey: []byte("fedcba9876543210"),
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	static := NewStaticProvider(t)
	cfg := httpserver.Config{
		Address:       ":0",
		Logger:        zap.NewNop(),
		Provider:      static,
		Authenticator: middleware.NewTokenAuthenticator(static),
		Refresher:     static,
		Sessions:      sessions,
		Guard:         forms.NewMemoryGuard(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	srv := httpserver.New(cfg)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

// NewClient returns a client with a cookie jar that does not follow redirects.
func NewClient(t testing.TB) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
