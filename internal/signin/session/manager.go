// Package session keeps the signed-in user and provider tokens in a signed,
// encrypted cookie.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"
)

const (
	DefaultCookieName  = "signin_session"
	defaultCookiePath  = "/"
	defaultLifetime    = 12 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
	csrfTokenBytes     = 32
)

// ErrExpired is returned by Load together with a fresh session when the
// stored one passed its idle or absolute expiry.
var ErrExpired = errors.New("session: expired")

// ErrInvalidConfig reports missing or malformed manager options.
var ErrInvalidConfig = errors.New("session: invalid config")

// User is the signed-in account as shown on screens.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Data is the cookie payload.
type Data struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActive   time.Time `json:"lastActive"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	User         *User     `json:"user,omitempty"`
	IDToken      string    `json:"idToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	CSRFToken    string    `json:"csrfToken,omitempty"`
}

// Config controls the cookie and lifetimes.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookiePath   string
	CookieDomain string
	CookieSecure bool
	IdleTimeout  time.Duration
	Lifetime     time.Duration
	Now          func() time.Time
}

// Manager loads and saves sessions.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
}

// NewManager validates cfg and applies defaults.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var block []byte
	if len(cfg.BlockKey) > 0 {
		block = cfg.BlockKey
	}
	codec := securecookie.New(cfg.HashKey, block)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime.Seconds()))

	return &Manager{cfg: cfg, codec: codec}, nil
}

// CookieName returns the configured cookie name.
func (m *Manager) CookieName() string {
	return m.cfg.CookieName
}

// Load decodes the request cookie. Missing or undecodable cookies yield a new
// session. Expired sessions are replaced and ErrExpired is returned alongside.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.New(), nil
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil || stored.ID == "" {
		return m.New(), nil
	}
	if m.expired(stored) {
		return m.New(), ErrExpired
	}
	return &Session{data: stored}, nil
}

// New returns an empty session.
func (m *Manager) New() *Session {
	now := m.cfg.Now().UTC()
	return &Session{
		data: Data{
			ID:         ulid.Make().String(),
			CreatedAt:  now,
			LastActive: now,
			ExpiresAt:  now.Add(m.cfg.Lifetime),
		},
	}
}

// Save writes sess as a cookie, or clears the cookie if sess was destroyed.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	if sess.destroyed {
		m.Clear(w)
		return nil
	}

	now := m.cfg.Now().UTC()
	sess.data.LastActive = now
	encoded, err := m.codec.Encode(m.cfg.CookieName, sess.data)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	cookie := m.cookie(encoded)
	if remaining := sess.data.ExpiresAt.Sub(now); remaining > 0 {
		cookie.Expires = sess.data.ExpiresAt
		cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
	} else {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
	return nil
}

// Clear expires the cookie in the browser.
func (m *Manager) Clear(w http.ResponseWriter) {
	cookie := m.cookie("")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

func (m *Manager) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) expired(d Data) bool {
	now := m.cfg.Now().UTC()
	if !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt) {
		return true
	}
	last := d.LastActive
	if last.IsZero() {
		last = d.CreatedAt
	}
	return !last.IsZero() && now.Sub(last) > m.cfg.IdleTimeout
}

// Session is the per-request view of the cookie payload.
type Session struct {
	data      Data
	destroyed bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.data.ID }

// User returns the signed-in user, or nil.
func (s *Session) User() *User {
	if s.data.User == nil {
		return nil
	}
	u := *s.data.User
	return &u
}

// IDToken returns the provider ID token of the signed-in user.
func (s *Session) IDToken() string { return s.data.IDToken }

// RefreshToken returns the provider refresh token.
func (s *Session) RefreshToken() string { return s.data.RefreshToken }

// SignIn stores the authenticated user and tokens. The CSRF token is rotated
// so a token captured before sign-in cannot be replayed.
func (s *Session) SignIn(user User, idToken, refreshToken string) error {
	s.data.User = &user
	s.data.IDToken = idToken
	s.data.RefreshToken = refreshToken
	return s.RotateCSRFToken()
}

// UpdateTokens replaces the provider tokens of a signed-in session after a
// refresh. The user and CSRF token are kept.
func (s *Session) UpdateTokens(idToken, refreshToken string) {
	s.data.IDToken = idToken
	if refreshToken != "" {
		s.data.RefreshToken = refreshToken
	}
}

// SignedIn reports whether a user and ID token are present.
func (s *Session) SignedIn() bool {
	return s.data.User != nil && s.data.IDToken != ""
}

// EnsureCSRFToken returns the CSRF token, generating one when absent.
func (s *Session) EnsureCSRFToken() (string, error) {
	if s.data.CSRFToken != "" {
		return s.data.CSRFToken, nil
	}
	if err := s.RotateCSRFToken(); err != nil {
		return "", err
	}
	return s.data.CSRFToken, nil
}

// RotateCSRFToken replaces the CSRF token.
func (s *Session) RotateCSRFToken() error {
	raw := securecookie.GenerateRandomKey(csrfTokenBytes)
	if raw == nil {
		return errors.New("session: generate csrf token")
	}
	s.data.CSRFToken = base64.RawURLEncoding.EncodeToString(raw)
	return nil
}

// CSRFToken returns the current CSRF token.
func (s *Session) CSRFToken() string { return s.data.CSRFToken }

// Destroy marks the session for removal when saved.
func (s *Session) Destroy() {
	s.destroyed = true
}
