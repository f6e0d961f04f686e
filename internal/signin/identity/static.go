package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	staticIssuer        = "hanko-signin/static"
	staticTokenLifetime = time.Hour
	minPasswordLength   = 6
	passwordSignInKind  = "password"
)

type staticAccount struct {
	uid          string
	email        string
	displayName  string
	passwordHash []byte
	createdAt    time.Time
}

// StaticProvider is an in-memory identity provider for local development and
// tests. It plays the provider role, so it stores bcrypt hashes and issues
// short-lived HS256 ID tokens.
type StaticProvider struct {
	mu       sync.RWMutex
	accounts map[string]*staticAccount
	byUID    map[string]*staticAccount
	refresh  map[string]string
	key      []byte
	now      func() time.Time
	cost     int
}

// StaticOption customises a StaticProvider.
type StaticOption func(*StaticProvider)

// WithStaticClock overrides the clock used for token timestamps.
func WithStaticClock(now func() time.Time) StaticOption {
	return func(p *StaticProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithStaticSigningKey sets the HS256 key used for issued tokens.
func WithStaticSigningKey(key []byte) StaticOption {
	return func(p *StaticProvider) {
		if len(key) > 0 {
			p.key = append([]byte(nil), key...)
		}
	}
}

// WithBcryptCost sets the bcrypt cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) StaticOption {
	return func(p *StaticProvider) {
		p.cost = cost
	}
}

// NewStaticProvider constructs an empty in-memory provider.
func NewStaticProvider(opts ...StaticOption) (*StaticProvider, error) {
	p := &StaticProvider{
		accounts: make(map[string]*staticAccount),
		byUID:    make(map[string]*staticAccount),
		refresh:  make(map[string]string),
		now:      time.Now,
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if len(p.key) == 0 {
		p.key = make([]byte, 32)
		if _, err := rand.Read(p.key); err != nil {
			return nil, fmt.Errorf("identity: generate signing key: %w", err)
		}
	}
	return p, nil
}

// SignInMethods implements Provider.
func (p *StaticProvider) SignInMethods(_ context.Context, email string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.accounts[normaliseEmail(email)]; !ok {
		return []string{}, nil
	}
	return []string{passwordSignInKind}, nil
}

// SignIn implements Provider.
func (p *StaticProvider) SignIn(_ context.Context, email, password string) (*Session, error) {
	p.mu.RLock()
	acct, ok := p.accounts[normaliseEmail(email)]
	p.mu.RUnlock()
	if !ok {
		return nil, NewError(KindAccountNotFound, "There is no user record corresponding to this identifier.", nil)
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, NewError(KindInvalidCredentials, "The password is invalid.", err)
		}
		return nil, unexpected("sign in", err)
	}
	return p.issue(acct, "")
}

// CreateAccount implements Provider.
func (p *StaticProvider) CreateAccount(_ context.Context, email, password string) (*Session, error) {
	if len(password) < minPasswordLength {
		return nil, NewError(KindWeakPassword, "Password should be at least 6 characters.", nil)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, unexpected("create account", err)
	}

	key := normaliseEmail(email)
	p.mu.Lock()
	if _, exists := p.accounts[key]; exists {
		p.mu.Unlock()
		return nil, NewError(KindEmailExists, "The email address is already in use by another account.", nil)
	}
	acct := &staticAccount{
		uid:          ulid.Make().String(),
		email:        key,
		passwordHash: hash,
		createdAt:    p.now().UTC(),
	}
	p.accounts[key] = acct
	p.byUID[acct.uid] = acct
	p.mu.Unlock()

	return p.issue(acct, "")
}

// UpdateDisplayName implements Provider.
func (p *StaticProvider) UpdateDisplayName(ctx context.Context, sess *Session, name string) (*Session, error) {
	if sess == nil {
		return nil, NewError(KindUnexpected, "no signed-in account to update", nil)
	}
	token, err := p.VerifyIDToken(ctx, sess.IDToken)
	if err != nil {
		return nil, unexpected("update display name", err)
	}

	p.mu.Lock()
	acct, ok := p.byUID[token.UID]
	if ok {
		acct.displayName = name
	}
	p.mu.Unlock()
	if !ok {
		return nil, NewError(KindAccountNotFound, "There is no user record corresponding to this identifier.", nil)
	}

	return p.issue(acct, sess.RefreshToken)
}

// Refresh implements TokenRefresher. Refresh tokens are single use; the
// returned Session carries its replacement.
func (p *StaticProvider) Refresh(_ context.Context, refreshToken string) (*Session, error) {
	p.mu.Lock()
	uid, ok := p.refresh[refreshToken]
	if ok {
		delete(p.refresh, refreshToken)
	}
	acct := p.byUID[uid]
	p.mu.Unlock()
	if !ok || refreshToken == "" {
		return nil, NewError(KindInvalidCredentials, "The refresh token is invalid or expired.", nil)
	}
	if acct == nil {
		return nil, NewError(KindAccountNotFound, "There is no user record corresponding to this identifier.", nil)
	}
	return p.issue(acct, "")
}

// VerifyIDToken implements TokenVerifier for tokens minted by this provider.
func (p *StaticProvider) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	claims := jwt.MapClaims{}
	parser := jwt.Parser{SkipClaimsValidation: true}
	_, err := parser.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("identity: verify token: %w", err)
	}
	if claims["iss"] != staticIssuer {
		return nil, errors.New("identity: verify token: unexpected issuer")
	}
	uid, _ := claims["sub"].(string)
	if uid == "" {
		return nil, errors.New("identity: verify token: missing subject")
	}
	// Claims are checked against the provider clock, not jwt.TimeFunc.
	exp := int64FromClaim(claims["exp"])
	if exp == 0 || p.now().Unix() > exp {
		return nil, ErrTokenExpired
	}

	return &firebaseauth.Token{
		Issuer:   staticIssuer,
		Subject:  uid,
		UID:      uid,
		IssuedAt: int64FromClaim(claims["iat"]),
		Expires:  exp,
		Claims:   map[string]interface{}(claims),
	}, nil
}

// issue mints an ID token for acct. An empty refreshToken gets a new one.
func (p *StaticProvider) issue(acct *staticAccount, refreshToken string) (*Session, error) {
	p.mu.RLock()
	uid, email, name := acct.uid, acct.email, acct.displayName
	p.mu.RUnlock()

	now := p.now().UTC()
	claims := jwt.MapClaims{
		"iss":   staticIssuer,
		"sub":   uid,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(staticTokenLifetime).Unix(),
	}
	if name != "" {
		claims["name"] = name
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return nil, unexpected("issue token", err)
	}
	if refreshToken == "" {
		refreshToken = ulid.Make().String()
		p.mu.Lock()
		p.refresh[refreshToken] = uid
		p.mu.Unlock()
	}
	return &Session{
		UID:          uid,
		Email:        email,
		DisplayName:  name,
		IDToken:      signed,
		RefreshToken: refreshToken,
	}, nil
}

func int64FromClaim(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
