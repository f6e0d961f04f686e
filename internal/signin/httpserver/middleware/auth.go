package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/hanko-signin/internal/signin/identity"
	"finitefield.org/hanko-signin/internal/signin/observability"
	appsession "finitefield.org/hanko-signin/internal/signin/session"
)

type authContextKey string

const userContextKey authContextKey = "auth.user"

// User is the verified account behind the request.
type User struct {
	UID         string
	Email       string
	DisplayName string
	Token       string
}

// Authenticator resolves an ID token into a User.
type Authenticator interface {
	Authenticate(r *http.Request, token string) (*User, error)
}

// ErrUnauthorized is returned when authentication fails.
var ErrUnauthorized = errors.New("unauthorized")

// AuthError carries the reason an authentication attempt failed.
type AuthError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError constructs an AuthError.
func NewAuthError(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

const (
	ReasonMissingToken = "missing_token"
	ReasonTokenInvalid = "token_invalid"
	ReasonTokenExpired = "token_expired"
)

type authOptions struct {
	refresher identity.TokenRefresher
}

// AuthOption customises Auth.
type AuthOption func(*authOptions)

// WithTokenRefresher lets Auth exchange the session's refresh token when the
// stored ID token has expired, keeping the user signed in.
func WithTokenRefresher(refresher identity.TokenRefresher) AuthOption {
	return func(o *authOptions) {
		o.refresher = refresher
	}
}

// Auth verifies the ID token stored in the session (or a Bearer header) and
// attaches the User to the context. Unauthenticated requests go to loginPath.
func Auth(authenticator Authenticator, loginPath string, opts ...AuthOption) func(http.Handler) http.Handler {
	if authenticator == nil {
		panic("middleware: authenticator is required")
	}
	if loginPath == "" {
		loginPath = "/login"
	}
	var o authOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.FromContext(r.Context())

			sess, hasSession := SessionFromContext(r.Context())
			token := parseBearerToken(r.Header.Get("Authorization"))
			fromSession := false
			if token == "" && hasSession {
				token = sess.IDToken()
				fromSession = true
			}
			if strings.TrimSpace(token) == "" {
				logger.Debug("auth failure", zap.String("reason", ReasonMissingToken))
				handleUnauthorized(w, r, loginPath, ReasonMissingToken)
				return
			}

			user, err := authenticator.Authenticate(r, token)
			if fromSession && o.refresher != nil && failureReason(err) == ReasonTokenExpired {
				user, err = refreshSession(r, sess, authenticator, o.refresher)
				if err == nil {
					logger.Debug("session tokens refreshed")
				}
			}
			if err != nil || user == nil {
				reason := failureReason(err)
				if err == nil {
					err = ErrUnauthorized
				}
				logger.Info("auth failure", zap.String("reason", reason), zap.Error(err))
				if hasSession {
					sess.Destroy()
				}
				handleUnauthorized(w, r, loginPath, reason)
				return
			}

			if user.DisplayName == "" && hasSession && sess.User() != nil {
				user.DisplayName = sess.User().DisplayName
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// refreshSession exchanges the session's refresh token, stores the new
// tokens and authenticates the new ID token. A failed exchange reports the
// token as expired so the user is sent back to login with that notice.
func refreshSession(r *http.Request, sess *appsession.Session, authenticator Authenticator, refresher identity.TokenRefresher) (*User, error) {
	if sess.RefreshToken() == "" {
		return nil, NewAuthError(ReasonTokenExpired, identity.ErrTokenExpired)
	}
	fresh, err := refresher.Refresh(r.Context(), sess.RefreshToken())
	if err != nil {
		return nil, NewAuthError(ReasonTokenExpired, err)
	}
	user, err := authenticator.Authenticate(r, fresh.IDToken)
	if err != nil {
		return nil, err
	}
	sess.UpdateTokens(fresh.IDToken, fresh.RefreshToken)
	return user, nil
}

func failureReason(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Reason != "" {
		return authErr.Reason
	}
	return ReasonTokenInvalid
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok && user != nil
}

func parseBearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func handleUnauthorized(w http.ResponseWriter, r *http.Request, loginPath, reason string) {
	target := loginPath
	if reason == ReasonTokenExpired {
		if u, err := url.Parse(loginPath); err == nil {
			q := u.Query()
			q.Set("status", "expired")
			u.RawQuery = q.Encode()
			target = u.String()
		}
	}

	if IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
