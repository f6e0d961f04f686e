package middleware

import (
	"errors"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	"finitefield.org/hanko-signin/internal/signin/identity"
)

// TokenAuthenticator validates provider ID tokens and maps their claims onto a User.
type TokenAuthenticator struct {
	verifier identity.TokenVerifier
}

// NewTokenAuthenticator wraps verifier.
func NewTokenAuthenticator(verifier identity.TokenVerifier) *TokenAuthenticator {
	if verifier == nil {
		panic("middleware: token verifier is required")
	}
	return &TokenAuthenticator{verifier: verifier}
}

// Authenticate implements Authenticator.
func (a *TokenAuthenticator) Authenticate(r *http.Request, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, NewAuthError(ReasonMissingToken, ErrUnauthorized)
	}

	verified, err := a.verifier.VerifyIDToken(r.Context(), token)
	if err != nil {
		if firebaseauth.IsIDTokenExpired(err) || errors.Is(err, identity.ErrTokenExpired) {
			return nil, NewAuthError(ReasonTokenExpired, err)
		}
		return nil, NewAuthError(ReasonTokenInvalid, err)
	}

	return &User{
		UID:         verified.UID,
		Email:       claimString(verified.Claims["email"]),
		DisplayName: claimString(verified.Claims["name"]),
		Token:       token,
	}, nil
}

func claimString(value any) string {
	s, _ := value.(string)
	return strings.TrimSpace(s)
}
