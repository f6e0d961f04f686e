package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Provider is the subset of the identity provider consumed by the sign-in screens.
type Provider interface {
	// SignInMethods lists the sign-in methods registered for email. An empty
	// slice means no account exists.
	SignInMethods(ctx context.Context, email string) ([]string, error)
	// SignIn exchanges an email and password for a session.
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// CreateAccount registers a new email/password account and signs it in.
	CreateAccount(ctx context.Context, email, password string) (*Session, error)
	// UpdateDisplayName attaches name to the account behind sess and returns
	// the refreshed session.
	UpdateDisplayName(ctx context.Context, sess *Session, name string) (*Session, error)
}

// TokenVerifier validates ID tokens previously issued by the provider.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// TokenRefresher exchanges a refresh token for a new ID token. The returned
// Session carries the UID and both tokens; profile fields may be empty.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// Session is the opaque result of a successful authentication.
type Session struct {
	UID          string
	Email        string
	DisplayName  string
	IDToken      string
	RefreshToken string
}

// Kind classifies provider failures.
type Kind string

const (
	KindAccountNotFound    Kind = "account_not_found"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindEmailExists        Kind = "email_exists"
	KindWeakPassword       Kind = "weak_password"
	// KindRejected covers refusals that are neither credential nor input
	// problems (disabled account, throttling, disabled sign-in method).
	KindRejected   Kind = "rejected"
	KindUnexpected Kind = "unexpected"
)

// ErrTokenExpired is returned by verifiers when an ID token is past its expiry.
var ErrTokenExpired = errors.New("identity: token expired")

// Error is the tagged failure returned by every Provider operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinels usable with errors.Is.
var (
	ErrAccountNotFound    = &Error{Kind: KindAccountNotFound}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrEmailExists        = &Error{Kind: KindEmailExists}
	ErrWeakPassword       = &Error{Kind: KindWeakPassword}
)

// KindOf extracts the Kind from err, defaulting to KindUnexpected.
func KindOf(err error) Kind {
	var idErr *Error
	if errors.As(err, &idErr) && idErr.Kind != "" {
		return idErr.Kind
	}
	return KindUnexpected
}

// MessageOf returns the human readable message carried by err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var idErr *Error
	if errors.As(err, &idErr) {
		return idErr.Error()
	}
	return err.Error()
}

// unexpected wraps a transport or decoding failure for operation op.
func unexpected(op string, err error) error {
	if err == nil {
		return nil
	}
	var idErr *Error
	if errors.As(err, &idErr) {
		return err
	}
	return &Error{Kind: KindUnexpected, Message: err.Error(), Err: fmt.Errorf("identity: %s: %w", op, err)}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
