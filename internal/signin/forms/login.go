package forms

import (
	"context"
	"strings"

	"finitefield.org/hanko-signin/internal/signin/identity"
)

// LoginValues is the raw input of the login screen.
type LoginValues struct {
	Email    string
	Password string
}

// Login handles one login form instance.
type Login struct {
	base
}

// NewLogin binds a login form to provider and nav.
func NewLogin(provider identity.Provider, nav Navigator, opts ...Option) *Login {
	f := &Login{}
	f.init(provider, nav, LoginFormName, opts)
	return f
}

// Submit validates v, checks the account exists, and signs in. On success it
// navigates home exactly once and returns the session.
func (l *Login) Submit(ctx context.Context, v LoginValues) (*identity.Session, error) {
	email := strings.TrimSpace(v.Email)
	if email == "" || v.Password == "" {
		return nil, l.reject(&ValidationError{Reason: ReasonMissingField, Text: "Fill all fields"})
	}
	if !ValidEmail(email) {
		return nil, l.reject(&ValidationError{Reason: ReasonBadEmailFormat, Text: "Format of Email is not correct"})
	}

	if err := l.begin(ctx); err != nil {
		return nil, err
	}

	sess, err := l.signIn(ctx, email, v.Password)
	l.end(ctx, err)
	if err != nil {
		return nil, err
	}
	l.navigator.Navigate(HomePath)
	return sess, nil
}

func (l *Login) signIn(ctx context.Context, email, password string) (*identity.Session, error) {
	methods, err := l.provider.SignInMethods(ctx, email)
	if err != nil {
		logProviderError(ctx, "sign_in_methods", err)
		return nil, err
	}
	if len(methods) == 0 {
		return nil, identity.NewError(identity.KindAccountNotFound, "Email is not registered", nil)
	}

	sess, err := l.provider.SignIn(ctx, email, password)
	if err != nil {
		logProviderError(ctx, "sign_in", err)
		if identity.KindOf(err) == identity.KindUnexpected {
			return nil, err
		}
		return nil, identity.NewError(identity.KindInvalidCredentials, "Incorrect password", err)
	}
	return sess, nil
}
