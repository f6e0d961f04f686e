package forms

import (
	"context"
	"strings"

	"finitefield.org/hanko-signin/internal/signin/identity"
)

// SignupValues is the raw input of the signup screen.
type SignupValues struct {
	Name     string
	Email    string
	Password string
}

// Signup handles one signup form instance.
type Signup struct {
	base
}

// NewSignup binds a signup form to provider and nav.
func NewSignup(provider identity.Provider, nav Navigator, opts ...Option) *Signup {
	f := &Signup{}
	f.init(provider, nav, SignupFormName, opts)
	return f
}

// Submit validates v, creates the account, and attaches the display name.
// Provider failures are returned with the provider's message intact.
func (s *Signup) Submit(ctx context.Context, v SignupValues) (*identity.Session, error) {
	name := NormalizeDisplayName(v.Name)
	email := strings.TrimSpace(v.Email)
	if name == "" || email == "" || v.Password == "" {
		return nil, s.reject(&ValidationError{Reason: ReasonMissingField, Text: "All fields are not filled"})
	}
	if !ValidEmail(email) {
		return nil, s.reject(&ValidationError{Reason: ReasonBadEmailFormat, Text: "Incorrect Email"})
	}

	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	sess, err := s.create(ctx, name, email, v.Password)
	s.end(ctx, err)
	if err != nil {
		return nil, err
	}
	s.navigator.Navigate(HomePath)
	return sess, nil
}

func (s *Signup) create(ctx context.Context, name, email, password string) (*identity.Session, error) {
	created, err := s.provider.CreateAccount(ctx, email, password)
	if err != nil {
		logProviderError(ctx, "create_account", err)
		return nil, err
	}
	named, err := s.provider.UpdateDisplayName(ctx, created, name)
	if err != nil {
		logProviderError(ctx, "update_display_name", err)
		return nil, err
	}
	return named, nil
}
