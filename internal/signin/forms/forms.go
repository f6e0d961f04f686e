// Package forms implements the login and signup submissions: local
// validation, provider calls, and navigation on success.
package forms

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/hanko-signin/internal/signin/identity"
	"finitefield.org/hanko-signin/internal/signin/observability"
)

// HomePath is where a successful submission navigates.
const HomePath = "/"

// Form names used in guard keys and templates.
const (
	LoginFormName  = "login"
	SignupFormName = "signup"
)

// Navigator moves the user to another screen.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(path string) {
	f(path)
}

// Status is the submission state rendered with the form.
type Status struct {
	Submitting bool
	Error      string
}

// Option customises a form.
type Option func(*base)

// WithGuard serialises submissions for the form instance identified by key.
func WithGuard(guard Guard, key string) Option {
	return func(b *base) {
		b.guard = guard
		b.key = key
	}
}

type base struct {
	provider  identity.Provider
	navigator Navigator
	guard     Guard
	key       string

	mu     sync.Mutex
	status Status
}

func (b *base) init(provider identity.Provider, nav Navigator, name string, opts []Option) {
	if provider == nil {
		panic("forms: identity provider is required")
	}
	if nav == nil {
		panic("forms: navigator is required")
	}
	b.provider, b.navigator, b.key = provider, nav, name
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.guard == nil {
		b.guard = NewMemoryGuard()
	}
}

// Status returns a snapshot of the submission state.
func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) begin(ctx context.Context) error {
	if err := b.guard.Acquire(ctx, b.key); err != nil {
		if errors.Is(err, ErrSubmitInProgress) {
			b.mu.Lock()
			b.status = Status{Submitting: true, Error: Message(err)}
			b.mu.Unlock()
		}
		return err
	}
	b.mu.Lock()
	b.status = Status{Submitting: true}
	b.mu.Unlock()
	return nil
}

func (b *base) end(ctx context.Context, err error) {
	b.guard.Release(ctx, b.key)
	b.mu.Lock()
	b.status = Status{Error: Message(err)}
	b.mu.Unlock()
}

func (b *base) reject(err error) error {
	b.mu.Lock()
	b.status = Status{Error: Message(err)}
	b.mu.Unlock()
	return err
}

// Message maps a submission error to the text shown in the form.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Text
	}
	if errors.Is(err, ErrSubmitInProgress) {
		return "Submission in progress, please wait"
	}
	return identity.MessageOf(err)
}

func logProviderError(ctx context.Context, op string, err error) {
	logger := observability.FromContext(ctx)
	kind := identity.KindOf(err)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	}
	if kind == identity.KindUnexpected {
		logger.Error("identity provider call failed", fields...)
		return
	}
	logger.Warn("identity provider rejected request", fields...)
}
