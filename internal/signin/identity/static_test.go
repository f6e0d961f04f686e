package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func newTestStatic(t *testing.T) (*StaticProvider, *fixedClock) {
	t.Helper()
	clock := &fixedClock{current: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	p, err := NewStaticProvider(
		WithStaticClock(clock.Now),
		WithStaticSigningKey([]byte("0123456789abcdef0123456789abcdef")),
		WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	return p, clock
}

func TestStaticProviderSignupThenLogin(t *testing.T) {
	p, _ := newTestStatic(t)
	ctx := context.Background()

	methods, err := p.SignInMethods(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Empty(t, methods)

	created, err := p.CreateAccount(ctx, "Ada@Example.com", "secret123")
	require.NoError(t, err)
	require.NotEmpty(t, created.UID)
	require.Equal(t, "ada@example.com", created.Email)

	methods, err = p.SignInMethods(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"password"}, methods)

	sess, err := p.SignIn(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, created.UID, sess.UID)

	_, err = p.SignIn(ctx, "ada@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = p.SignIn(ctx, "nobody@example.com", "secret123")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStaticProviderRejectsDuplicateAndWeakPasswords(t *testing.T) {
	p, _ := newTestStatic(t)
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "ada@example.com", "123")
	require.ErrorIs(t, err, ErrWeakPassword)
	require.Equal(t, "Password should be at least 6 characters.", MessageOf(err))

	_, err = p.CreateAccount(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)

	_, err = p.CreateAccount(ctx, "ada@example.com", "secret456")
	require.ErrorIs(t, err, ErrEmailExists)
}

func TestStaticProviderUpdateDisplayNameReissuesToken(t *testing.T) {
	p, _ := newTestStatic(t)
	ctx := context.Background()

	sess, err := p.CreateAccount(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)

	named, err := p.UpdateDisplayName(ctx, sess, "Ada")
	require.NoError(t, err)
	require.Equal(t, "Ada", named.DisplayName)
	require.Equal(t, sess.RefreshToken, named.RefreshToken)

	token, err := p.VerifyIDToken(ctx, named.IDToken)
	require.NoError(t, err)
	require.Equal(t, sess.UID, token.UID)
	require.Equal(t, "Ada", token.Claims["name"])
	require.Equal(t, "ada@example.com", token.Claims["email"])

	again, err := p.SignIn(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, "Ada", again.DisplayName)
}

func TestStaticProviderVerifyIDToken(t *testing.T) {
	p, clock := newTestStatic(t)
	ctx := context.Background()

	sess, err := p.CreateAccount(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)

	_, err = p.VerifyIDToken(ctx, "not-a-token")
	require.Error(t, err)

	other, err := NewStaticProvider(WithStaticSigningKey([]byte("another-key-another-key-another!!")))
	require.NoError(t, err)
	_, err = other.VerifyIDToken(ctx, sess.IDToken)
	require.Error(t, err)

	clock.current = clock.current.Add(2 * time.Hour)
	_, err = p.VerifyIDToken(ctx, sess.IDToken)
	require.True(t, errors.Is(err, ErrTokenExpired), "expected expiry, got %v", err)
}

func TestConnectUsesStaticProviderOnlyWhenRequested(t *testing.T) {
	_, err := Connect(context.Background(), Config{ProjectID: "demo"})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	static, _ := newTestStatic(t)
	client, err := Connect(context.Background(), Config{ProjectID: "demo"}, WithStaticProvider(static))
	require.NoError(t, err)
	require.True(t, client.Static())
	require.NotNil(t, client.Provider())
	require.NotNil(t, client.Verifier())
	require.Same(t, static, client.Refresher())
	require.Equal(t, defaultTimeout, client.Config().Timeout)
}

func TestErrorKinds(t *testing.T) {
	err := NewError(KindAccountNotFound, "gone", nil)
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, "gone", err.Error())

	require.Equal(t, KindUnexpected, KindOf(errors.New("boom")))
	require.Equal(t, "boom", MessageOf(errors.New("boom")))
	require.Equal(t, "", MessageOf(nil))

	wrapped := unexpected("sign in", errors.New("reset by peer"))
	require.Equal(t, "reset by peer", wrapped.Error())
	require.Equal(t, KindUnexpected, KindOf(wrapped))
}

func TestStaticProviderRefreshRotatesToken(t *testing.T) {
	p, clock := newTestStatic(t)
	ctx := context.Background()

	sess, err := p.CreateAccount(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)
	sess, err = p.UpdateDisplayName(ctx, sess, "Ada")
	require.NoError(t, err)

	clock.current = clock.current.Add(61 * time.Minute)
	_, err = p.VerifyIDToken(ctx, sess.IDToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	refreshed, err := p.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, sess.UID, refreshed.UID)
	require.Equal(t, "Ada", refreshed.DisplayName)
	require.NotEqual(t, sess.RefreshToken, refreshed.RefreshToken)

	token, err := p.VerifyIDToken(ctx, refreshed.IDToken)
	require.NoError(t, err)
	require.Equal(t, sess.UID, token.UID)

	_, err = p.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
