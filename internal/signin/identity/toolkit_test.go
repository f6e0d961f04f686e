package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeToolkit struct {
	mu       sync.Mutex
	accounts map[string]string
	names    map[string]string
	calls    []string
}

func newFakeToolkit() *fakeToolkit {
	return &fakeToolkit{
		accounts: map[string]string{"known@example.com": "secret123"},
		names:    map[string]string{},
	}
}

func (f *fakeToolkit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	f.calls = append(f.calls, op)

	if op == "token" {
		f.serveSecureToken(w, r)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	str := func(key string) string {
		v, _ := body[key].(string)
		return v
	}

	switch op {
	case "createAuthUri":
		if str("identifier") == "legacy@example.com" {
			writeJSON(w, http.StatusOK, map[string]any{"registered": true})
			return
		}
		if _, ok := f.accounts[str("identifier")]; ok {
			writeJSON(w, http.StatusOK, map[string]any{"registered": true, "signinMethods": []string{"password"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"registered": false})
	case "verifyPassword":
		if str("email") == "boom@example.com" {
			http.Error(w, "upstream failure", http.StatusInternalServerError)
			return
		}
		pw, ok := f.accounts[str("email")]
		if !ok {
			writeToolkitError(w, "EMAIL_NOT_FOUND")
			return
		}
		if pw != str("password") {
			writeToolkitError(w, "INVALID_PASSWORD")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"localId":      "uid-" + str("email"),
			"email":        str("email"),
			"displayName":  f.names[str("email")],
			"idToken":      "id-token",
			"refreshToken": "refresh-token",
			"registered":   true,
		})
	case "signupNewUser":
		email := str("email")
		if _, ok := f.accounts[email]; ok {
			writeToolkitError(w, "EMAIL_EXISTS")
			return
		}
		if len(str("password")) < 6 {
			writeToolkitError(w, "WEAK_PASSWORD : Password should be at least 6 characters")
			return
		}
		f.accounts[email] = str("password")
		writeJSON(w, http.StatusOK, map[string]any{
			"localId":      "uid-" + email,
			"email":        email,
			"idToken":      "signup-token:" + email,
			"refreshToken": "refresh-token",
		})
	case "setAccountInfo":
		token := str("idToken")
		email, ok := strings.CutPrefix(token, "signup-token:")
		if !ok {
			writeToolkitError(w, "INVALID_ID_TOKEN")
			return
		}
		f.names[email] = str("displayName")
		writeJSON(w, http.StatusOK, map[string]any{
			"email":        email,
			"displayName":  str("displayName"),
			"idToken":      "named-token:" + email,
			"refreshToken": "refresh-token-2",
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeToolkit) serveSecureToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
		writeToolkitError(w, "INVALID_GRANT_TYPE")
		return
	}
	if r.PostForm.Get("refresh_token") != "refresh-token" {
		writeToolkitError(w, "INVALID_REFRESH_TOKEN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id_token":      "refreshed-token",
		"refresh_token": "refresh-token-3",
		"user_id":       "uid-known@example.com",
		"expires_in":    "3600",
		"token_type":    "Bearer",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeToolkitError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":    400,
			"message": message,
			"errors": []map[string]any{
				{"message": message, "domain": "global", "reason": "invalid"},
			},
		},
	})
}

func newTestToolkit(t *testing.T) (*ToolkitProvider, *fakeToolkit) {
	t.Helper()

	fake := newFakeToolkit()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	p, err := NewToolkitProvider(context.Background(), Config{APIKey: "test-key"},
		option.WithEndpoint(ts.URL+"/relyingparty/"),
		option.WithHTTPClient(ts.Client()),
	)
	require.NoError(t, err)
	p.tokenEndpoint = ts.URL + "/v1/token"
	return p, fake
}

func TestToolkitSignInMethods(t *testing.T) {
	t.Parallel()
	p, _ := newTestToolkit(t)
	ctx := context.Background()

	methods, err := p.SignInMethods(ctx, "known@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"password"}, methods)

	methods, err = p.SignInMethods(ctx, "a@b.com")
	require.NoError(t, err)
	require.Empty(t, methods)
}

func TestToolkitSignInMethodsRegisteredWithoutMethods(t *testing.T) {
	t.Parallel()
	p, _ := newTestToolkit(t)

	methods, err := p.SignInMethods(context.Background(), "legacy@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"password"}, methods)
}

func TestToolkitRefresh(t *testing.T) {
	t.Parallel()
	p, fake := newTestToolkit(t)
	ctx := context.Background()

	sess, err := p.Refresh(ctx, "refresh-token")
	require.NoError(t, err)
	require.Equal(t, "uid-known@example.com", sess.UID)
	require.Equal(t, "refreshed-token", sess.IDToken)
	require.Equal(t, "refresh-token-3", sess.RefreshToken)

	_, err = p.Refresh(ctx, "revoked")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, "The refresh token is invalid or expired.", MessageOf(err))

	_, err = p.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, []string{"token", "token"}, fake.calls)
}

func TestToolkitSignIn(t *testing.T) {
	t.Parallel()
	p, _ := newTestToolkit(t)
	ctx := context.Background()

	sess, err := p.SignIn(ctx, "known@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, "uid-known@example.com", sess.UID)
	require.Equal(t, "id-token", sess.IDToken)
	require.Equal(t, "refresh-token", sess.RefreshToken)

	_, err = p.SignIn(ctx, "known@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = p.SignIn(ctx, "ghost@example.com", "whatever")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestToolkitSignInUnexpectedFailure(t *testing.T) {
	t.Parallel()
	p, _ := newTestToolkit(t)

	_, err := p.SignIn(context.Background(), "boom@example.com", "secret123")
	require.Error(t, err)
	require.Equal(t, KindUnexpected, KindOf(err))
	require.NotEmpty(t, MessageOf(err))
}

func TestToolkitCreateAccountAndDisplayName(t *testing.T) {
	t.Parallel()
	p, fake := newTestToolkit(t)
	ctx := context.Background()

	sess, err := p.CreateAccount(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, "signup-token:ada@example.com", sess.IDToken)

	named, err := p.UpdateDisplayName(ctx, sess, "Ada")
	require.NoError(t, err)
	require.Equal(t, "Ada", named.DisplayName)
	require.Equal(t, "named-token:ada@example.com", named.IDToken)
	require.Equal(t, "refresh-token-2", named.RefreshToken)
	require.Equal(t, sess.UID, named.UID)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, []string{"signupNewUser", "setAccountInfo"}, fake.calls)
}

func TestToolkitCreateAccountErrorsCarryProviderMessage(t *testing.T) {
	t.Parallel()
	p, _ := newTestToolkit(t)
	ctx := context.Background()

	tests := []struct {
		email    string
		password string
		kind     Kind
		message  string
	}{
		{"known@example.com", "secret123", KindEmailExists, "The email address is already in use by another account."},
		{"new@example.com", "123", KindWeakPassword, "Password should be at least 6 characters."},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s/%s", tc.email, tc.kind), func(t *testing.T) {
			_, err := p.CreateAccount(ctx, tc.email, tc.password)
			require.Error(t, err)
			require.Equal(t, tc.kind, KindOf(err))
			require.Equal(t, tc.message, MessageOf(err))
		})
	}
}

func TestToolkitUpdateDisplayNameRequiresSession(t *testing.T) {
	t.Parallel()
	p, _ := newTestToolkit(t)

	_, err := p.UpdateDisplayName(context.Background(), nil, "Ada")
	require.Error(t, err)
	require.Equal(t, KindUnexpected, KindOf(err))
}

func TestTranslateToolkitErrorPassesThroughNonAPIErrors(t *testing.T) {
	err := translateToolkitError("sign in", errors.New("dial tcp: connection refused"))
	require.Equal(t, KindUnexpected, KindOf(err))
	require.Equal(t, "dial tcp: connection refused", MessageOf(err))
}
