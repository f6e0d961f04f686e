package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const (
	// continueURI is required by createAuthUri but irrelevant for password accounts.
	continueURI = "http://localhost"

	secureTokenEndpoint = "https://securetoken.googleapis.com/v1/token"
)

// ToolkitProvider implements Provider on top of the Identity Toolkit
// relying-party API, the REST surface behind the Firebase web SDK.
type ToolkitProvider struct {
	svc     *identitytoolkit.RelyingpartyService
	timeout time.Duration

	// Refresh tokens are exchanged at the Secure Token API, which has no
	// generated client.
	httpClient    *http.Client
	apiKey        string
	tokenEndpoint string
}

// NewToolkitProvider constructs a provider authenticated with the project's web API key.
func NewToolkitProvider(ctx context.Context, cfg Config, opts ...option.ClientOption) (*ToolkitProvider, error) {
	clientOpts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithEndpoint("http://"+host+"/www.googleapis.com/identitytoolkit/v3/relyingparty/"),
		)
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := identitytoolkit.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("identity: initialise identity toolkit: %w", err)
	}
	httpClient, _, err := htransport.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("identity: initialise secure token client: %w", err)
	}
	tokenEndpoint := secureTokenEndpoint
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		tokenEndpoint = "http://" + host + "/securetoken.googleapis.com/v1/token"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ToolkitProvider{
		svc:           svc.Relyingparty,
		timeout:       timeout,
		httpClient:    httpClient,
		apiKey:        cfg.APIKey,
		tokenEndpoint: tokenEndpoint,
	}, nil
}

// SignInMethods implements Provider.
func (p *ToolkitProvider) SignInMethods(ctx context.Context, email string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.svc.CreateAuthUri(&identitytoolkit.IdentitytoolkitRelyingpartyCreateAuthUriRequest{
		Identifier:  normaliseEmail(email),
		ContinueUri: continueURI,
	}).Context(ctx).Do()
	if err != nil {
		return nil, translateToolkitError("list sign-in methods", err)
	}
	if !resp.Registered && len(resp.SigninMethods) == 0 {
		return []string{}, nil
	}
	methods := append([]string(nil), resp.SigninMethods...)
	if len(methods) == 0 {
		methods = append(methods, resp.AllProviders...)
	}
	// Accounts created before per-method reporting come back registered with
	// no methods; the only method this app creates is password.
	if len(methods) == 0 {
		methods = append(methods, passwordSignInKind)
	}
	return methods, nil
}

// SignIn implements Provider.
func (p *ToolkitProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.svc.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             normaliseEmail(email),
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, translateToolkitError("sign in", err)
	}
	return &Session{
		UID:          resp.LocalId,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// CreateAccount implements Provider.
func (p *ToolkitProvider) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.svc.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    normaliseEmail(email),
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, translateToolkitError("create account", err)
	}
	return &Session{
		UID:          resp.LocalId,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// UpdateDisplayName implements Provider.
func (p *ToolkitProvider) UpdateDisplayName(ctx context.Context, sess *Session, name string) (*Session, error) {
	if sess == nil || sess.IDToken == "" {
		return nil, NewError(KindUnexpected, "no signed-in account to update", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.svc.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:           sess.IDToken,
		DisplayName:       name,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, translateToolkitError("update display name", err)
	}

	updated := *sess
	updated.DisplayName = name
	if resp.DisplayName != "" {
		updated.DisplayName = resp.DisplayName
	}
	if resp.IdToken != "" {
		updated.IDToken = resp.IdToken
	}
	if resp.RefreshToken != "" {
		updated.RefreshToken = resp.RefreshToken
	}
	return &updated, nil
}

type secureTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	ExpiresIn    string `json:"expires_in"`
}

// Refresh implements TokenRefresher.
func (p *ToolkitProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, NewError(KindInvalidCredentials, "The refresh token is invalid or expired.", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := p.tokenEndpoint
	if p.apiKey != "" {
		endpoint += "?" + url.Values{"key": {p.apiKey}}.Encode()
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, unexpected("refresh token", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, unexpected("refresh token", err)
	}
	defer googleapi.CloseBody(res)
	if err := googleapi.CheckResponse(res); err != nil {
		return nil, translateToolkitError("refresh token", err)
	}

	var body secureTokenResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, unexpected("refresh token", err)
	}
	if body.IDToken == "" {
		return nil, unexpected("refresh token", errors.New("response carried no id_token"))
	}
	return &Session{
		UID:          body.UserID,
		IDToken:      body.IDToken,
		RefreshToken: body.RefreshToken,
	}, nil
}

// toolkitMessages are the user-facing texts for the error codes the
// relying-party API returns in error.message.
var toolkitMessages = map[string]struct {
	kind    Kind
	message string
}{
	"EMAIL_NOT_FOUND":             {KindAccountNotFound, "There is no user record corresponding to this identifier."},
	"INVALID_PASSWORD":            {KindInvalidCredentials, "The password is invalid."},
	"INVALID_LOGIN_CREDENTIALS":   {KindInvalidCredentials, "The supplied credentials are incorrect."},
	"INVALID_EMAIL":               {KindInvalidCredentials, "The email address is badly formatted."},
	"MISSING_PASSWORD":            {KindInvalidCredentials, "A password is required."},
	"EMAIL_EXISTS":                {KindEmailExists, "The email address is already in use by another account."},
	"WEAK_PASSWORD":               {KindWeakPassword, "Password should be at least 6 characters."},
	"USER_DISABLED":               {KindRejected, "The user account has been disabled by an administrator."},
	"TOO_MANY_ATTEMPTS_TRY_LATER": {KindRejected, "Access to this account has been temporarily disabled due to many failed login attempts."},
	"OPERATION_NOT_ALLOWED":       {KindRejected, "Password sign-in is disabled for this project."},
	"TOKEN_EXPIRED":               {KindInvalidCredentials, "The refresh token is invalid or expired."},
	"INVALID_REFRESH_TOKEN":       {KindInvalidCredentials, "The refresh token is invalid or expired."},
	"USER_NOT_FOUND":              {KindAccountNotFound, "There is no user record corresponding to this identifier."},
}

func translateToolkitError(op string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return unexpected(op, err)
	}

	raw := strings.TrimSpace(apiErr.Message)
	code, detail, _ := strings.Cut(raw, ":")
	code = strings.TrimSpace(code)
	detail = strings.TrimSpace(detail)

	wrapped := fmt.Errorf("identity: %s: %w", op, err)
	if known, ok := toolkitMessages[code]; ok {
		msg := known.message
		if detail != "" {
			msg = detail
			if !strings.HasSuffix(msg, ".") {
				msg += "."
			}
		}
		return &Error{Kind: known.kind, Message: msg, Err: wrapped}
	}
	if raw == "" {
		raw = fmt.Sprintf("identity provider returned HTTP %d", apiErr.Code)
	}
	return &Error{Kind: KindUnexpected, Message: raw, Err: wrapped}
}
