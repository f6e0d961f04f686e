package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultTimeout = 10 * time.Second

// Config is the fixed remote project configuration of the identity provider.
type Config struct {
	APIKey            string
	AuthDomain        string
	ProjectID         string
	StorageBucket     string
	MessagingSenderID string
	AppID             string
	MeasurementID     string

	// EmulatorHost points both the REST client and the Admin SDK at a local
	// Firebase Auth emulator (host:port).
	EmulatorHost    string
	CredentialsFile string
	Timeout         time.Duration
}

// Client is the process-wide handle shared by every screen. It is built once
// in main and passed explicitly to the forms and middleware.
type Client struct {
	cfg       Config
	provider  Provider
	verifier  TokenVerifier
	refresher TokenRefresher
	static    bool
}

type connectOptions struct {
	logger     *zap.Logger
	clientOpts []option.ClientOption
	static     *StaticProvider
}

// Option customises Connect.
type Option func(*connectOptions)

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *connectOptions) {
		o.logger = logger
	}
}

// WithClientOptions appends Google API client options to the REST provider.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *connectOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithStaticProvider forces the in-memory development provider.
func WithStaticProvider(p *StaticProvider) Option {
	return func(o *connectOptions) {
		o.static = p
	}
}

// ErrMissingAPIKey is returned by Connect when no web API key is configured
// and no in-memory provider was supplied.
var ErrMissingAPIKey = errors.New("identity: firebase api key is required")

// Connect builds the provider handle. The in-memory StaticProvider is used
// only when passed through WithStaticProvider.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	o := connectOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if o.static != nil {
		o.logger.Warn("using in-memory identity provider")
		return &Client{
			cfg:       cfg,
			provider:  Traced(o.static),
			verifier:  o.static,
			refresher: o.static,
			static:    true,
		}, nil
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("identity: firebase project id is required")
	}

	toolkit, err := NewToolkitProvider(ctx, cfg, o.clientOpts...)
	if err != nil {
		return nil, err
	}

	var adminOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		adminOpts = append(adminOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.ProjectID,
		StorageBucket: cfg.StorageBucket,
	}, adminOpts...)
	if err != nil {
		return nil, fmt.Errorf("identity: initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: initialise firebase auth client: %w", err)
	}

	o.logger.Info("firebase identity provider enabled",
		zap.String("project", cfg.ProjectID),
		zap.String("auth_domain", cfg.AuthDomain),
		zap.Bool("emulator", cfg.EmulatorHost != ""),
	)

	return &Client{
		cfg:       cfg,
		provider:  Traced(toolkit),
		verifier:  &boundedVerifier{verifier: authClient, timeout: cfg.Timeout},
		refresher: toolkit,
	}, nil
}

// Provider returns the provider used for every screen call.
func (c *Client) Provider() Provider {
	return c.provider
}

// Verifier returns the ID token verifier.
func (c *Client) Verifier() TokenVerifier {
	return c.verifier
}

// Refresher returns the exchanger for expired ID tokens.
func (c *Client) Refresher() TokenRefresher {
	return c.refresher
}

// Config returns the configuration the handle is bound to.
func (c *Client) Config() Config {
	return c.cfg
}

// Static reports whether the handle uses the in-memory provider.
func (c *Client) Static() bool {
	return c.static
}

// Close releases the handle. The REST and Admin SDK clients hold no
// resources beyond their HTTP transports, so it currently does nothing.
func (c *Client) Close() error {
	return nil
}

type boundedVerifier struct {
	verifier TokenVerifier
	timeout  time.Duration
}

func (v *boundedVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	return v.verifier.VerifyIDToken(ctx, idToken)
}
