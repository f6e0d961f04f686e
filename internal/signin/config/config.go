// Package config loads the sign-in server configuration from SIGNIN_*
// environment variables, an optional Firebase web config file, and Secret
// Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"finitefield.org/hanko-signin/internal/signin/identity"
	"finitefield.org/hanko-signin/internal/signin/secrets"
)

// EnvPrefix is prepended to every variable except the emulator host.
const EnvPrefix = "SIGNIN_"

const (
	localEnvironment = "local"
	minHashKeyLength = 32
)

// Config is the resolved process configuration.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	Environment     string        `env:"ENV" envDefault:"local"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Firebase Firebase `envPrefix:"FIREBASE_"`
	Session  Session  `envPrefix:"SESSION_"`
	Guard    Guard    `envPrefix:"GUARD_"`
}

// Firebase is the identity provider web configuration.
type Firebase struct {
	APIKey            string        `env:"API_KEY" yaml:"apiKey"`
	AuthDomain        string        `env:"AUTH_DOMAIN" yaml:"authDomain"`
	ProjectID         string        `env:"PROJECT_ID" yaml:"projectId"`
	StorageBucket     string        `env:"STORAGE_BUCKET" yaml:"storageBucket"`
	MessagingSenderID string        `env:"MESSAGING_SENDER_ID" yaml:"messagingSenderId"`
	AppID             string        `env:"APP_ID" yaml:"appId"`
	MeasurementID     string        `env:"MEASUREMENT_ID" yaml:"measurementId"`
	CredentialsFile   string        `env:"CREDENTIALS_FILE" yaml:"-"`
	Timeout           time.Duration `env:"TIMEOUT" envDefault:"10s" yaml:"-"`
	ConfigFile        string        `env:"CONFIG_FILE" yaml:"-"`
	EmulatorHost      string        `yaml:"-"`
}

// Session configures the session cookie.
type Session struct {
	HashKey      string        `env:"HASH_KEY"`
	BlockKey     string        `env:"BLOCK_KEY"`
	CookieSecure bool          `env:"COOKIE_SECURE"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"30m"`
	Lifetime     time.Duration `env:"LIFETIME" envDefault:"12h"`
	// Ephemeral is set when local keys were generated for this process.
	Ephemeral bool
}

// Guard configures the submission guard.
type Guard struct {
	RedisAddr string        `env:"REDIS_ADDR"`
	TTL       time.Duration `env:"TTL" envDefault:"30s"`
}

type emulator struct {
	Host string `env:"FIREBASE_AUTH_EMULATOR_HOST"`
}

// SecretResolver turns secret:// references into values.
type SecretResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

type loadOptions struct {
	environ  map[string]string
	resolver SecretResolver
	logger   *zap.Logger
}

// Option customises Load.
type Option func(*loadOptions)

// WithEnvironment replaces the process environment, mainly for tests.
func WithEnvironment(environ map[string]string) Option {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// WithSecretResolver sets the resolver used for secret:// values.
func WithSecretResolver(r SecretResolver) Option {
	return func(o *loadOptions) {
		o.resolver = r
	}
}

// WithLogger sets the logger used for load diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

// Load parses, resolves and validates the configuration.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := loadOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: o.environ}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	var emu emulator
	if err := env.ParseWithOptions(&emu, env.Options{Environment: o.environ}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.Firebase.EmulatorHost = strings.TrimSpace(emu.Host)
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))

	if path := strings.TrimSpace(cfg.Firebase.ConfigFile); path != "" {
		if err := mergeFirebaseFile(&cfg.Firebase, path); err != nil {
			return Config{}, err
		}
	}

	if err := resolveSecrets(ctx, &cfg, o.resolver); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if cfg.Session.HashKey == "" {
		cfg.Session.HashKey = string(securecookie.GenerateRandomKey(minHashKeyLength))
		cfg.Session.BlockKey = string(securecookie.GenerateRandomKey(32))
		cfg.Session.Ephemeral = true
		o.logger.Warn("session keys not configured; generated per-process keys")
	}
	return cfg, nil
}

// mergeFirebaseFile fills empty Firebase fields from a YAML web config.
func mergeFirebaseFile(dst *Firebase, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read firebase config %s: %w", path, err)
	}
	var file Firebase
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("config: decode firebase config %s: %w", path, err)
	}
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = strings.TrimSpace(src)
		}
	}
	fill(&dst.APIKey, file.APIKey)
	fill(&dst.AuthDomain, file.AuthDomain)
	fill(&dst.ProjectID, file.ProjectID)
	fill(&dst.StorageBucket, file.StorageBucket)
	fill(&dst.MessagingSenderID, file.MessagingSenderID)
	fill(&dst.AppID, file.AppID)
	fill(&dst.MeasurementID, file.MeasurementID)
	return nil
}

func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	targets := []struct {
		name  string
		value *string
	}{
		{"FIREBASE_API_KEY", &cfg.Firebase.APIKey},
		{"SESSION_HASH_KEY", &cfg.Session.HashKey},
		{"SESSION_BLOCK_KEY", &cfg.Session.BlockKey},
	}

	var owned *secrets.Resolver
	for _, t := range targets {
		if !secrets.IsReference(*t.value) {
			continue
		}
		if resolver == nil {
			owned = secrets.NewResolver(secrets.WithDefaultProject(cfg.Firebase.ProjectID))
			resolver = owned
		}
		resolved, err := resolver.Resolve(ctx, *t.value)
		if err != nil {
			if owned != nil {
				_ = owned.Close()
			}
			return &SecretError{Field: EnvPrefix + t.name, Err: err}
		}
		*t.value = resolved
	}
	if owned != nil {
		return owned.Close()
	}
	return nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	var invalid []string
	if strings.TrimSpace(c.HTTPAddr) == "" {
		invalid = append(invalid, EnvPrefix+"HTTP_ADDR")
	}
	if c.ShutdownTimeout <= 0 {
		invalid = append(invalid, EnvPrefix+"SHUTDOWN_TIMEOUT")
	}
	if c.Firebase.Timeout <= 0 {
		invalid = append(invalid, EnvPrefix+"FIREBASE_TIMEOUT")
	}
	if c.Session.HashKey != "" && len(c.Session.HashKey) < minHashKeyLength {
		invalid = append(invalid, EnvPrefix+"SESSION_HASH_KEY")
	}
	switch len(c.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		invalid = append(invalid, EnvPrefix+"SESSION_BLOCK_KEY")
	}
	if c.Session.IdleTimeout <= 0 {
		invalid = append(invalid, EnvPrefix+"SESSION_IDLE_TIMEOUT")
	}
	if c.Session.Lifetime <= 0 {
		invalid = append(invalid, EnvPrefix+"SESSION_LIFETIME")
	}
	if c.Guard.TTL <= 0 {
		invalid = append(invalid, EnvPrefix+"GUARD_TTL")
	}
	if !c.IsLocal() {
		if c.Session.HashKey == "" {
			invalid = append(invalid, EnvPrefix+"SESSION_HASH_KEY")
		}
		if strings.TrimSpace(c.Firebase.ProjectID) == "" {
			invalid = append(invalid, EnvPrefix+"FIREBASE_PROJECT_ID")
		}
		if strings.TrimSpace(c.Firebase.APIKey) == "" {
			invalid = append(invalid, EnvPrefix+"FIREBASE_API_KEY")
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: dedupe(invalid)}
	}
	return nil
}

// IsLocal reports whether the process runs in the local environment.
func (c Config) IsLocal() bool {
	return c.Environment == "" || c.Environment == localEnvironment
}

// Identity converts the Firebase section into the provider configuration.
func (c Config) Identity() identity.Config {
	return identity.Config{
		APIKey:            c.Firebase.APIKey,
		AuthDomain:        c.Firebase.AuthDomain,
		ProjectID:         c.Firebase.ProjectID,
		StorageBucket:     c.Firebase.StorageBucket,
		MessagingSenderID: c.Firebase.MessagingSenderID,
		AppID:             c.Firebase.AppID,
		MeasurementID:     c.Firebase.MeasurementID,
		EmulatorHost:      c.Firebase.EmulatorHost,
		CredentialsFile:   c.Firebase.CredentialsFile,
		Timeout:           c.Firebase.Timeout,
	}
}

// ValidationError lists fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError reports a secret:// reference that could not be resolved.
type SecretError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s: %v", e.Field, e.Err)
}

// Unwrap returns the resolver error.
func (e *SecretError) Unwrap() error { return e.Err }

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
