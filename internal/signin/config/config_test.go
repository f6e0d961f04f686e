package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, value string) (string, error) {
	if v, ok := m[value]; ok {
		return v, nil
	}
	return "", errors.New("unknown secret")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvironment(map[string]string{}))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, 10*time.Second, cfg.Firebase.Timeout)
	require.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	require.Equal(t, 12*time.Hour, cfg.Session.Lifetime)
	require.Equal(t, 30*time.Second, cfg.Guard.TTL)
	require.True(t, cfg.IsLocal())

	require.True(t, cfg.Session.Ephemeral)
	require.Len(t, cfg.Session.HashKey, 32)
	require.Len(t, cfg.Session.BlockKey, 32)
}

func TestLoadFromEnvironment(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvironment(map[string]string{
		"SIGNIN_HTTP_ADDR":             "127.0.0.1:9000",
		"SIGNIN_ENV":                   "Prod",
		"SIGNIN_FIREBASE_API_KEY":      "api-key",
		"SIGNIN_FIREBASE_PROJECT_ID":   "hanko-demo",
		"SIGNIN_FIREBASE_AUTH_DOMAIN":  "hanko-demo.firebaseapp.com",
		"SIGNIN_FIREBASE_TIMEOUT":      "3s",
		"SIGNIN_SESSION_HASH_KEY":      testHashKey,
		"SIGNIN_SESSION_COOKIE_SECURE": "true",
		"SIGNIN_GUARD_REDIS_ADDR":      "redis:6379",
		"FIREBASE_AUTH_EMULATOR_HOST":  "localhost:9099",
	}))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	require.Equal(t, "prod", cfg.Environment)
	require.False(t, cfg.IsLocal())
	require.True(t, cfg.Session.CookieSecure)
	require.False(t, cfg.Session.Ephemeral)
	require.Equal(t, "redis:6379", cfg.Guard.RedisAddr)

	id := cfg.Identity()
	require.Equal(t, "api-key", id.APIKey)
	require.Equal(t, "hanko-demo", id.ProjectID)
	require.Equal(t, "hanko-demo.firebaseapp.com", id.AuthDomain)
	require.Equal(t, "localhost:9099", id.EmulatorHost)
	require.Equal(t, 3*time.Second, id.Timeout)
}

func TestLoadRequiresKeysOutsideLocal(t *testing.T) {
	_, err := Load(context.Background(), WithEnvironment(map[string]string{
		"SIGNIN_ENV":              "prod",
		"SIGNIN_SESSION_HASH_KEY": "short",
	}))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.ElementsMatch(t, []string{"SIGNIN_SESSION_HASH_KEY", "SIGNIN_FIREBASE_PROJECT_ID", "SIGNIN_FIREBASE_API_KEY"}, vErr.Fields())
	require.True(t, strings.HasPrefix(err.Error(), "config validation failed"))
}

func TestLoadRequiresAPIKeyInProduction(t *testing.T) {
	_, err := Load(context.Background(), WithEnvironment(map[string]string{
		"SIGNIN_ENV":                 "prod",
		"SIGNIN_SESSION_HASH_KEY":    testHashKey,
		"SIGNIN_FIREBASE_PROJECT_ID": "hanko-demo",
	}))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, []string{"SIGNIN_FIREBASE_API_KEY"}, vErr.Fields())

	cfg, err := Load(context.Background(), WithEnvironment(map[string]string{
		"SIGNIN_SESSION_HASH_KEY":    testHashKey,
		"SIGNIN_FIREBASE_PROJECT_ID": "hanko-demo",
	}))
	require.NoError(t, err)
	require.True(t, cfg.IsLocal())
	require.Empty(t, cfg.Firebase.APIKey)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(context.Background(), WithEnvironment(map[string]string{
		"SIGNIN_SHUTDOWN_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse env")
}

func TestLoadMergesFirebaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firebase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
apiKey: file-key
authDomain: file.firebaseapp.com
projectId: file-project
storageBucket: file-project.appspot.com
messagingSenderId: "1234"
appId: "1:1234:web:abcd"
measurementId: G-XYZ
`), 0o600))

	cfg, err := Load(context.Background(), WithEnvironment(map[string]string{
		"SIGNIN_FIREBASE_CONFIG_FILE": path,
		"SIGNIN_FIREBASE_PROJECT_ID":  "env-project",
	}))
	require.NoError(t, err)
	require.Equal(t, "file-key", cfg.Firebase.APIKey)
	require.Equal(t, "env-project", cfg.Firebase.ProjectID, "env wins over file")
	require.Equal(t, "1234", cfg.Firebase.MessagingSenderID)
	require.Equal(t, "G-XYZ", cfg.Firebase.MeasurementID)
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithEnvironment(map[string]string{
			"SIGNIN_FIREBASE_API_KEY": "secret://projects/p/secrets/api-key",
			"SIGNIN_SESSION_HASH_KEY": "secret://hash-key",
		}),
		WithSecretResolver(mapResolver{
			"secret://projects/p/secrets/api-key": "resolved-api-key",
			"secret://hash-key":                   testHashKey,
		}),
	)
	require.NoError(t, err)
	require.Equal(t, "resolved-api-key", cfg.Firebase.APIKey)
	require.Equal(t, testHashKey, cfg.Session.HashKey)
}

func TestLoadReportsUnresolvableSecret(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvironment(map[string]string{"SIGNIN_SESSION_BLOCK_KEY": "secret://missing"}),
		WithSecretResolver(mapResolver{}),
	)
	var sErr *SecretError
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, "SIGNIN_SESSION_BLOCK_KEY", sErr.Field)
}
