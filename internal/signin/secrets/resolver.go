// Package secrets resolves secret:// configuration references through Google
// Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Scheme prefixes values that must be resolved rather than used literally.
const Scheme = "secret://"

// ErrNotFound is returned when the referenced secret or version does not exist.
var ErrNotFound = errors.New("secrets: not found")

// ErrInvalidReference is returned for malformed secret:// values.
var ErrInvalidReference = errors.New("secrets: invalid reference")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (secretClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Reference is a parsed secret:// value.
type Reference struct {
	Project string
	Secret  string
	Version string
}

// Name returns the Secret Manager resource name.
func (r Reference) Name() string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.Project, r.Secret, r.Version)
}

// IsReference reports whether value uses the secret:// scheme.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), Scheme)
}

// ParseReference accepts secret://projects/<p>/secrets/<name>[/versions/<v>]
// and the short form secret://<name>, which uses defaultProject.
func ParseReference(value, defaultProject string) (Reference, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(value), Scheme)
	if !ok || raw == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	ref := Reference{Version: "latest"}
	switch {
	case len(parts) == 1:
		ref.Project, ref.Secret = defaultProject, parts[0]
	case (len(parts) == 4 || len(parts) == 6) && parts[0] == "projects" && parts[2] == "secrets":
		ref.Project, ref.Secret = parts[1], parts[3]
		if len(parts) == 6 {
			if parts[4] != "versions" {
				return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
			}
			ref.Version = parts[5]
		}
	default:
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
	}
	if ref.Project == "" || ref.Secret == "" || ref.Version == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
	}
	return ref, nil
}

// Resolver fetches and caches secret payloads.
type Resolver struct {
	logger         *zap.Logger
	defaultProject string
	clientOpts     []option.ClientOption

	mu     sync.Mutex
	client secretClient
	owns   bool
	cache  map[string]string
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDefaultProject sets the project used by short references.
func WithDefaultProject(project string) Option {
	return func(r *Resolver) {
		r.defaultProject = strings.TrimSpace(project)
	}
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(r *Resolver) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

func withClient(client secretClient) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// NewResolver constructs a Resolver. The Secret Manager client is created on
// first use so that configurations without references never dial out.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: zap.NewNop(), cache: make(map[string]string)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns value unchanged unless it is a secret:// reference.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	ref, err := ParseReference(value, r.defaultProject)
	if err != nil {
		return "", err
	}
	name := ref.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}
	if r.client == nil {
		client, err := newSecretManagerClient(ctx, r.clientOpts...)
		if err != nil {
			return "", fmt.Errorf("secrets: create client: %w", err)
		}
		r.client = client
		r.owns = true
	}

	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	payload := string(resp.GetPayload().GetData())
	r.cache[name] = payload
	r.logger.Debug("secret resolved", zap.String("secret", ref.Secret), zap.String("version", ref.Version))
	return payload, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owns && r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}
