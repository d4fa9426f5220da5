// Package service implements the API key registry: creation with one-time
// disclosure, owner-scoped listing, revocation, and verification of
// presented keys.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/session"
)

// MaxNameLength bounds the length of a key name in characters.
const MaxNameLength = 100

// KeyStore is the persistence the registry needs. Implementations must make
// RevokeAPIKey an atomic check-owner-then-mutate.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.StoredKey) error
	ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]model.StoredKey, error)
	RevokeAPIKey(ctx context.Context, id, ownerID string) error
	FindActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]model.StoredKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// Registry manages the API key lifecycle. Every state-changing call
// re-validates the bearer token with the session authority; nothing a
// client caches is trusted. Registry holds no mutable state.
type Registry struct {
	store     KeyStore
	authority session.Authority
	hasher    credential.Hasher
	generate  func() (string, error)
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Secrets are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithGenerator overrides the secret generator.
func WithGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.generate = gen }
}

// NewRegistry creates a Registry over its collaborators.
func NewRegistry(store KeyStore, authority session.Authority, hasher credential.Hasher, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		authority: authority,
		hasher:    hasher,
		generate:  credential.GenerateKey,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Authenticate resolves an Authorization header value to a principal with
// a live authority check. Authority outages are reported as
// ErrUnauthenticated and are not retried.
func (r *Registry) Authenticate(ctx context.Context, authorization string) (*model.Principal, error) {
	token, ok := session.ParseBearer(authorization)
	if !ok {
		return nil, fmt.Errorf("%w: missing or malformed bearer token", ErrUnauthenticated)
	}
	p, err := r.authority.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrUnavailable) {
			r.logger.WarnContext(ctx, "session authority unavailable", "error", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("%w: authority returned no principal", ErrUnauthenticated)
	}
	return p, nil
}

// Create issues a new key named name for the caller. The returned NewKey
// carries the plaintext secret; it is not recoverable afterwards. On any
// error nothing is persisted.
func (r *Registry) Create(ctx context.Context, name, authorization string) (*model.NewKey, error) {
	nk, err := r.create(ctx, name, authorization)
	r.metrics.KeyOperation("create", outcome(err))
	return nk, err
}

func (r *Registry) create(ctx context.Context, name, authorization string) (*model.NewKey, error) {
	p, err := r.Authenticate(ctx, authorization)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, MaxNameLength)
	}

	secret, err := r.generate()
	if err != nil {
		r.logger.ErrorContext(ctx, "key generation failed", "error", err)
		return nil, fmt.Errorf("%w: generate key", ErrInternal)
	}
	if !credential.ValidKeyFormat(secret) {
		return nil, fmt.Errorf("%w: generator produced a malformed key", ErrInternal)
	}

	digest, err := r.hasher.Hash(secret)
	if err != nil {
		r.logger.ErrorContext(ctx, "key hashing failed", "error", err)
		return nil, fmt.Errorf("%w: hash key", ErrInternal)
	}

	stored := &model.StoredKey{
		Name:      name,
		OwnerID:   p.ID,
		KeyPrefix: credential.Prefix(secret),
		KeyHash:   digest,
		CreatedAt: r.now().Truncate(time.Microsecond),
	}
	if err := r.store.CreateAPIKey(ctx, stored); err != nil {
		r.logger.ErrorContext(ctx, "persist api key failed", "owner", p.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	r.logger.InfoContext(ctx, "api key created", "id", stored.ID, "owner", p.ID)
	return &model.NewKey{
		ID:        stored.ID,
		Name:      stored.Name,
		Key:       secret,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// List returns the caller's active keys, newest first. It never fails: an
// unauthenticated caller or a store error yields an empty list, so an
// anonymous probe cannot tell the cases apart.
func (r *Registry) List(ctx context.Context, authorization string) []model.KeySummary {
	out, err := r.ListKeys(ctx, authorization)
	if err != nil {
		return []model.KeySummary{}
	}
	return out
}

// ListKeys is List for callers that need to know why a listing is empty.
// It returns ErrUnauthenticated or ErrUpstream instead of degrading.
func (r *Registry) ListKeys(ctx context.Context, authorization string) ([]model.KeySummary, error) {
	p, err := r.Authenticate(ctx, authorization)
	if err != nil {
		r.logger.DebugContext(ctx, "list rejected", "reason", outcome(err))
		r.metrics.KeyOperation("list", outcome(err))
		return nil, err
	}

	keys, err := r.store.ListAPIKeysByOwner(ctx, p.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "list api keys failed", "owner", p.ID, "error", err)
		r.metrics.KeyOperation("list", outcome(ErrUpstream))
		return nil, fmt.Errorf("%w: list keys", ErrUpstream)
	}

	out := []model.KeySummary{}
	for i := range keys {
		if !keys[i].Active() || keys[i].OwnerID != p.ID {
			continue
		}
		out = append(out, keys[i].Summary())
	}
	r.metrics.KeyOperation("list", outcome(nil))
	return out, nil
}

// Revoke permanently disables key id on behalf of its owner.
func (r *Registry) Revoke(ctx context.Context, id, authorization string) error {
	err := r.revoke(ctx, id, authorization)
	r.metrics.KeyOperation("revoke", outcome(err))
	return err
}

func (r *Registry) revoke(ctx context.Context, id, authorization string) error {
	p, err := r.Authenticate(ctx, authorization)
	if err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}

	if err := r.store.RevokeAPIKey(ctx, id, p.ID); err != nil {
		switch {
		case errors.Is(err, config.ErrNotFound):
			return ErrNotFound
		case errors.Is(err, config.ErrForbidden):
			r.logger.WarnContext(ctx, "revoke by non-owner refused", "id", id, "principal", p.ID)
			return ErrForbidden
		default:
			r.logger.ErrorContext(ctx, "revoke api key failed", "id", id, "error", err)
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	r.logger.InfoContext(ctx, "api key revoked", "id", id, "owner", p.ID)
	return nil
}

// Verify checks a presented key and records its use. Unknown, malformed and
// revoked keys all yield ErrUnauthenticated.
func (r *Registry) Verify(ctx context.Context, rawKey string) (*model.StoredKey, error) {
	key, err := r.verify(ctx, rawKey)
	switch {
	case err == nil:
		r.metrics.KeyVerification("valid")
	case errors.Is(err, ErrUnauthenticated):
		r.metrics.KeyVerification("invalid")
	default:
		r.metrics.KeyVerification("error")
	}
	return key, err
}

func (r *Registry) verify(ctx context.Context, rawKey string) (*model.StoredKey, error) {
	if !credential.ValidKeyFormat(rawKey) {
		return nil, fmt.Errorf("%w: malformed api key", ErrUnauthenticated)
	}

	candidates, err := r.store.FindActiveAPIKeysByPrefix(ctx, credential.Prefix(rawKey))
	if err != nil {
		r.logger.ErrorContext(ctx, "api key lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	for i := range candidates {
		key := candidates[i]
		if !key.Active() || !r.hasher.Compare(rawKey, key.KeyHash) {
			continue
		}

		used := r.now().Truncate(time.Microsecond)
		if err := r.store.TouchAPIKey(ctx, key.ID, used); err != nil {
			if errors.Is(err, config.ErrNotFound) {
				// Revoked between lookup and touch.
				return nil, fmt.Errorf("%w: api key revoked", ErrUnauthenticated)
			}
			r.logger.WarnContext(ctx, "record api key use failed", "id", key.ID, "error", err)
		} else {
			key.LastUsed = &used
		}
		return &key, nil
	}
	return nil, fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "internal"
	}
}
