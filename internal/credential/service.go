// Package credential owns password hashing, verification, and token
// lifecycle for one kind of principal. It is generic over the entity type; a
// Descriptor tells it how to reach the hash field and how to match
// identifying attributes, so the domain layer never touches credential
// material directly.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ever/internal/platform/metrics"
	"ever/internal/store"
	dErrors "ever/pkg/domain-errors"
	"ever/pkg/platform/sentinel"
)

// Attributes identify a principal for login, e.g. {"email": ...}. Which keys
// are honored is up to the Descriptor.
type Attributes map[string]string

// TokenService issues and validates bearer tokens.
type TokenService interface {
	Issue(role string, principalID string) (string, error)
	Validate(token string) (*TokenClaims, error)
}

// TokenClaims is the subset of token claims the credential service checks.
type TokenClaims struct {
	Role    string
	AdminID string
}

// Descriptor adapts an entity kind to the credential service: where its hash
// lives and how login attributes select a record.
type Descriptor[T store.Entity[T]] struct {
	// HashOf returns the stored credential material, empty when unset.
	HashOf func(T) string
	// WithHash returns a copy of the record with new credential material.
	WithHash func(T, string) T
	// Match builds a predicate from identifying attributes.
	Match func(Attributes) store.Predicate[T]
}

// LoginResult pairs the authenticated entity with its issued token.
type LoginResult[T any] struct {
	Entity T
	Token  string
}

// Service implements the credential lifecycle for one role tag.
type Service[T store.Entity[T]] struct {
	role    string
	desc    Descriptor[T]
	records store.Store[T]
	hasher  *Hasher
	tokens  TokenService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option[T store.Entity[T]] func(*Service[T])

func WithLogger[T store.Entity[T]](logger *slog.Logger) Option[T] {
	return func(s *Service[T]) {
		s.logger = logger
	}
}

func WithMetrics[T store.Entity[T]](m *metrics.Metrics) Option[T] {
	return func(s *Service[T]) {
		s.metrics = m
	}
}

// New constructs a credential service for the given role tag.
func New[T store.Entity[T]](
	role string,
	desc Descriptor[T],
	records store.Store[T],
	hasher *Hasher,
	tokens TokenService,
	opts ...Option[T],
) *Service[T] {
	s := &Service[T]{
		role:    role,
		desc:    desc,
		records: records,
		hasher:  hasher,
		tokens:  tokens,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hash derives credential material at the service's configured cost.
func (s *Service[T]) Hash(ctx context.Context, plaintext string) (string, error) {
	start := time.Now()
	hash, err := s.hasher.Hash(ctx, plaintext)
	if s.metrics != nil {
		s.metrics.ObserveHashDuration(time.Since(start))
	}
	return hash, err
}

// Verify reports whether plaintext matches the hash. Mismatch is false, not
// an error.
func (s *Service[T]) Verify(ctx context.Context, plaintext string, hash string) bool {
	return s.hasher.Verify(ctx, plaintext, hash)
}

// Login authenticates a principal identified by attrs. A missing principal
// and a wrong password are indistinguishable to the caller: both return
// (nil, nil) so the API never discloses which identifiers exist.
func (s *Service[T]) Login(ctx context.Context, attrs Attributes, plaintext string) (*LoginResult[T], error) {
	matches, err := s.records.Find(ctx, s.desc.Match(attrs))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "credential lookup failed")
	}
	if len(matches) == 0 {
		return nil, nil
	}

	entity := matches[0]
	if !s.hasher.Verify(ctx, plaintext, s.desc.HashOf(entity)) {
		return nil, nil
	}

	signed, err := s.tokens.Issue(s.role, entity.EntityID())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "token issuance failed")
	}
	return &LoginResult[T]{Entity: entity, Token: signed}, nil
}

// IsAuthenticated validates a token's signature, expiry, and role scope.
// Never an error: any malformed, expired, or forged token is simply false.
func (s *Service[T]) IsAuthenticated(_ context.Context, tokenString string) bool {
	claims, err := s.tokens.Validate(tokenString)
	if err != nil {
		return false
	}
	return claims.Role == s.role
}

// UpdatePassword replaces a principal's credential material after verifying
// the current password. Previously issued tokens stay valid until expiry;
// there is no revocation list.
func (s *Service[T]) UpdatePassword(ctx context.Context, id string, current, next string) error {
	entity, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "principal %q does not exist", id)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "credential lookup failed")
	}

	if !s.hasher.Verify(ctx, current, s.desc.HashOf(entity)) {
		return dErrors.New(dErrors.CodeInvalidCredentials, "current password does not match")
	}

	hash, err := s.Hash(ctx, next)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "hash password")
	}

	_, err = s.records.Update(ctx, id, func(e T) T {
		return s.desc.WithHash(e, hash)
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "store credential")
	}

	s.logger.InfoContext(ctx, "credential rotated", "role", s.role, "id", id)
	return nil
}
