// Package service composes the generic identity store and the credential
// service into the admin-facing API: registration, login, password changes,
// existence-guarded mutation, and observable point-reads.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ever/internal/admin/models"
	"ever/internal/audit"
	"ever/internal/credential"
	"ever/internal/platform/metrics"
	"ever/internal/store"
	dErrors "ever/pkg/domain-errors"
	"ever/pkg/email"
	"ever/pkg/platform/sentinel"
)

// Update is one delivery on an admin point-read stream. A non-nil Err is
// terminal: the channel closes right after it.
type Update struct {
	Admin models.Admin
	Err   error
}

// Service is the domain-facing admin identity API.
type Service struct {
	admins store.Store[models.Admin]
	creds  *credential.Service[models.Admin]

	normalizeEmail func(string) string
	logger         *slog.Logger
	metrics        *metrics.Metrics
	audit          *audit.Publisher
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithEmailNormalizer controls how emails are compared, e.g.
// strings.ToLower for case-insensitive deployments. The same normalizer must
// back the store's uniqueness key.
func WithEmailNormalizer(fn func(string) string) Option {
	return func(s *Service) {
		if fn != nil {
			s.normalizeEmail = fn
		}
	}
}

// New constructs the admin identity service.
func New(admins store.Store[models.Admin], creds *credential.Service[models.Admin], opts ...Option) *Service {
	s := &Service{
		admins:         admins,
		creds:          creds,
		normalizeEmail: func(e string) string { return e },
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmailPredicate matches admins by normalized email. Exposed so wiring can
// hand the credential service the same lookup the domain layer uses.
func (s *Service) EmailPredicate(email string) store.Predicate[models.Admin] {
	want := s.normalizeEmail(email)
	return func(a models.Admin) bool {
		return s.normalizeEmail(a.Email) == want
	}
}

// CredentialDescriptor adapts the admin record to the credential service.
// Login matching excludes soft-deleted admins: once an email has been
// recycled, two records carry the same address and only the live one may
// authenticate. GetByEmail stays unfiltered; this predicate is for
// credential resolution only.
func CredentialDescriptor(normalize func(string) string) credential.Descriptor[models.Admin] {
	if normalize == nil {
		normalize = func(e string) string { return e }
	}
	return credential.Descriptor[models.Admin]{
		HashOf:   func(a models.Admin) string { return a.Hash },
		WithHash: func(a models.Admin, h string) models.Admin { a.Hash = h; return a },
		Match: func(attrs credential.Attributes) store.Predicate[models.Admin] {
			want := normalize(attrs["email"])
			return func(a models.Admin) bool {
				return !a.IsDeleted && normalize(a.Email) == want
			}
		},
	}
}

// Get returns a live, guarded view of one admin. The current state is
// delivered first, then one update per mutation. Every delivery passes the
// existence guard: an absent or soft-deleted record terminates the stream
// with a not_found error instead of being delivered. Cancel stops deliveries
// immediately and releases the subscription.
func (s *Service) Get(ctx context.Context, id string) (<-chan Update, store.CancelFunc, error) {
	events, cancelWatch, err := s.admins.Watch(ctx, id)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "watch admin")
	}

	out := make(chan Update)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelWatch()
			close(done)
		})
	}

	if s.metrics != nil {
		s.metrics.ActiveWatches.Inc()
	}
	go func() {
		defer close(out)
		if s.metrics != nil {
			defer s.metrics.ActiveWatches.Dec()
		}
		for ev := range events {
			upd := Update{Admin: ev.Record}
			if !ev.Exists || ev.Record.IsDeleted {
				upd = Update{Err: dErrors.Newf(dErrors.CodeNotFound, "admin with id %q does not exist", id)}
			}
			select {
			case out <- upd:
			case <-done:
				return
			}
			if upd.Err != nil {
				cancel()
				return
			}
		}
	}()

	return out, cancel, nil
}

// GetByEmail is a one-shot lookup by email. It deliberately does NOT apply
// the existence guard: soft-deleted admins are still returned and callers
// must check IsDeleted themselves. The asymmetry with Get is preserved from
// the original behavior of the system and is relied on by registration
// flows that need to see deleted records.
func (s *Service) GetByEmail(ctx context.Context, emailAddr string) (*models.Admin, error) {
	matches, err := s.admins.Find(ctx, s.EmailPredicate(emailAddr))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find admin by email")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// Register creates a new admin. A supplied plaintext password is hashed
// before the record is created; without one the admin has no credential and
// cannot log in until a password is set.
func (s *Service) Register(ctx context.Context, input models.RegistrationInput) (models.Admin, error) {
	input.Normalize()
	admin := input.Admin
	if admin.Email == "" {
		return models.Admin{}, dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if admin.Role == "" {
		admin.Role = models.RoleAdmin
	}
	if admin.FirstName == "" && admin.LastName == "" {
		admin.FirstName, admin.LastName = email.DeriveNameFromEmail(admin.Email)
	}

	if input.Password != "" {
		hash, err := s.creds.Hash(ctx, input.Password)
		if err != nil {
			return models.Admin{}, dErrors.Wrap(err, dErrors.CodeInternal, "hash password")
		}
		admin.Hash = hash
	}

	now := time.Now()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	created, err := s.admins.Create(ctx, admin)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return models.Admin{}, dErrors.New(dErrors.CodeConflict, "email is already registered")
		}
		return models.Admin{}, dErrors.Wrap(err, dErrors.CodeInternal, "create admin")
	}

	s.logger.InfoContext(ctx, "admin registered", "id", created.ID, "email", created.Email)
	if s.metrics != nil {
		s.metrics.AdminsRegistered.Inc()
	}
	s.audit.Emit(ctx, audit.Event{Type: audit.EventAdminRegistered, AdminID: created.ID, Email: created.Email})
	return created, nil
}

// UpdatePassword rotates an admin's password after the existence guard and
// verification of the current one. Previously issued tokens remain valid
// until they expire.
func (s *Service) UpdatePassword(ctx context.Context, id string, current, next string) error {
	if next == "" {
		return dErrors.New(dErrors.CodeValidation, "new password is required")
	}
	if err := s.ExistsCheck(ctx, id); err != nil {
		return err
	}
	if err := s.creds.UpdatePassword(ctx, id, current, next); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PasswordUpdates.Inc()
	}
	s.audit.Emit(ctx, audit.Event{Type: audit.EventAdminPasswordChanged, AdminID: id})
	return nil
}

// Login authenticates by email and password. Unknown email and wrong
// password both yield (nil, nil); the caller cannot tell which happened.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*credential.LoginResult[models.Admin], error) {
	admin, err := s.GetByEmail(ctx, emailAddr)
	if err != nil {
		return nil, err
	}

	var result *credential.LoginResult[models.Admin]
	if admin != nil {
		result, err = s.creds.Login(ctx, credential.Attributes{"email": emailAddr}, password)
		if err != nil {
			return nil, err
		}
	}

	if result == nil {
		if s.metrics != nil {
			s.metrics.IncrementLogin("failure")
		}
		s.audit.Emit(ctx, audit.Event{Type: audit.EventAdminLoginFailed, Email: emailAddr})
		return nil, nil
	}

	if s.metrics != nil {
		s.metrics.IncrementLogin("success")
	}
	s.audit.Emit(ctx, audit.Event{Type: audit.EventAdminLoginSucceeded, AdminID: result.Entity.ID, Email: result.Entity.Email})
	return result, nil
}

// IsAuthenticated reports whether the token is a valid, unexpired admin
// token. Pure delegation; never an error.
func (s *Service) IsAuthenticated(ctx context.Context, tokenString string) bool {
	return s.creds.IsAuthenticated(ctx, tokenString)
}

// UpdateByID applies a partial update to an existing, non-deleted admin.
// Credential material cannot be touched through this path; use
// UpdatePassword.
func (s *Service) UpdateByID(ctx context.Context, id string, patch store.Patch[models.Admin]) (models.Admin, error) {
	if err := s.ExistsCheck(ctx, id); err != nil {
		return models.Admin{}, err
	}

	updated, err := s.admins.Update(ctx, id, func(a models.Admin) models.Admin {
		hash := a.Hash
		next := patch(a)
		next.Hash = hash
		next.UpdatedAt = time.Now()
		return next
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return models.Admin{}, dErrors.Newf(dErrors.CodeNotFound, "admin with id %q does not exist", id)
		case errors.Is(err, sentinel.ErrConflict):
			return models.Admin{}, dErrors.New(dErrors.CodeConflict, "email is already registered")
		default:
			return models.Admin{}, dErrors.Wrap(err, dErrors.CodeInternal, "update admin")
		}
	}

	s.audit.Emit(ctx, audit.Event{Type: audit.EventAdminUpdated, AdminID: id})
	return updated, nil
}

// Count returns the number of admins matching the predicate.
func (s *Service) Count(ctx context.Context, pred store.Predicate[models.Admin]) (int, error) {
	return s.admins.Count(ctx, pred)
}

// Find returns all admins matching the predicate.
func (s *Service) Find(ctx context.Context, pred store.Predicate[models.Admin]) ([]models.Admin, error) {
	return s.admins.Find(ctx, pred)
}

// ExistsCheck is the single existence guard enforcing soft-delete semantics:
// a one-shot read that fails with not_found when the record is absent or
// soft-deleted.
func (s *Service) ExistsCheck(ctx context.Context, id string) error {
	admin, err := s.admins.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "admin with id %q does not exist", id)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "read admin")
	}
	if admin.IsDeleted {
		return dErrors.Newf(dErrors.CodeNotFound, "admin with id %q does not exist", id)
	}
	return nil
}
