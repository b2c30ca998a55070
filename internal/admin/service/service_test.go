package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"ever/internal/admin/models"
	"ever/internal/audit"
	"ever/internal/credential"
	"ever/internal/platform/metrics"
	"ever/internal/store"
	"ever/internal/token"
	dErrors "ever/pkg/domain-errors"
)

type AdminServiceSuite struct {
	suite.Suite
	admins  *store.Memory[models.Admin]
	sink    *audit.MemorySink
	service *Service
	ctx     context.Context
}

func (s *AdminServiceSuite) SetupTest() {
	normalize := strings.ToLower
	s.admins = store.NewMemory(
		store.WithUniqueKey(func(a models.Admin) (string, bool) {
			return normalize(a.Email), a.Email != "" && !a.IsDeleted
		}),
	)

	hasher, err := credential.NewHasher(4, 2)
	s.Require().NoError(err)
	jwtService := token.NewJWTService("suite-signing-key", "ever-test", time.Hour)

	creds := credential.New(
		models.RoleAdmin,
		CredentialDescriptor(normalize),
		s.admins,
		hasher,
		token.NewCredentialAdapter(jwtService),
	)

	s.sink = audit.NewMemorySink()
	s.service = New(s.admins, creds,
		WithEmailNormalizer(normalize),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithAuditPublisher(audit.NewPublisher(s.sink, nil)),
	)
	s.ctx = context.Background()
}

func TestAdminServiceSuite(t *testing.T) {
	suite.Run(t, new(AdminServiceSuite))
}

func (s *AdminServiceSuite) register(email, password string) models.Admin {
	s.T().Helper()
	created, err := s.service.Register(s.ctx, models.RegistrationInput{
		Admin:    models.Admin{Email: email},
		Password: password,
	})
	s.Require().NoError(err)
	return created
}

// softDelete flips the soft-delete flag through the public update path.
func (s *AdminServiceSuite) softDelete(id string) {
	s.T().Helper()
	_, err := s.service.UpdateByID(s.ctx, id, func(a models.Admin) models.Admin {
		a.IsDeleted = true
		return a
	})
	s.Require().NoError(err)
}

func (s *AdminServiceSuite) auditTypes() []audit.EventType {
	events := s.sink.List()
	types := make([]audit.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func (s *AdminServiceSuite) TestRegister() {
	s.Run("fills defaults", func() {
		created := s.register("jane.doe@example.com", "")

		s.NotEmpty(created.ID)
		s.Equal(models.RoleAdmin, created.Role)
		s.Equal("Jane", created.FirstName)
		s.Equal("Doe", created.LastName)
		s.False(created.CreatedAt.IsZero())
	})

	s.Run("keeps provided names", func() {
		created, err := s.service.Register(s.ctx, models.RegistrationInput{
			Admin: models.Admin{Email: "named@example.com", FirstName: "Ada", LastName: "Lovelace"},
		})
		s.Require().NoError(err)
		s.Equal("Ada", created.FirstName)
		s.Equal("Lovelace", created.LastName)
	})

	s.Run("requires an email", func() {
		_, err := s.service.Register(s.ctx, models.RegistrationInput{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("hashes the password", func() {
		created := s.register("hashed@example.com", "plaintext")
		s.True(created.HasCredential())
		s.NotEqual("plaintext", created.Hash)
	})

	s.Run("rejects a duplicate email case-insensitively", func() {
		s.register("unique@example.com", "")

		_, err := s.service.Register(s.ctx, models.RegistrationInput{
			Admin: models.Admin{Email: "UNIQUE@example.com"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("emits an audit event", func() {
		s.register("audited@example.com", "")
		s.Contains(s.auditTypes(), audit.EventAdminRegistered)
	})
}

func (s *AdminServiceSuite) TestLogin() {
	s.Run("round-trips registration", func() {
		created := s.register("login@example.com", "correct horse")

		result, err := s.service.Login(s.ctx, "login@example.com", "correct horse")
		s.Require().NoError(err)
		s.Require().NotNil(result)
		s.Equal(created.ID, result.Entity.ID)
		s.True(s.service.IsAuthenticated(s.ctx, result.Token))
	})

	s.Run("unknown email and wrong password are indistinguishable", func() {
		s.register("exists@example.com", "right")

		missing, err := s.service.Login(s.ctx, "ghost@example.com", "right")
		s.Require().NoError(err)
		mismatched, err2 := s.service.Login(s.ctx, "exists@example.com", "wrong")
		s.Require().NoError(err2)

		s.Nil(missing)
		s.Nil(mismatched)
		s.Contains(s.auditTypes(), audit.EventAdminLoginFailed)
	})

	s.Run("admin registered without a password cannot log in", func() {
		s.register("nopass@example.com", "")

		result, err := s.service.Login(s.ctx, "nopass@example.com", "")
		s.Require().NoError(err)
		s.Nil(result)
	})

	s.Run("matches email case-insensitively", func() {
		s.register("mixed@example.com", "pw")

		result, err := s.service.Login(s.ctx, "MIXED@example.com", "pw")
		s.Require().NoError(err)
		s.NotNil(result)
	})

	s.Run("only the live admin can log in after its email is recycled", func() {
		original := s.register("recycled-login@example.com", "old-pass")
		s.softDelete(original.ID)
		replacement := s.register("recycled-login@example.com", "new-pass")

		// Two records now carry the address. Resolution must land on the
		// live one every time, never on the deleted original.
		for i := 0; i < 20; i++ {
			fresh, err := s.service.Login(s.ctx, "recycled-login@example.com", "new-pass")
			s.Require().NoError(err)
			s.Require().NotNil(fresh)
			s.Equal(replacement.ID, fresh.Entity.ID)

			stale, err := s.service.Login(s.ctx, "recycled-login@example.com", "old-pass")
			s.Require().NoError(err)
			s.Nil(stale)
		}
	})
}

func (s *AdminServiceSuite) TestUpdatePassword() {
	s.Run("old password stops working", func() {
		created := s.register("rotate@example.com", "old")

		s.Require().NoError(s.service.UpdatePassword(s.ctx, created.ID, "old", "new"))

		stale, err := s.service.Login(s.ctx, "rotate@example.com", "old")
		s.Require().NoError(err)
		s.Nil(stale)

		fresh, err := s.service.Login(s.ctx, "rotate@example.com", "new")
		s.Require().NoError(err)
		s.NotNil(fresh)
		s.Contains(s.auditTypes(), audit.EventAdminPasswordChanged)
	})

	s.Run("rejects a wrong current password", func() {
		created := s.register("strict@example.com", "actual")

		err := s.service.UpdatePassword(s.ctx, created.ID, "guess", "new")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
	})

	s.Run("requires a new password", func() {
		created := s.register("required@example.com", "pw")
		err := s.service.UpdatePassword(s.ctx, created.ID, "pw", "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("reports not_found for an unknown id", func() {
		err := s.service.UpdatePassword(s.ctx, "missing", "old", "new")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *AdminServiceSuite) TestSoftDelete() {
	s.Run("deleted admins fail the existence guard", func() {
		created := s.register("gone@example.com", "pw")
		s.softDelete(created.ID)

		err := s.service.ExistsCheck(s.ctx, created.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		err = s.service.UpdatePassword(s.ctx, created.ID, "pw", "new")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		_, err = s.service.UpdateByID(s.ctx, created.ID, func(a models.Admin) models.Admin { return a })
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("getByEmail still returns deleted admins", func() {
		created := s.register("lingering@example.com", "")
		s.softDelete(created.ID)

		found, err := s.service.GetByEmail(s.ctx, "lingering@example.com")
		s.Require().NoError(err)
		s.Require().NotNil(found)
		s.True(found.IsDeleted)
	})

	s.Run("email becomes reusable after deletion", func() {
		created := s.register("recycled@example.com", "")
		s.softDelete(created.ID)

		replacement := s.register("recycled@example.com", "")
		s.NotEqual(created.ID, replacement.ID)
	})
}

func (s *AdminServiceSuite) TestGetByEmail() {
	s.Run("returns nil for an unknown email", func() {
		found, err := s.service.GetByEmail(s.ctx, "nobody@example.com")
		s.Require().NoError(err)
		s.Nil(found)
	})

	s.Run("matches case-insensitively", func() {
		created := s.register("casemix@example.com", "")
		found, err := s.service.GetByEmail(s.ctx, "CaseMix@Example.Com")
		s.Require().NoError(err)
		s.Require().NotNil(found)
		s.Equal(created.ID, found.ID)
	})
}

func (s *AdminServiceSuite) TestUpdateByID() {
	s.Run("applies the patch and preserves credential material", func() {
		created := s.register("patch@example.com", "pw")

		updated, err := s.service.UpdateByID(s.ctx, created.ID, func(a models.Admin) models.Admin {
			a.FirstName = "Renamed"
			a.Hash = "" // must not be able to clear it here
			return a
		})
		s.Require().NoError(err)
		s.Equal("Renamed", updated.FirstName)
		s.True(updated.HasCredential())

		fresh, err := s.service.Login(s.ctx, "patch@example.com", "pw")
		s.Require().NoError(err)
		s.NotNil(fresh)
	})

	s.Run("rejects stealing a live email", func() {
		s.register("holder@example.com", "")
		thief := s.register("thief@example.com", "")

		_, err := s.service.UpdateByID(s.ctx, thief.ID, func(a models.Admin) models.Admin {
			a.Email = "holder@example.com"
			return a
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("emits an audit event", func() {
		created := s.register("tracked@example.com", "")
		_, err := s.service.UpdateByID(s.ctx, created.ID, func(a models.Admin) models.Admin {
			a.LastName = "Changed"
			return a
		})
		s.Require().NoError(err)
		s.Contains(s.auditTypes(), audit.EventAdminUpdated)
	})
}

func (s *AdminServiceSuite) TestCountAndFind() {
	s.register("one@example.com", "")
	s.register("two@example.com", "")
	deleted := s.register("three@example.com", "")
	s.softDelete(deleted.ID)

	n, err := s.service.Count(s.ctx, func(a models.Admin) bool { return !a.IsDeleted })
	s.Require().NoError(err)
	s.Equal(2, n)

	all, err := s.service.Find(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *AdminServiceSuite) receive(ch <-chan Update) Update {
	s.T().Helper()
	select {
	case upd, ok := <-ch:
		s.Require().True(ok, "stream closed while expecting an update")
		return upd
	case <-time.After(time.Second):
		s.Require().FailNow("timed out waiting for update")
		return Update{}
	}
}

func (s *AdminServiceSuite) expectClosed(ch <-chan Update) {
	s.T().Helper()
	select {
	case _, ok := <-ch:
		s.Require().False(ok, "expected closed stream, got delivery")
	case <-time.After(time.Second):
		s.Require().FailNow("timed out waiting for stream close")
	}
}

func (s *AdminServiceSuite) TestGetStream() {
	s.Run("delivers the current state then updates", func() {
		created := s.register("stream@example.com", "")

		updates, cancel, err := s.service.Get(s.ctx, created.ID)
		s.Require().NoError(err)
		defer cancel()

		first := s.receive(updates)
		s.Require().NoError(first.Err)
		s.Equal(created.ID, first.Admin.ID)

		_, err = s.service.UpdateByID(s.ctx, created.ID, func(a models.Admin) models.Admin {
			a.FirstName = "Streamed"
			return a
		})
		s.Require().NoError(err)

		next := s.receive(updates)
		s.Require().NoError(next.Err)
		s.Equal("Streamed", next.Admin.FirstName)
	})

	s.Run("unknown id terminates with not_found", func() {
		updates, cancel, err := s.service.Get(s.ctx, "missing")
		s.Require().NoError(err)
		defer cancel()

		terminal := s.receive(updates)
		s.Require().Error(terminal.Err)
		s.True(dErrors.HasCode(terminal.Err, dErrors.CodeNotFound))
		s.expectClosed(updates)
	})

	s.Run("soft delete mid-stream terminates with not_found", func() {
		created := s.register("doomed@example.com", "")

		updates, cancel, err := s.service.Get(s.ctx, created.ID)
		s.Require().NoError(err)
		defer cancel()
		s.Require().NoError(s.receive(updates).Err)

		s.softDelete(created.ID)

		terminal := s.receive(updates)
		s.Require().Error(terminal.Err)
		s.True(dErrors.HasCode(terminal.Err, dErrors.CodeNotFound))
		s.expectClosed(updates)
	})

	s.Run("streams on the same admin are independent", func() {
		created := s.register("shared@example.com", "")

		first, cancelFirst, err := s.service.Get(s.ctx, created.ID)
		s.Require().NoError(err)
		second, cancelSecond, err := s.service.Get(s.ctx, created.ID)
		s.Require().NoError(err)
		defer cancelSecond()

		s.Require().NoError(s.receive(first).Err)
		s.Require().NoError(s.receive(second).Err)

		cancelFirst()
		s.expectClosed(first)

		_, err = s.service.UpdateByID(s.ctx, created.ID, func(a models.Admin) models.Admin {
			a.LastName = "Still Here"
			return a
		})
		s.Require().NoError(err)
		s.Equal("Still Here", s.receive(second).Admin.LastName)
	})

	s.Run("no delivery after cancel", func() {
		created := s.register("silent@example.com", "")

		updates, cancel, err := s.service.Get(s.ctx, created.ID)
		s.Require().NoError(err)
		s.Require().NoError(s.receive(updates).Err)

		cancel()
		cancel() // idempotent

		_, err = s.service.UpdateByID(s.ctx, created.ID, func(a models.Admin) models.Admin {
			a.FirstName = "Unheard"
			return a
		})
		s.Require().NoError(err)

		for upd := range updates {
			s.NotEqual("Unheard", upd.Admin.FirstName)
		}
	})
}
