package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"ever/internal/store"
	dErrors "ever/pkg/domain-errors"
)

// principal is a minimal entity for exercising the generic credential
// lifecycle.
type principal struct {
	ID    string
	Email string
	Hash  string
}

func (p principal) EntityID() string { return p.ID }

func (p principal) WithEntityID(id string) principal {
	p.ID = id
	return p
}

// stubTokens is a deterministic TokenService: issued tokens encode their
// claims and validate back to them.
type stubTokens struct {
	issued map[string]TokenClaims
}

func newStubTokens() *stubTokens {
	return &stubTokens{issued: make(map[string]TokenClaims)}
}

func (t *stubTokens) Issue(role string, principalID string) (string, error) {
	signed := "token-" + role + "-" + principalID
	t.issued[signed] = TokenClaims{Role: role, AdminID: principalID}
	return signed, nil
}

func (t *stubTokens) Validate(tokenString string) (*TokenClaims, error) {
	claims, ok := t.issued[tokenString]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown token")
	}
	return &claims, nil
}

type CredentialServiceSuite struct {
	suite.Suite
	records *store.Memory[principal]
	tokens  *stubTokens
	service *Service[principal]
	ctx     context.Context
}

func (s *CredentialServiceSuite) SetupTest() {
	s.records = store.NewMemory[principal]()
	s.tokens = newStubTokens()
	hasher, err := NewHasher(4, 2) // MinCost keeps the suite fast
	s.Require().NoError(err)

	s.service = New(
		"admin",
		Descriptor[principal]{
			HashOf:   func(p principal) string { return p.Hash },
			WithHash: func(p principal, h string) principal { p.Hash = h; return p },
			Match: func(attrs Attributes) store.Predicate[principal] {
				return func(p principal) bool { return p.Email == attrs["email"] }
			},
		},
		s.records,
		hasher,
		s.tokens,
	)
	s.ctx = context.Background()
}

func TestCredentialServiceSuite(t *testing.T) {
	suite.Run(t, new(CredentialServiceSuite))
}

// seed creates a principal with a hashed password and returns it.
func (s *CredentialServiceSuite) seed(email, password string) principal {
	s.T().Helper()
	hash, err := s.service.Hash(s.ctx, password)
	s.Require().NoError(err)
	created, err := s.records.Create(s.ctx, principal{Email: email, Hash: hash})
	s.Require().NoError(err)
	return created
}

func (s *CredentialServiceSuite) TestHashAndVerify() {
	s.Run("verifies a round-tripped password", func() {
		hash, err := s.service.Hash(s.ctx, "s3cret")
		s.Require().NoError(err)
		s.NotEqual("s3cret", hash)
		s.True(s.service.Verify(s.ctx, "s3cret", hash))
	})

	s.Run("rejects the wrong password", func() {
		hash, err := s.service.Hash(s.ctx, "s3cret")
		s.Require().NoError(err)
		s.False(s.service.Verify(s.ctx, "wrong", hash))
	})

	s.Run("empty hash matches nothing", func() {
		s.False(s.service.Verify(s.ctx, "", ""))
		s.False(s.service.Verify(s.ctx, "anything", ""))
	})

	s.Run("same password hashes to distinct material", func() {
		h1, err := s.service.Hash(s.ctx, "same")
		s.Require().NoError(err)
		h2, err := s.service.Hash(s.ctx, "same")
		s.Require().NoError(err)
		s.NotEqual(h1, h2)
	})
}

func (s *CredentialServiceSuite) TestLogin() {
	s.Run("succeeds with the right password", func() {
		seeded := s.seed("admin@example.com", "correct horse")

		result, err := s.service.Login(s.ctx, Attributes{"email": "admin@example.com"}, "correct horse")
		s.Require().NoError(err)
		s.Require().NotNil(result)
		s.Equal(seeded.ID, result.Entity.ID)
		s.NotEmpty(result.Token)
	})

	s.Run("unknown principal and wrong password are indistinguishable", func() {
		s.seed("known@example.com", "right")

		missing, err := s.service.Login(s.ctx, Attributes{"email": "unknown@example.com"}, "right")
		s.Require().NoError(err)
		mismatched, err2 := s.service.Login(s.ctx, Attributes{"email": "known@example.com"}, "wrong")
		s.Require().NoError(err2)

		s.Nil(missing)
		s.Nil(mismatched)
	})

	s.Run("principal without credential cannot log in", func() {
		_, err := s.records.Create(s.ctx, principal{Email: "nopass@example.com"})
		s.Require().NoError(err)

		result, err := s.service.Login(s.ctx, Attributes{"email": "nopass@example.com"}, "")
		s.Require().NoError(err)
		s.Nil(result)
	})
}

func (s *CredentialServiceSuite) TestIsAuthenticated() {
	s.Run("accepts a freshly issued token", func() {
		s.seed("auth@example.com", "pw")
		result, err := s.service.Login(s.ctx, Attributes{"email": "auth@example.com"}, "pw")
		s.Require().NoError(err)
		s.Require().NotNil(result)

		s.True(s.service.IsAuthenticated(s.ctx, result.Token))
	})

	s.Run("rejects garbage", func() {
		s.False(s.service.IsAuthenticated(s.ctx, "not-a-token"))
		s.False(s.service.IsAuthenticated(s.ctx, ""))
	})

	s.Run("rejects a token scoped to another role", func() {
		signed, err := s.tokens.Issue("merchant", "someone")
		s.Require().NoError(err)
		s.False(s.service.IsAuthenticated(s.ctx, signed))
	})
}

func (s *CredentialServiceSuite) TestUpdatePassword() {
	s.Run("rotates credential material", func() {
		seeded := s.seed("rotate@example.com", "old")

		s.Require().NoError(s.service.UpdatePassword(s.ctx, seeded.ID, "old", "new"))

		stored, err := s.records.Get(s.ctx, seeded.ID)
		s.Require().NoError(err)
		s.True(s.service.Verify(s.ctx, "new", stored.Hash))
		s.False(s.service.Verify(s.ctx, "old", stored.Hash))
	})

	s.Run("rejects a wrong current password", func() {
		seeded := s.seed("strict@example.com", "actual")

		err := s.service.UpdatePassword(s.ctx, seeded.ID, "guess", "new")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
	})

	s.Run("reports not_found for an unknown principal", func() {
		err := s.service.UpdatePassword(s.ctx, "missing", "old", "new")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
