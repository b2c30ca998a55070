package httptransport

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ever/internal/admin/models"
	adminservice "ever/internal/admin/service"
	"ever/internal/credential"
	"ever/internal/platform/logger"
	"ever/internal/store"
	"ever/internal/token"
	"ever/internal/transport/rpc"
	"ever/pkg/testutil"
)

type RouterSuite struct {
	suite.Suite
	admins  *adminservice.Service
	handler http.Handler
	ctx     context.Context
}

func (s *RouterSuite) SetupTest() {
	normalize := strings.ToLower
	records := store.NewMemory(
		store.WithUniqueKey(func(a models.Admin) (string, bool) {
			return normalize(a.Email), a.Email != "" && !a.IsDeleted
		}),
	)

	hasher, err := credential.NewHasher(4, 2)
	s.Require().NoError(err)
	jwtService := token.NewJWTService("router-suite-key", "ever-test", time.Hour)

	creds := credential.New(
		models.RoleAdmin,
		adminservice.CredentialDescriptor(normalize),
		records,
		hasher,
		token.NewCredentialAdapter(jwtService),
	)

	s.admins = adminservice.New(records, creds, adminservice.WithEmailNormalizer(normalize))

	registry := rpc.NewRegistry()
	rpc.RegisterAdminMethods(registry, s.admins)

	router := NewRouter(registry, token.NewMiddlewareAdapter(jwtService), logger.New())
	s.handler = router.Handler()
	s.ctx = context.Background()
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

// registerAndLogin seeds an admin over the wire and returns its record and a
// valid bearer token.
func (s *RouterSuite) registerAndLogin(email, password string) (models.Admin, string) {
	s.T().Helper()

	rr := testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.register", map[string]string{
		"email":    email,
		"password": password,
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	admin := testutil.UnmarshalResponse[models.Admin](s.T(), rr)

	rr = testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.login", map[string]string{
		"email":    email,
		"password": password,
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	result := testutil.UnmarshalResponse[struct {
		Token string `json:"token"`
	}](s.T(), rr)

	return *admin, result.Token
}

func (s *RouterSuite) TestHealthAndMetrics() {
	rr := testutil.DoRequest(s.handler, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	rr = testutil.DoRequest(s.handler, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}

func (s *RouterSuite) TestUnknownMethod() {
	rr := testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/no.such.method", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *RouterSuite) TestRegister() {
	s.Run("returns the created admin without credential material", func() {
		rr := testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.register", map[string]string{
			"email":    "wire@example.com",
			"password": "secret",
		}))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		body := string(testutil.ReadBody(s.T(), rr))
		s.Contains(body, "wire@example.com")
		s.NotContains(body, "secret")
		s.NotContains(body, "hash")
	})

	s.Run("maps conflicts to 409", func() {
		s.registerAndLogin("dup@example.com", "pw")

		rr := testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.register", map[string]string{
			"email": "dup@example.com",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})

	s.Run("maps malformed payloads to 400", func() {
		req := httptest.NewRequest(http.MethodPost, "/rpc/admin.register", strings.NewReader("{not json"))
		rr := testutil.DoRequest(s.handler, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
	})
}

func (s *RouterSuite) TestLogin() {
	s.Run("failed login returns null, not an error status", func() {
		s.registerAndLogin("real@example.com", "right")

		rr := testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.login", map[string]string{
			"email":    "real@example.com",
			"password": "wrong",
		}))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Equal("null", strings.TrimSpace(string(testutil.ReadBody(s.T(), rr))))
	})

	s.Run("issued token passes isAuthenticated", func() {
		_, bearer := s.registerAndLogin("tok@example.com", "pw")

		rr := testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.isAuthenticated", map[string]string{
			"token": bearer,
		}))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Equal("true", strings.TrimSpace(string(testutil.ReadBody(s.T(), rr))))
	})
}

func (s *RouterSuite) TestAuthEnforcement() {
	_, bearer := s.registerAndLogin("guard@example.com", "pw")

	s.Run("rejects a missing token", func() {
		rr := testutil.DoRequest(s.handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.count", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("rejects a garbage token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.count", nil)
		rr := testutil.DoRequest(s.handler, testutil.WithBearer(req, "garbage"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("accepts a valid token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.count", nil)
		rr := testutil.DoRequest(s.handler, testutil.WithBearer(req, bearer))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		result := testutil.UnmarshalResponse[struct {
			Count int `json:"count"`
		}](s.T(), rr)
		s.Equal(1, result.Count)
	})
}

func (s *RouterSuite) TestAuthenticatedMethods() {
	admin, bearer := s.registerAndLogin("methods@example.com", "pw")

	s.Run("updateById applies the patch", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.updateById", map[string]any{
			"id":    admin.ID,
			"patch": map[string]string{"firstName": "Patched"},
		})
		rr := testutil.DoRequest(s.handler, testutil.WithBearer(req, bearer))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		updated := testutil.UnmarshalResponse[models.Admin](s.T(), rr)
		s.Equal("Patched", updated.FirstName)
	})

	s.Run("updatePassword rotates credentials over the wire", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.updatePassword", map[string]string{
			"id":              admin.ID,
			"currentPassword": "pw",
			"newPassword":     "rotated",
		})
		rr := testutil.DoRequest(s.handler, testutil.WithBearer(req, bearer))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		result, err := s.admins.Login(s.ctx, "methods@example.com", "rotated")
		s.Require().NoError(err)
		s.NotNil(result)
	})

	s.Run("find filters on query fields", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.find", map[string]string{
			"email": "methods@example.com",
		})
		rr := testutil.DoRequest(s.handler, testutil.WithBearer(req, bearer))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		found := testutil.UnmarshalResponse[[]models.Admin](s.T(), rr)
		s.Require().Len(*found, 1)
		s.Equal(admin.ID, (*found)[0].ID)
	})

	s.Run("wrong current password maps to 401", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/rpc/admin.updatePassword", map[string]string{
			"id":              admin.ID,
			"currentPassword": "nope",
			"newPassword":     "x",
		})
		rr := testutil.DoRequest(s.handler, testutil.WithBearer(req, bearer))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "invalid_credentials")
	})
}

// TestGetStream exercises the server-sent event path end to end against a
// live server, since httptest.ResponseRecorder cannot model an open stream.
func (s *RouterSuite) TestGetStream() {
	admin, bearer := s.registerAndLogin("sse@example.com", "pw")

	server := httptest.NewServer(s.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/rpc/admin.get?id="+admin.ID, nil)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readFrame := func() string {
		s.T().Helper()
		for {
			line, err := reader.ReadString('\n')
			s.Require().NoError(err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				return strings.TrimSpace(data)
			}
		}
	}

	first := readFrame()
	s.Contains(first, admin.ID)

	_, err = s.admins.UpdateByID(s.ctx, admin.ID, func(a models.Admin) models.Admin {
		a.FirstName = "Live"
		return a
	})
	s.Require().NoError(err)

	s.Contains(readFrame(), "Live")
}

func (s *RouterSuite) TestStreamRequiresAuth() {
	rr := testutil.DoRequest(s.handler, testutil.NewRequest(s.T(), http.MethodGet, "/rpc/admin.get?id=whatever"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}
