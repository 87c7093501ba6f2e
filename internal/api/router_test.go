package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

// ServerTestSuite drives the full router with authentication required
type ServerTestSuite struct {
	suite.Suite
	server        *Server
	tenantManager *MockTenantManager
	tenantID      uuid.UUID
}

func (s *ServerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:        "a-test-secret-of-sufficient-length",
			TokenExpiry:      time.Hour,
			RefreshExpiry:    24 * time.Hour,
			RequireAuth:      true,
			OperatorUsername: "operator",
			OperatorPassword: "s3cret",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	s.tenantManager = NewMockTenantManager()
	s.tenantID = uuid.New()
	s.tenantManager.AddTenant(&models.Tenant{ID: s.tenantID, Name: "acme", Active: true})

	s.server = NewServer(cfg, s.tenantManager, zap.NewNop())
	s.server.SetupRoutes()
}

func (s *ServerTestSuite) request(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.server.GetRouter().ServeHTTP(w, req)
	return w
}

func (s *ServerTestSuite) login(tenantID string) LoginResponse {
	w := s.request("POST", "/auth/login", "", LoginRequest{Username: "operator", Password: "s3cret", TenantID: tenantID})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *ServerTestSuite) TestHealthIsPublic() {
	w := s.request("GET", "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "ok")
}

func (s *ServerTestSuite) TestMetricsEndpoint() {
	w := s.request("GET", "/metrics", "", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *ServerTestSuite) TestLoginRejectsBadCredentials() {
	w := s.request("POST", "/auth/login", "", LoginRequest{Username: "operator", Password: "wrong"})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.request("POST", "/auth/login", "", LoginRequest{Username: "operator", Password: "s3cret", TenantID: "not-a-uuid"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ServerTestSuite) TestAPIRequiresToken() {
	w := s.request("GET", "/api/v1/tenants", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.request("GET", "/api/v1/tenants", "garbage", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *ServerTestSuite) TestAdminReachesEverything() {
	tokens := s.login("")
	s.Equal("Bearer", tokens.TokenType)
	s.Equal(3600, tokens.ExpiresIn)

	s.Equal(http.StatusOK, s.request("GET", "/api/v1/tenants", tokens.AccessToken, nil).Code)
	s.Equal(http.StatusOK, s.request("GET", "/api/v1/tenants/stats", tokens.AccessToken, nil).Code)
	s.Equal(http.StatusOK, s.request("GET", "/api/v1/tenants/"+s.tenantID.String(), tokens.AccessToken, nil).Code)
	s.Equal(http.StatusNotFound, s.request("GET", "/api/v1/records/"+uuid.New().String(), tokens.AccessToken, nil).Code)
}

func (s *ServerTestSuite) TestTenantScopedOperator() {
	tokens := s.login(s.tenantID.String())

	s.Equal(http.StatusOK, s.request("GET", "/api/v1/tenants/"+s.tenantID.String(), tokens.AccessToken, nil).Code)
	s.Equal(http.StatusOK, s.request("PUT", "/api/v1/tenants/"+s.tenantID.String()+"/pause", tokens.AccessToken, nil).Code)

	s.Equal(http.StatusForbidden, s.request("GET", "/api/v1/tenants/"+uuid.New().String(), tokens.AccessToken, nil).Code)
	s.Equal(http.StatusForbidden, s.request("GET", "/api/v1/tenants/stats", tokens.AccessToken, nil).Code)
	s.Equal(http.StatusForbidden, s.request("GET", "/api/v1/tenants", tokens.AccessToken, nil).Code)
	s.Equal(http.StatusForbidden, s.request("GET", "/api/v1/records/"+uuid.New().String(), tokens.AccessToken, nil).Code)
}

func (s *ServerTestSuite) TestRefreshTokenFlow() {
	tokens := s.login(s.tenantID.String())

	// A refresh token is not an access token.
	s.Equal(http.StatusUnauthorized, s.request("GET", "/api/v1/tenants/"+s.tenantID.String(), tokens.RefreshToken, nil).Code)

	w := s.request("POST", "/auth/refresh", "", RefreshTokenRequest{RefreshToken: tokens.AccessToken})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.request("POST", "/auth/refresh", "", RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	s.Require().Equal(http.StatusOK, w.Code)

	var refreshed LoginResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &refreshed))
	s.Equal(http.StatusOK, s.request("GET", "/api/v1/tenants/"+s.tenantID.String(), refreshed.AccessToken, nil).Code)
	s.Equal(http.StatusForbidden, s.request("GET", "/api/v1/tenants/stats", refreshed.AccessToken, nil).Code, "tenant scope survives refresh")
}

func (s *ServerTestSuite) TestLogout() {
	tokens := s.login("")
	s.Equal(http.StatusOK, s.request("POST", "/auth/logout", tokens.AccessToken, nil).Code)
	s.Equal(http.StatusUnauthorized, s.request("POST", "/auth/logout", "", nil).Code)
}

func (s *ServerTestSuite) TestCORSPreflight() {
	w := s.request("OPTIONS", "/api/v1/tenants", "", nil)
	s.Equal(http.StatusNoContent, w.Code)
	s.Equal("*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
