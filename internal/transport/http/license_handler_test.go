package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"closethopper/internal/config"
	"closethopper/internal/registry"
	"closethopper/pkg/contracts/licensing"
)

const (
	profileA = "3f79bb7b435b05321651daefd374cdc681dc06faa65e374e38337b88ca046dea"
	profileB = "a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type LicenseHandlerSuite struct {
	suite.Suite
	registry *registry.Registry
	server   *httptest.Server
}

func (s *LicenseHandlerSuite) SetupTest() {
	var err error
	s.registry, err = registry.New("", testLogger())
	s.Require().NoError(err)

	cfg := config.ServerConfig{
		RateLimit: config.RateLimitConfig{Enabled: false},
	}
	s.server = httptest.NewServer(NewRouter(s.registry, cfg, testLogger()))
}

func (s *LicenseHandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *LicenseHandlerSuite) post(path string, payload interface{}) *http.Response {
	body, err := json.Marshal(payload)
	s.Require().NoError(err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	return resp
}

func (s *LicenseHandlerSuite) decode(resp *http.Response, out interface{}) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *LicenseHandlerSuite) activeKey() string {
	lic, err := s.registry.Create("standard", licensing.StatusActive)
	s.Require().NoError(err)
	return lic.Key
}

func (s *LicenseHandlerSuite) TestActivateFreshSeat() {
	key := s.activeKey()

	resp := s.post("/api/licenses/activate", licensing.ActivateRequest{Key: key, ProfileHash: profileA})
	s.Equal(http.StatusOK, resp.StatusCode)

	var out licensing.ActivateResponse
	s.decode(resp, &out)
	s.True(out.OK)
	s.Equal(licensing.MessageActivated, out.Message)
}

func (s *LicenseHandlerSuite) TestActivateIdempotent() {
	key := s.activeKey()

	resp := s.post("/api/licenses/activate", licensing.ActivateRequest{Key: key, ProfileHash: profileA})
	resp.Body.Close()

	resp = s.post("/api/licenses/activate", licensing.ActivateRequest{Key: key, ProfileHash: profileA})
	s.Equal(http.StatusOK, resp.StatusCode)

	var out licensing.ActivateResponse
	s.decode(resp, &out)
	s.True(out.OK)
	s.Equal(licensing.MessageAlreadyActivated, out.Message)
}

func (s *LicenseHandlerSuite) TestActivateErrorMatrix() {
	key := s.activeKey()
	resp := s.post("/api/licenses/activate", licensing.ActivateRequest{Key: key, ProfileHash: profileA})
	resp.Body.Close()

	revoked := s.activeKey()
	s.Require().NoError(s.registry.Revoke(revoked))

	tests := []struct {
		name       string
		req        interface{}
		wantStatus int
		wantCode   string
	}{
		{"missing profile hash", licensing.ActivateRequest{Key: key}, http.StatusBadRequest, licensing.CodeBadRequest},
		{"short profile hash", licensing.ActivateRequest{Key: key, ProfileHash: "abc123"}, http.StatusBadRequest, licensing.CodeBadRequest},
		{"unknown key", licensing.ActivateRequest{Key: "0000-0000-0000-0000", ProfileHash: profileB}, http.StatusNotFound, licensing.CodeInvalidKey},
		{"revoked license", licensing.ActivateRequest{Key: revoked, ProfileHash: profileB}, http.StatusForbidden, licensing.CodeLicenseRevoked},
		{"seat taken", licensing.ActivateRequest{Key: key, ProfileHash: profileB}, http.StatusForbidden, licensing.CodeLicenseFull},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.post("/api/licenses/activate", tt.req)
			s.Equal(tt.wantStatus, resp.StatusCode)

			var out licensing.ErrorResponse
			s.decode(resp, &out)
			s.False(out.OK)
			s.Equal(tt.wantCode, out.Error)
		})
	}
}

func (s *LicenseHandlerSuite) TestActivateMalformedBody() {
	resp, err := http.Post(s.server.URL+"/api/licenses/activate", "application/json", bytes.NewReader([]byte("{broken")))
	s.Require().NoError(err)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	var out licensing.ErrorResponse
	s.decode(resp, &out)
	s.Equal(licensing.CodeBadRequest, out.Error)
}

func (s *LicenseHandlerSuite) TestValidateBound() {
	key := s.activeKey()
	resp := s.post("/api/licenses/activate", licensing.ActivateRequest{Key: key, ProfileHash: profileA})
	resp.Body.Close()

	resp = s.post("/api/licenses/validate", licensing.ValidateRequest{Key: key, ProfileHash: profileA})
	s.Equal(http.StatusOK, resp.StatusCode)

	var out licensing.ValidateResponse
	s.decode(resp, &out)
	s.True(out.OK)
	s.True(out.Bound)
	s.Equal(licensing.StatusActive, out.Status)
	s.Equal("standard", out.Plan)
	s.Equal(licensing.Seats{Used: 1, Max: 1}, out.Seats)
	s.Equal(registry.NextCheckInDays, out.NextCheckInDays)
}

func (s *LicenseHandlerSuite) TestValidateUnboundDoesNotConsumeSeat() {
	key := s.activeKey()

	for i := 0; i < 3; i++ {
		resp := s.post("/api/licenses/validate", licensing.ValidateRequest{Key: key, ProfileHash: profileA})
		s.Equal(http.StatusOK, resp.StatusCode)

		var out licensing.ValidateResponse
		s.decode(resp, &out)
		s.False(out.Bound)
		s.Equal(0, out.Seats.Used)
	}
}

func (s *LicenseHandlerSuite) TestValidateErrorMatrix() {
	full := s.activeKey()
	resp := s.post("/api/licenses/activate", licensing.ActivateRequest{Key: full, ProfileHash: profileA})
	resp.Body.Close()

	revoked := s.activeKey()
	s.Require().NoError(s.registry.Revoke(revoked))

	tests := []struct {
		name       string
		req        licensing.ValidateRequest
		wantStatus int
		wantCode   string
	}{
		{"unknown key", licensing.ValidateRequest{Key: "0000-0000-0000-0000", ProfileHash: profileA}, http.StatusNotFound, licensing.CodeInvalidKey},
		{"revoked", licensing.ValidateRequest{Key: revoked, ProfileHash: profileA}, http.StatusForbidden, licensing.CodeLicenseRevoked},
		{"full and unbound", licensing.ValidateRequest{Key: full, ProfileHash: profileB}, http.StatusForbidden, licensing.CodeLicenseFull},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.post("/api/licenses/validate", tt.req)
			s.Equal(tt.wantStatus, resp.StatusCode)

			var out licensing.ErrorResponse
			s.decode(resp, &out)
			s.Equal(tt.wantCode, out.Error)
		})
	}
}

func (s *LicenseHandlerSuite) TestPingAlwaysOK() {
	// Ping tolerates unknown keys; only malformed payloads fail.
	resp := s.post("/api/licenses/ping", licensing.PingRequest{Key: "0000-0000-0000-0000", ProfileHash: profileA})
	s.Equal(http.StatusOK, resp.StatusCode)

	var out licensing.PingResponse
	s.decode(resp, &out)
	s.True(out.OK)
}

func (s *LicenseHandlerSuite) TestDeactivateFreesSeat() {
	key := s.activeKey()
	resp := s.post("/api/licenses/activate", licensing.ActivateRequest{Key: key, ProfileHash: profileA})
	resp.Body.Close()

	resp = s.post("/api/licenses/deactivate", licensing.DeactivateRequest{Key: key, ProfileHash: profileA})
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The freed seat is immediately claimable by another device.
	resp = s.post("/api/licenses/activate", licensing.ActivateRequest{Key: key, ProfileHash: profileB})
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *LicenseHandlerSuite) TestDeactivateUnbound() {
	key := s.activeKey()
	resp := s.post("/api/licenses/deactivate", licensing.DeactivateRequest{Key: key, ProfileHash: profileA})
	s.Equal(http.StatusNotFound, resp.StatusCode)

	var out licensing.ErrorResponse
	s.decode(resp, &out)
	s.Equal(licensing.CodeInvalidKey, out.Error)
}

func (s *LicenseHandlerSuite) TestHealthz() {
	resp, err := http.Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func TestLicenseHandlerSuite(t *testing.T) {
	suite.Run(t, new(LicenseHandlerSuite))
}

func TestRateLimitRejectsBursts(t *testing.T) {
	reg, err := registry.New("", testLogger())
	require.NoError(t, err)

	cfg := config.ServerConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 2},
	}
	server := httptest.NewServer(NewRouter(reg, cfg, testLogger()))
	defer server.Close()

	payload, _ := json.Marshal(licensing.ValidateRequest{Key: "0000-0000-0000-0000", ProfileHash: profileA})

	var limited int
	for i := 0; i < 10; i++ {
		resp, err := http.Post(server.URL+"/api/licenses/validate", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		if resp.StatusCode == http.StatusTooManyRequests {
			var out licensing.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, licensing.CodeServerError, out.Error, "throttling must read as transient to clients")
			limited++
		}
		resp.Body.Close()
	}
	assert.Greater(t, limited, 0, "burst past the limit must be throttled")

	// Admin and health endpoints are outside the limited subtree.
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg, err := registry.New("", testLogger())
	require.NoError(t, err)
	server := httptest.NewServer(NewRouter(reg, config.ServerConfig{}, testLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
