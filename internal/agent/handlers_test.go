package agent

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"closethopper/internal/config"
	"closethopper/internal/device"
	"closethopper/internal/license"
	"closethopper/internal/listing"
	"closethopper/internal/marketplace"
	"closethopper/internal/registry"
	transport "closethopper/internal/transport/http"
	"closethopper/pkg/contracts/licensing"
)

const licenseKey = "AB12-CD34-EF56-7890"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// HandlerSuite runs the local API against a real license service
// instance, the same wiring App uses minus the process lifecycle.
type HandlerSuite struct {
	suite.Suite
	registry      *registry.Registry
	licenseServer *httptest.Server
	local         *httptest.Server
	client        *license.Client
}

func (s *HandlerSuite) SetupTest() {
	var err error
	s.registry, err = registry.New("", testLogger())
	s.Require().NoError(err)
	s.registry.Put(registry.License{Key: licenseKey, Plan: "standard", Status: licensing.StatusActive})

	s.licenseServer = httptest.NewServer(transport.NewRouter(s.registry, config.ServerConfig{
		RateLimit: config.RateLimitConfig{Enabled: false},
	}, testLogger()))

	logger := testLogger()
	remote := license.NewHTTPRemote(s.licenseServer.URL+"/api", 5*time.Second, logger)
	identity := device.NewIdentity(s.T().TempDir(), logger)
	store := license.NewStore(s.T().TempDir(), logger)
	s.client = license.NewClient(remote, store, identity, 14*24*time.Hour, logger)
	gate := license.NewGate(s.client, logger)
	listings := listing.NewStore(s.T().TempDir(), logger)

	handler := NewHandler(s.client, gate, listings, marketplace.NewFieldScraper(), logger)
	s.local = httptest.NewServer(handler.Routes())
}

func (s *HandlerSuite) TearDownTest() {
	s.local.Close()
	s.licenseServer.Close()
}

func (s *HandlerSuite) postJSON(path string, payload interface{}) *http.Response {
	body, err := json.Marshal(payload)
	s.Require().NoError(err)
	resp, err := http.Post(s.local.URL+path, "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, out interface{}) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *HandlerSuite) activate() {
	resp := s.postJSON("/api/license/activate", ActivateLicenseRequest{Key: licenseKey})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestStatusUnlicensed() {
	resp, err := http.Get(s.local.URL + "/api/license/status")
	s.Require().NoError(err)

	var out LicenseStatusResponse
	s.decode(resp, &out)
	s.False(out.Licensed)
	s.Empty(out.LicenseKey)
}

func (s *HandlerSuite) TestActivateAndStatus() {
	s.activate()

	resp, err := http.Get(s.local.URL + "/api/license/status")
	s.Require().NoError(err)

	var out LicenseStatusResponse
	s.decode(resp, &out)
	s.True(out.Licensed)
	s.Equal("************7890", out.LicenseKey, "the key never leaves the daemon unmasked")
	s.False(out.CheckDue)
	s.False(out.NextCheckAt.IsZero())
}

func (s *HandlerSuite) TestActivateFailureCodes() {
	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantCode   string
	}{
		{"malformed key", "not-a-key", http.StatusBadRequest, licensing.CodeBadRequest},
		{"unknown key", "0000-0000-0000-0000", http.StatusNotFound, licensing.CodeInvalidKey},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.postJSON("/api/license/activate", ActivateLicenseRequest{Key: tt.key})
			s.Equal(tt.wantStatus, resp.StatusCode)

			var out ActivateLicenseResponse
			s.decode(resp, &out)
			s.False(out.Activated)
			s.Equal(tt.wantCode, out.Code)
			s.NotEmpty(out.Message, "the popup needs a human-readable message")
		})
	}
}

func (s *HandlerSuite) TestActivateSeatTaken() {
	// Another device holds the seat.
	_, err := s.registry.Activate(licenseKey, "3f79bb7b435b05321651daefd374cdc681dc06faa65e374e38337b88ca046dea")
	s.Require().NoError(err)

	resp := s.postJSON("/api/license/activate", ActivateLicenseRequest{Key: licenseKey})
	s.Equal(http.StatusForbidden, resp.StatusCode)

	var out ActivateLicenseResponse
	s.decode(resp, &out)
	s.Equal(licensing.CodeLicenseFull, out.Code)
}

func (s *HandlerSuite) TestListingsRequireLicense() {
	resp, err := http.Get(s.local.URL + "/api/listings/")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusForbidden, resp.StatusCode)

	s.activate()

	resp, err = http.Get(s.local.URL + "/api/listings/")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var items []*listing.Listing
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&items))
	s.Empty(items)
}

func (s *HandlerSuite) TestListingWorkflow() {
	s.activate()

	l := listing.Listing{
		SKU:         "EB-1",
		Title:       "Nike Running Shorts",
		Description: "Lightly worn.",
		Brand:       "nike",
		Size:        "small",
		Condition:   "like new",
		ListPrice:   1800,
		Images:      []string{"https://img.example.com/1.jpg"},
		Source:      listing.Source{Platform: "ebay", ID: "123456789"},
	}

	resp := s.postJSON("/api/listings/", l)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var saved listing.Listing
	s.decode(resp, &saved)
	s.Equal(listing.StatusDownloaded, saved.Status, "new listings start as downloaded")
	s.False(saved.DownloadedAt.IsZero())

	// The destination form applies the normalization tables.
	resp, err := http.Get(s.local.URL + "/api/listings/EB-1/form")
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var form listing.Form
	s.decode(resp, &form)
	s.Equal("Nike", form.Brand)
	s.Equal("S", form.Size)
	s.Equal("like_new", form.Condition)
	s.Equal(1800, form.Price)

	// Move it through the workflow.
	resp = s.postJSON("/api/listings/EB-1/status", UpdateListingStatusRequest{Status: listing.StatusListed})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var updated listing.Listing
	s.decode(resp, &updated)
	s.Equal(listing.StatusListed, updated.Status)

	// Illegal transition is rejected.
	resp = s.postJSON("/api/listings/EB-1/status", UpdateListingStatusRequest{Status: listing.StatusDownloaded})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Delete and confirm.
	req, err := http.NewRequest(http.MethodDelete, s.local.URL+"/api/listings/EB-1", nil)
	s.Require().NoError(err)
	delResp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	delResp.Body.Close()
	s.Equal(http.StatusNoContent, delResp.StatusCode)

	resp, err = http.Get(s.local.URL + "/api/listings/EB-1")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestImportListing() {
	s.activate()

	page := marketplace.Page{
		Platform: "ebay",
		URL:      "https://www.ebay.com/itm/123456789",
		Fields: map[string]string{
			"id":          "123456789",
			"title":       "Nike Running Shorts",
			"description": "Lightly worn.",
			"brand":       "Nike",
			"size":        "small",
			"condition":   "like new",
			"price":       "$18.00",
			"images":      "https://img.example.com/1.jpg, https://img.example.com/2.jpg",
			"category":    "Women's Clothing",
		},
	}

	resp := s.postJSON("/api/listings/import", page)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var imported listing.Listing
	s.decode(resp, &imported)
	s.Equal("EB-123456789", imported.SKU)
	s.Equal(1800, imported.ListPrice)
	s.Equal([]string{"Women", "Clothing"}, imported.CategoryGuess)
	s.Len(imported.Images, 2)
	s.Equal(listing.StatusDownloaded, imported.Status)

	// Importing the same item again overwrites the same SKU.
	resp = s.postJSON("/api/listings/import", page)
	s.Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(s.local.URL + "/api/listings/")
	s.Require().NoError(err)
	defer listResp.Body.Close()
	var items []*listing.Listing
	s.Require().NoError(json.NewDecoder(listResp.Body).Decode(&items))
	s.Len(items, 1)
}

func (s *HandlerSuite) TestImportListingBadPage() {
	s.activate()

	resp := s.postJSON("/api/listings/import", marketplace.Page{
		Platform: "ebay",
		Fields:   map[string]string{"title": "No id or price"},
	})
	resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestDeactivate() {
	s.activate()
	s.Require().True(s.client.IsLicensed())

	resp := s.postJSON("/api/license/deactivate", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	s.False(s.client.IsLicensed())

	// The seat is free again server-side.
	lic := s.registry.Get(licenseKey)
	s.Empty(lic.Activations)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}
