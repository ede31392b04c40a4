package server

import (
	"bytes"
	contextpkg "context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	githubsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type stubVerifier struct {
	claims auth.ProviderClaims
	err    error
}

func (s stubVerifier) Verify(_ contextpkg.Context, _ string) (auth.ProviderClaims, error) {
	return s.claims, s.err
}

type stubTokenManager struct {
	token       string
	issueErr    error
	claims      auth.Claims
	validateErr error
}

func (s stubTokenManager) IssueToken(_ contextpkg.Context, _ auth.ProviderClaims) (string, int64, error) {
	return s.token, 3600, s.issueErr
}

func (s stubTokenManager) ValidateToken(_ string) (auth.Claims, error) {
	return s.claims, s.validateErr
}

func newTestHandler(t *testing.T, tokens TokenManager, verifier CredentialVerifier) (http.Handler, *portfolio.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(githubsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&portfolio.Portfolio{}, &users.Identity{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := portfolio.NewStore(portfolio.StoreConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: portfolio.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Verifier:     verifier,
		TokenManager: tokens,
		Users:        usersService,
		Portfolios:   store,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler, store
}

func performRequest(handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestAuthTokenExchangesCredential(t *testing.T) {
	handler, _ := newTestHandler(t,
		stubTokenManager{token: "backend-token"},
		stubVerifier{claims: auth.ProviderClaims{Subject: "user-a", Email: "ada@example.com", Name: "Ada"}})

	recorder := performRequest(handler, http.MethodPost, "/auth/token", "",
		map[string]string{"credential": "provider-credential"})

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, body %s", recorder.Code, recorder.Body.String())
	}
	var response authResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.AccessToken != "backend-token" || response.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", response)
	}
}

func TestAuthTokenRejectsBadCredential(t *testing.T) {
	handler, _ := newTestHandler(t,
		stubTokenManager{token: "backend-token"},
		stubVerifier{err: errors.New("credential rejected")})

	recorder := performRequest(handler, http.MethodPost, "/auth/token", "",
		map[string]string{"credential": "forged"})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestAuthTokenRejectsEmptyPayload(t *testing.T) {
	handler, _ := newTestHandler(t, stubTokenManager{}, stubVerifier{})

	recorder := performRequest(handler, http.MethodPost, "/auth/token", "",
		map[string]string{"credential": "  "})

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestPortfolioRoutesRequireToken(t *testing.T) {
	handler, _ := newTestHandler(t,
		stubTokenManager{validateErr: auth.ErrInvalidToken},
		stubVerifier{})

	recorder := performRequest(handler, http.MethodGet, "/portfolios", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = performRequest(handler, http.MethodGet, "/portfolios", "bad-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with rejected token, got %d", recorder.Code)
	}
}

func TestCreateAndFetchPortfolio(t *testing.T) {
	handler, _ := newTestHandler(t,
		stubTokenManager{claims: auth.Claims{UserID: "user-a", DisplayName: "Ada"}},
		stubVerifier{})

	recorder := performRequest(handler, http.MethodPost, "/portfolios", "backend-token",
		map[string]string{"title": "My Portfolio"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected create status: got %d, body %s", recorder.Code, recorder.Body.String())
	}
	var created portfolio.Snapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created snapshot: %v", err)
	}
	if created.Version != 1 || created.OwnerID != "user-a" {
		t.Fatalf("unexpected snapshot: %+v", created)
	}

	recorder = performRequest(handler, http.MethodGet, "/portfolios/"+created.PortfolioID, "backend-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected get status: got %d", recorder.Code)
	}

	recorder = performRequest(handler, http.MethodGet, "/portfolios", "backend-token", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected list status: got %d", recorder.Code)
	}
	var listing struct {
		Portfolios []portfolio.Snapshot `json:"portfolios"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Portfolios) != 1 {
		t.Fatalf("expected one portfolio in listing, got %d", len(listing.Portfolios))
	}
}

func TestGetForeignPortfolioIsForbidden(t *testing.T) {
	handler, store := newTestHandler(t,
		stubTokenManager{claims: auth.Claims{UserID: "user-b"}},
		stubVerifier{})

	owner, err := portfolio.NewOwnerID("user-a")
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	created, err := store.Create(contextpkg.Background(), owner, "Private")
	if err != nil {
		t.Fatalf("failed to seed portfolio: %v", err)
	}

	recorder := performRequest(handler, http.MethodGet, "/portfolios/"+created.PortfolioID, "backend-token", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign portfolio, got %d", recorder.Code)
	}
}

func TestGetUnknownPortfolioIsNotFound(t *testing.T) {
	handler, _ := newTestHandler(t,
		stubTokenManager{claims: auth.Claims{UserID: "user-a"}},
		stubVerifier{})

	recorder := performRequest(handler, http.MethodGet, "/portfolios/missing", "backend-token", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, stubTokenManager{}, stubVerifier{})

	recorder := performRequest(handler, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
