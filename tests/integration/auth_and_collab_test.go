package integration_test

import (
	"bytes"
	contextpkg "context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/server"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	signingSecret   = "integration-secret"
	accountSubject  = "user-abc"
	jsonContentType = "application/json"
)

type staticVerifier struct{}

func (staticVerifier) Verify(_ contextpkg.Context, _ string) (auth.ProviderClaims, error) {
	return auth.ProviderClaims{
		Subject: accountSubject,
		Email:   "ada@example.com",
		Name:    "Ada",
	}, nil
}

func TestAuthAndCollaborationFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&portfolio.Portfolio{}, &users.Identity{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	portfolioStore, err := portfolio.NewStore(portfolio.StoreConfig{
		Database:   db,
		IDProvider: portfolio.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build portfolio store: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "folio-auth",
		Audience:      "folio-api",
	})
	engine, err := collab.NewEngine(collab.EngineConfig{
		Store:            portfolioStore,
		AutosaveDebounce: 20 * time.Millisecond,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build engine: %v", err)
	}
	gateway, err := collab.NewGateway(collab.GatewayConfig{
		Engine:            engine,
		Tokens:            tokenManager,
		Identities:        usersService,
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build gateway: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:     staticVerifier{},
		TokenManager: tokenManager,
		Users:        usersService,
		Portfolios:   portfolioStore,
		Gateway:      gateway,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	accessToken := exchangeCredential(testContext, testServer)
	documentID := createPortfolio(testContext, testServer, accessToken, "Integration Portfolio")

	editor := dialAndJoin(testContext, testServer, accessToken, documentID)
	defer editor.Close()
	watcher := dialAndJoin(testContext, testServer, accessToken, documentID)
	defer watcher.Close()
	readEvent(testContext, editor, "member-joined")

	// Debounced autosave commits once and fans out to the peer.
	writeEvent(testContext, editor, "autosave", map[string]any{
		"documentId": documentID,
		"changes":    map[string]any{"layout": map[string]any{"template": "grid"}},
		"version":    1,
	})
	successData := readEvent(testContext, editor, "autosave-success")
	var success struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(successData, &success); err != nil {
		testContext.Fatalf("failed to decode autosave-success: %v", err)
	}
	if success.Version != 2 {
		testContext.Fatalf("expected committed version 2, got %d", success.Version)
	}
	readEvent(testContext, watcher, "document-autosaved")

	// A stale baseline surfaces as a version conflict carrying the committed document.
	writeEvent(testContext, watcher, "autosave", map[string]any{
		"documentId": documentID,
		"changes":    map[string]any{"theme": map[string]any{"palette": "dark"}},
		"version":    1,
	})
	conflictData := readEvent(testContext, watcher, "version-conflict")
	var conflict struct {
		CurrentVersion int64 `json:"currentVersion"`
		Document       struct {
			Version int64 `json:"version"`
		} `json:"document"`
	}
	if err := json.Unmarshal(conflictData, &conflict); err != nil {
		testContext.Fatalf("failed to decode version-conflict: %v", err)
	}
	if conflict.CurrentVersion != 2 || conflict.Document.Version != 2 {
		testContext.Fatalf("expected conflict against version 2, got %+v", conflict)
	}

	// Closing a connection announces the departure to the remaining member.
	if err := watcher.Close(); err != nil {
		testContext.Fatalf("failed to close watcher: %v", err)
	}
	readEvent(testContext, editor, "member-left")
}

func exchangeCredential(testContext *testing.T, testServer *httptest.Server) string {
	testContext.Helper()
	body, _ := json.Marshal(map[string]string{"credential": "provider-credential"})
	response, err := http.Post(testServer.URL+"/auth/token", jsonContentType, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("auth request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected auth status: %d", response.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode auth response: %v", err)
	}
	if payload.AccessToken == "" {
		testContext.Fatal("expected a backend access token")
	}
	return payload.AccessToken
}

func createPortfolio(testContext *testing.T, testServer *httptest.Server, accessToken, title string) string {
	testContext.Helper()
	body, _ := json.Marshal(map[string]string{"title": title})
	request, _ := http.NewRequest(http.MethodPost, testServer.URL+"/portfolios", bytes.NewReader(body))
	request.Header.Set("Content-Type", jsonContentType)
	request.Header.Set("Authorization", "Bearer "+accessToken)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("create request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected create status: %d", response.StatusCode)
	}
	var snapshot struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&snapshot); err != nil {
		testContext.Fatalf("failed to decode created portfolio: %v", err)
	}
	if snapshot.ID == "" {
		testContext.Fatal("expected a portfolio id")
	}
	return snapshot.ID
}

func dialAndJoin(testContext *testing.T, testServer *httptest.Server, accessToken, documentID string) *websocket.Conn {
	testContext.Helper()
	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + accessToken}}
	socket, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		testContext.Fatalf("websocket dial failed: %v", err)
	}
	writeEvent(testContext, socket, "join-document", map[string]any{"documentId": documentID})
	readEvent(testContext, socket, "document-state")
	return socket
}

func writeEvent(testContext *testing.T, socket *websocket.Conn, event string, payload map[string]any) {
	testContext.Helper()
	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(data)})
	if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
		testContext.Fatalf("failed to write %q frame: %v", event, err)
	}
}

func readEvent(testContext *testing.T, socket *websocket.Conn, expected string) json.RawMessage {
	testContext.Helper()
	if err := socket.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		testContext.Fatalf("failed to set read deadline: %v", err)
	}
	_, frame, err := socket.ReadMessage()
	if err != nil {
		testContext.Fatalf("failed to read frame while waiting for %q: %v", expected, err)
	}
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		testContext.Fatalf("failed to decode frame: %v", err)
	}
	if envelope.Event != expected {
		testContext.Fatalf("expected event %q, received %q with payload %s", expected, envelope.Event, envelope.Data)
	}
	return envelope.Data
}
