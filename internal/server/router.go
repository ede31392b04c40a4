package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "folio_user_id"

var (
	errMissingVerifier       = errors.New("credential verifier dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingPortfolioStore = errors.New("portfolio store dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// CredentialVerifier resolves an external identity-provider credential.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (auth.ProviderClaims, error)
}

// TokenManager issues and validates the backend's own bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, identity auth.ProviderClaims) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
}

// ConnectionGateway upgrades and runs real-time collaboration connections.
// It performs its own admission because the credential may arrive via query
// parameter on the websocket handshake.
type ConnectionGateway interface {
	Handle(w http.ResponseWriter, r *http.Request)
}

type Dependencies struct {
	Verifier     CredentialVerifier
	TokenManager TokenManager
	Users        *users.Service
	Portfolios   *portfolio.Store
	Gateway      ConnectionGateway
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Portfolios == nil {
		return nil, errMissingPortfolioStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:   deps.Verifier,
		tokens:     deps.TokenManager,
		users:      deps.Users,
		portfolios: deps.Portfolios,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/token", handler.handleAuthToken)
	if deps.Gateway != nil {
		router.GET("/ws", gin.WrapF(deps.Gateway.Handle))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/portfolios", handler.handleListPortfolios)
	protected.POST("/portfolios", handler.handleCreatePortfolio)
	protected.GET("/portfolios/:id", handler.handleGetPortfolio)

	return router, nil
}

type httpHandler struct {
	verifier   CredentialVerifier
	tokens     TokenManager
	users      *users.Service
	portfolios *portfolio.Store
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type authRequestPayload struct {
	Credential string `json:"credential"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleAuthToken(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Credential) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.Credential)
	if err != nil {
		h.logger.Warn("credential verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.users.RecordLogin(c.Request.Context(), claims); err != nil {
		h.logger.Error("failed to record login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type createPortfolioPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreatePortfolio(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}

	var request createPortfolioPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	snapshot, err := h.portfolios.Create(c.Request.Context(), ownerID, strings.TrimSpace(request.Title))
	if err != nil {
		h.logger.Error("failed to create portfolio", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

func (h *httpHandler) handleListPortfolios(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}

	snapshots, err := h.portfolios.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list portfolios", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": snapshots})
}

func (h *httpHandler) handleGetPortfolio(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}

	portfolioID, err := portfolio.NewPortfolioID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	snapshot, err := h.portfolios.Get(c.Request.Context(), portfolioID)
	if errors.Is(err, portfolio.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load portfolio", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	if snapshot.OwnerID != ownerID.String() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) requireOwner(c *gin.Context) (portfolio.OwnerID, bool) {
	userID := c.GetString(userIDContextKey)
	ownerID, err := portfolio.NewOwnerID(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return portfolio.OwnerID(""), false
	}
	return ownerID, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine client churn, not a threat signal.
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}
