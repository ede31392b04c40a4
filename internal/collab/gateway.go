package collab

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	errMissingEngine         = errors.New("collab: engine is required")
	errMissingTokenValidator = errors.New("collab: token validator is required")
)

// TokenValidator resolves a bearer credential to verified claims. The
// identity verifier itself is external; this is its consumption boundary.
type TokenValidator interface {
	ValidateToken(token string) (auth.Claims, error)
}

// IdentityDirectory looks up the stored profile for a verified user id.
type IdentityDirectory interface {
	Get(ctx context.Context, userID string) (users.Identity, error)
}

// GatewayConfig bundles the connection gateway's dependencies.
type GatewayConfig struct {
	Engine            *Engine
	Tokens            TokenValidator
	Identities        IdentityDirectory
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
	CheckOrigin       func(r *http.Request) bool
}

// Gateway accepts real-time connections, authenticates them before any room
// interaction is possible, and runs their transport pumps. Each admitted
// connection gets a single reader goroutine, so its inbound frames are
// handled in submission order.
type Gateway struct {
	engine   *Engine
	tokens   TokenValidator
	identity IdentityDirectory
	liveness *LivenessMonitor
	clock    func() time.Time
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewGateway validates configuration and constructs the gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Gateway{
		engine:   cfg.Engine,
		tokens:   cfg.Tokens,
		identity: cfg.Identities,
		liveness: NewLivenessMonitor(cfg.HeartbeatInterval, clock),
		clock:    clock,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}, nil
}

// Handle admits one connection: the bearer credential is verified before the
// websocket upgrade, so an unauthenticated client never reaches a room.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	identity, authErr := g.admit(r)
	if authErr != nil {
		g.logger.Warn("connection rejected",
			zap.String("reason", string(authErr.Reason)),
			zap.Error(authErr))
		http.Error(w, string(authErr.Reason), http.StatusUnauthorized)
		return
	}

	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn, err := newConn(identity, g.clock().UTC(), g.stampActivity)
	if err != nil {
		g.logger.Error("failed to construct connection", zap.Error(err))
		_ = socket.Close()
		return
	}

	g.logger.Info("connection admitted",
		zap.String("conn_id", conn.ID),
		zap.String("user_id", identity.UserID))

	go g.writePump(conn, socket)
	go g.readPump(conn, socket)
	g.liveness.Watch(conn)
}

// admit extracts the bearer credential from the handshake and resolves it to
// an identity. Fails with AuthError on an absent, invalid or unresolvable
// credential.
func (g *Gateway) admit(r *http.Request) (Identity, *AuthError) {
	credential := bearerCredential(r)
	if credential == "" {
		return Identity{}, &AuthError{Reason: AuthReasonMissingCredential}
	}

	claims, err := g.tokens.ValidateToken(credential)
	if err != nil {
		return Identity{}, &AuthError{Reason: AuthReasonInvalidCredential, Err: err}
	}

	identity := Identity{
		UserID:   claims.UserID,
		Username: claims.DisplayName,
		Avatar:   claims.AvatarURL,
	}
	if g.identity != nil {
		stored, err := g.identity.Get(r.Context(), claims.UserID)
		if err != nil {
			return Identity{}, &AuthError{Reason: AuthReasonIdentityNotFound, Err: err}
		}
		if stored.DisplayName != "" {
			identity.Username = stored.DisplayName
		}
		if stored.AvatarURL != "" {
			identity.Avatar = stored.AvatarURL
		}
	}
	return identity, nil
}

// stampActivity is the outbound interceptor: every queued frame refreshes
// the connection's last-activity timestamp.
func (g *Gateway) stampActivity(conn *Conn, _ EventType) {
	conn.Touch(g.clock().UTC())
}

func (g *Gateway) readPump(conn *Conn, socket *websocket.Conn) {
	defer func() {
		g.engine.Disconnect(conn)
		_ = socket.Close()
		g.logger.Info("connection closed", zap.String("conn_id", conn.ID))
	}()

	_ = socket.SetReadDeadline(g.clock().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		conn.Touch(g.clock().UTC())
		return socket.SetReadDeadline(g.clock().Add(pongWait))
	})

	ctx := context.Background()
	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			return
		}
		conn.Touch(g.clock().UTC())
		g.engine.HandleMessage(ctx, conn, raw)
	}
}

func (g *Gateway) writePump(conn *Conn, socket *websocket.Conn) {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		_ = socket.Close()
	}()

	for {
		select {
		case frame := <-conn.outbound:
			_ = socket.SetWriteDeadline(g.clock().Add(writeWait))
			if err := socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.Close()
				return
			}
		case <-conn.closed:
			_ = socket.SetWriteDeadline(g.clock().Add(writeWait))
			_ = socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-pingTicker.C:
			_ = socket.SetWriteDeadline(g.clock().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func bearerCredential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
