package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("collab: document store is required")

// EngineConfig bundles the collaboration engine's dependencies. All state is
// owned by the constructed engine; multiple independent instances can coexist.
type EngineConfig struct {
	Store            DocumentStore
	Clock            func() time.Time
	AutosaveDebounce time.Duration
	FlushTimeout     time.Duration
	Logger           *zap.Logger
}

// Engine is the collaboration core: room membership, presence, debounced
// optimistic autosave and change broadcast. Inbound frames for one
// connection are handled serially by that connection's reader, which is what
// preserves per-originator ordering.
type Engine struct {
	store    DocumentStore
	rooms    *Rooms
	relay    *Relay
	autosave *Coordinator
	clock    func() time.Time
	logger   *zap.Logger
}

// NewEngine validates configuration and constructs the engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rooms := NewRooms()
	relay := NewRelay(rooms, clock, logger)
	autosave := NewCoordinator(CoordinatorConfig{
		Store:        cfg.Store,
		Relay:        relay,
		Debounce:     cfg.AutosaveDebounce,
		FlushTimeout: cfg.FlushTimeout,
		Logger:       logger,
	})

	return &Engine{
		store:    cfg.Store,
		rooms:    rooms,
		relay:    relay,
		autosave: autosave,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Rooms exposes the membership index for presence queries and tests.
func (e *Engine) Rooms() *Rooms {
	return e.rooms
}

// Autosave exposes the coordinator for observability.
func (e *Engine) Autosave() *Coordinator {
	return e.autosave
}

// HandleMessage dispatches one inbound frame from an admitted connection.
func (e *Engine) HandleMessage(ctx context.Context, conn *Conn, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		conn.Send(EventError, ErrorPayload{Type: errorTypeBadRequest, Message: "malformed frame"})
		return
	}

	switch {
	case envelope.Event == EventJoinDocument:
		e.handleJoin(ctx, conn, envelope.Data)
	case envelope.Event == EventLeaveDocument:
		e.handleLeave(conn, envelope.Data)
	case envelope.Event == EventAutosave:
		e.handleAutosave(conn, envelope.Data)
	case envelope.Event == EventGetOnlineUsers:
		e.handleOnlineUsers(conn, envelope.Data)
	case envelope.Event == EventHeartbeat:
		conn.Send(EventHeartbeatAck, HeartbeatPayload{Timestamp: e.clock().UTC().UnixMilli()})
	case envelope.Event == EventHeartbeatAck:
		// Activity is stamped by the gateway on every inbound frame; an ack
		// carries no further meaning.
	case relayedInbound(envelope.Event):
		e.handleRelayOnly(conn, envelope.Event, envelope.Data)
	default:
		conn.Send(EventError, ErrorPayload{
			Type:    errorTypeBadRequest,
			Message: fmt.Sprintf("unknown event %q", envelope.Event),
		})
	}
}

// Join admits the connection into the document's room after verifying that
// its identity owns the document. A rejected join leaves no membership
// side effect.
func (e *Engine) Join(ctx context.Context, conn *Conn, rawDocumentID string) error {
	documentID, err := portfolio.NewPortfolioID(rawDocumentID)
	if err != nil {
		conn.Send(EventError, ErrorPayload{Type: errorTypeBadRequest, Message: "documentId is required"})
		return err
	}

	snapshot, err := e.store.Get(ctx, documentID)
	if errors.Is(err, portfolio.ErrNotFound) {
		conn.Send(EventError, ErrorPayload{Type: errorTypeNotFound, Message: "document not found"})
		return err
	}
	if err != nil {
		e.logger.Error("join document read failed",
			zap.String("document_id", documentID.String()),
			zap.String("conn_id", conn.ID),
			zap.Error(err))
		conn.Send(EventError, ErrorPayload{Type: errorTypePersistence, Message: "failed to load document"})
		return err
	}
	if snapshot.OwnerID != conn.Identity.UserID {
		conn.Send(EventError, ErrorPayload{Type: errorTypeAccessDenied, Message: "you do not own this document"})
		return portfolio.ErrAccessDenied
	}

	e.rooms.add(documentID.String(), conn)
	conn.trackRoom(documentID.String())

	conn.Send(EventDocumentState, DocumentStatePayload{Document: snapshot})

	joined := map[string]any{}
	if conn.Identity.Avatar != "" {
		joined["avatar"] = conn.Identity.Avatar
	}
	e.relay.Broadcast(documentID.String(), conn, EventMemberJoined, joined)

	e.logger.Info("connection joined document",
		zap.String("document_id", documentID.String()),
		zap.String("conn_id", conn.ID),
		zap.String("user_id", conn.Identity.UserID))
	return nil
}

// Leave removes the connection from the room. Idempotent: leaving a room the
// connection is not a member of is a no-op and emits nothing.
func (e *Engine) Leave(conn *Conn, documentID string) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return
	}
	wasMember := e.rooms.remove(documentID, conn.ID)
	conn.untrackRoom(documentID)
	if !wasMember {
		return
	}
	e.relay.Broadcast(documentID, conn, EventMemberLeft, map[string]any{})
}

// Disconnect tears down everything the connection owned: every pending
// autosave is canceled (unflushed changes discarded) and exactly one
// member-left is emitted per room it had joined. Cleanup is best-effort and
// never disturbs other connections.
func (e *Engine) Disconnect(conn *Conn) {
	e.autosave.CancelAll(conn.ID)
	for _, documentID := range conn.joinedRooms() {
		e.Leave(conn, documentID)
	}
	conn.Close()
}

func (e *Engine) handleJoin(ctx context.Context, conn *Conn, data json.RawMessage) {
	var payload JoinDocumentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		conn.Send(EventError, ErrorPayload{Type: errorTypeBadRequest, Message: "malformed join-document payload"})
		return
	}
	_ = e.Join(ctx, conn, payload.DocumentID)
}

func (e *Engine) handleLeave(conn *Conn, data json.RawMessage) {
	var payload LeaveDocumentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		conn.Send(EventError, ErrorPayload{Type: errorTypeBadRequest, Message: "malformed leave-document payload"})
		return
	}
	e.Leave(conn, payload.DocumentID)
}

func (e *Engine) handleAutosave(conn *Conn, data json.RawMessage) {
	var payload AutosavePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		conn.Send(EventAutosaveError, ErrorPayload{Type: errorTypeBadRequest, Message: "malformed autosave payload"})
		return
	}
	e.autosave.Buffer(conn, payload.DocumentID, payload.Changes, payload.Version)
}
